package api

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TracingObserver records conductor lifecycle events as events on the span
// found in the callback context. Calls without a recording span are no-ops.
type TracingObserver struct {
	NoopObserver
}

// NewTracingObserver returns an Observer that annotates the active span.
func NewTracingObserver() Observer {
	return &TracingObserver{}
}

func (o *TracingObserver) OnWorkflowStatus(ctx context.Context, id string, from, to Status) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent("workflow.status", trace.WithAttributes(
		attribute.String("conductor.id", id),
		attribute.String("workflow.status.from", from.String()),
		attribute.String("workflow.status.to", to.String()),
	))
}

func (o *TracingObserver) OnTaskStatus(ctx context.Context, id, taskID string, from, to Status) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent("task.status", trace.WithAttributes(
		attribute.String("conductor.id", id),
		attribute.String("task.id", taskID),
		attribute.String("task.status.from", from.String()),
		attribute.String("task.status.to", to.String()),
	))
}

func (o *TracingObserver) OnTaskDispatched(ctx context.Context, id string, dispatch TaskDispatch) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent("task.dispatched", trace.WithAttributes(
		attribute.String("conductor.id", id),
		attribute.String("task.id", dispatch.ID),
		attribute.Int("task.actions", len(dispatch.Actions)),
	))
}

func (o *TracingObserver) OnError(ctx context.Context, id string, entry LogEntry) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent("workflow.error", trace.WithAttributes(
		attribute.String("conductor.id", id),
		attribute.String("task.id", entry.TaskID),
		attribute.String("error.message", entry.Message),
	))
}
