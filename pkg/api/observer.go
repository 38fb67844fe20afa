package api

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Observer receives callbacks from the conductor for logging and metrics.
//
// Callbacks run inline with conductor calls; implementations should be fast
// and non-blocking.
type Observer interface {
	// OnWorkflowStatus is called when the workflow status changes.
	OnWorkflowStatus(ctx context.Context, conductorID string, from, to Status)

	// OnTaskStatus is called when a task's current attempt changes status.
	OnTaskStatus(ctx context.Context, conductorID, taskID string, from, to Status)

	// OnTaskDispatched is called for every task returned by GetNextTasks.
	OnTaskDispatched(ctx context.Context, conductorID string, dispatch TaskDispatch)

	// OnError is called for every workflow-data error appended to the log.
	OnError(ctx context.Context, conductorID string, entry LogEntry)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnWorkflowStatus(ctx context.Context, id string, from, to Status)          {}
func (NoopObserver) OnTaskStatus(ctx context.Context, id, taskID string, from, to Status)     {}
func (NoopObserver) OnTaskDispatched(ctx context.Context, id string, dispatch TaskDispatch) {}
func (NoopObserver) OnError(ctx context.Context, id string, entry LogEntry)                  {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnWorkflowStatus(ctx context.Context, id string, from, to Status) {
	for _, o := range c.observers {
		o.OnWorkflowStatus(ctx, id, from, to)
	}
}

func (c *CompositeObserver) OnTaskStatus(ctx context.Context, id, taskID string, from, to Status) {
	for _, o := range c.observers {
		o.OnTaskStatus(ctx, id, taskID, from, to)
	}
}

func (c *CompositeObserver) OnTaskDispatched(ctx context.Context, id string, dispatch TaskDispatch) {
	for _, o := range c.observers {
		o.OnTaskDispatched(ctx, id, dispatch)
	}
}

func (c *CompositeObserver) OnError(ctx context.Context, id string, entry LogEntry) {
	for _, o := range c.observers {
		o.OnError(ctx, id, entry)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs conductor lifecycle events
// using the provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnWorkflowStatus(ctx context.Context, id string, from, to Status) {
	level := slog.LevelInfo
	if to == StatusFailed {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "workflow_status_changed",
		slog.String("conductor_id", id),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
}

func (o *LoggingObserver) OnTaskStatus(ctx context.Context, id, taskID string, from, to Status) {
	o.Logger.DebugContext(ctx, "task_status_changed",
		slog.String("conductor_id", id),
		slog.String("task", taskID),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
}

func (o *LoggingObserver) OnTaskDispatched(ctx context.Context, id string, dispatch TaskDispatch) {
	o.Logger.DebugContext(ctx, "task_dispatched",
		slog.String("conductor_id", id),
		slog.String("task", dispatch.ID),
		slog.Int("actions", len(dispatch.Actions)),
		slog.Duration("delay", dispatch.Delay),
	)
}

func (o *LoggingObserver) OnError(ctx context.Context, id string, entry LogEntry) {
	o.Logger.ErrorContext(ctx, "workflow_error",
		slog.String("conductor_id", id),
		slog.String("task", entry.TaskID),
		slog.String("transition", entry.TaskTransitionID),
		slog.String("message", entry.Message),
	)
}

// BasicMetrics collects simple counters. It implements Observer, and can be
// combined with LoggingObserver via NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	workflowsSucceeded atomic.Int64
	workflowsFailed    atomic.Int64
	workflowsCanceled  atomic.Int64
	tasksCompleted     atomic.Int64
	tasksDispatched    atomic.Int64
	errors             atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	WorkflowsSucceeded int64
	WorkflowsFailed    int64
	WorkflowsCanceled  int64
	TasksCompleted     int64
	TasksDispatched    int64
	Errors             int64
}

func (m *BasicMetrics) OnWorkflowStatus(ctx context.Context, id string, from, to Status) {
	switch to {
	case StatusSucceeded:
		m.workflowsSucceeded.Add(1)
	case StatusFailed:
		m.workflowsFailed.Add(1)
	case StatusCanceled:
		m.workflowsCanceled.Add(1)
	}
}

func (m *BasicMetrics) OnTaskStatus(ctx context.Context, id, taskID string, from, to Status) {
	if to.IsCompleted() {
		m.tasksCompleted.Add(1)
	}
}

func (m *BasicMetrics) OnTaskDispatched(ctx context.Context, id string, dispatch TaskDispatch) {
	m.tasksDispatched.Add(1)
}

func (m *BasicMetrics) OnError(ctx context.Context, id string, entry LogEntry) {
	m.errors.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	return BasicMetricsSnapshot{
		WorkflowsSucceeded: m.workflowsSucceeded.Load(),
		WorkflowsFailed:    m.workflowsFailed.Load(),
		WorkflowsCanceled:  m.workflowsCanceled.Load(),
		TasksCompleted:     m.tasksCompleted.Load(),
		TasksDispatched:    m.tasksDispatched.Load(),
		Errors:             m.errors.Load(),
	}
}
