package api

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

//
// Helpers
//

// testObserver counts callbacks to verify fan-out behavior.
type testObserver struct {
	mu sync.Mutex

	workflow   int
	tasks      int
	dispatched int
	errors     int

	lastTo Status
}

func (o *testObserver) OnWorkflowStatus(ctx context.Context, id string, from, to Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.workflow++
	o.lastTo = to
}

func (o *testObserver) OnTaskStatus(ctx context.Context, id, taskID string, from, to Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tasks++
}

func (o *testObserver) OnTaskDispatched(ctx context.Context, id string, dispatch TaskDispatch) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatched++
}

func (o *testObserver) OnError(ctx context.Context, id string, entry LogEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors++
}

// recordingHandler is a minimal slog.Handler that just records log records.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// Not needed for tests; just return itself.
	return h
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	// Not needed for tests.
	return h
}

func attrsToMap(r slog.Record) map[string]any {
	m := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value.Any()
		return true
	})
	return m
}

func emitAll(o Observer) {
	ctx := context.Background()
	o.OnWorkflowStatus(ctx, "wf-1", StatusRunning, StatusSucceeded)
	o.OnTaskStatus(ctx, "wf-1", "task1", StatusRunning, StatusSucceeded)
	o.OnTaskDispatched(ctx, "wf-1", TaskDispatch{ID: "task1", Actions: []ActionRequest{{Action: "core.echo"}}})
	o.OnError(ctx, "wf-1", LogEntry{Type: LogError, Message: "boom", TaskID: "task1"})
}

//
// NoopObserver / CompositeObserver
//

func TestNoopObserver_DoesNotPanic(t *testing.T) {
	emitAll(NoopObserver{})
}

func TestNewCompositeObserver_EmptyReturnsNoop(t *testing.T) {
	o := NewCompositeObserver()
	if _, ok := o.(NoopObserver); !ok {
		t.Fatalf("expected NoopObserver, got %T", o)
	}
	if _, ok := NewCompositeObserver(nil, nil).(NoopObserver); !ok {
		t.Fatal("expected nil observers to be dropped")
	}
}

func TestNewCompositeObserver_SingleReturnsThatObserver(t *testing.T) {
	single := &testObserver{}
	if got := NewCompositeObserver(nil, single); got != Observer(single) {
		t.Fatalf("expected the single observer back, got %T", got)
	}
}

func TestCompositeObserver_ForwardsAllEvents(t *testing.T) {
	a, b := &testObserver{}, &testObserver{}
	o := NewCompositeObserver(a, b)
	if _, ok := o.(*CompositeObserver); !ok {
		t.Fatalf("expected *CompositeObserver, got %T", o)
	}

	emitAll(o)

	for i, obs := range []*testObserver{a, b} {
		if obs.workflow != 1 || obs.tasks != 1 || obs.dispatched != 1 || obs.errors != 1 {
			t.Fatalf("observer %d missed events: %+v", i, obs)
		}
		if obs.lastTo != StatusSucceeded {
			t.Fatalf("observer %d lastTo = %s", i, obs.lastTo)
		}
	}
}

//
// LoggingObserver
//

func TestNewLoggingObserver_NilLoggerUsesDefault(t *testing.T) {
	o := NewLoggingObserver(nil)
	lo, ok := o.(*LoggingObserver)
	if !ok {
		t.Fatalf("expected *LoggingObserver, got %T", o)
	}
	if lo.Logger == nil {
		t.Fatalf("expected non-nil Logger when created with nil")
	}
}

func TestLoggingObserver_WorkflowStatusLevels(t *testing.T) {
	ctx := context.Background()
	h := &recordingHandler{}
	o := NewLoggingObserver(slog.New(h))

	o.OnWorkflowStatus(ctx, "wf-1", StatusUnset, StatusRunning)
	o.OnWorkflowStatus(ctx, "wf-1", StatusRunning, StatusFailed)

	if len(h.records) != 2 {
		t.Fatalf("expected 2 log records, got %d", len(h.records))
	}
	first, second := h.records[0], h.records[1]
	if first.Level != slog.LevelInfo || first.Message != "workflow_status_changed" {
		t.Fatalf("unexpected first record: %v %q", first.Level, first.Message)
	}
	if second.Level != slog.LevelError {
		t.Fatalf("expected failure to log at error level, got %v", second.Level)
	}

	attrs := attrsToMap(first)
	if attrs["conductor_id"] != "wf-1" || attrs["from"] != "unset" || attrs["to"] != "running" {
		t.Fatalf("unexpected attrs: %v", attrs)
	}
}

func TestLoggingObserver_ErrorRecord(t *testing.T) {
	h := &recordingHandler{}
	o := NewLoggingObserver(slog.New(h))

	o.OnError(context.Background(), "wf-1", LogEntry{Message: "bad expression", TaskID: "t1", TaskTransitionID: "t2__0"})

	rec := h.records[0]
	if rec.Level != slog.LevelError || rec.Message != "workflow_error" {
		t.Fatalf("unexpected record: %v %q", rec.Level, rec.Message)
	}
	attrs := attrsToMap(rec)
	if attrs["task"] != "t1" || attrs["transition"] != "t2__0" || attrs["message"] != "bad expression" {
		t.Fatalf("unexpected attrs: %v", attrs)
	}
}

//
// BasicMetrics
//

func TestBasicMetrics_CountersAndSnapshot(t *testing.T) {
	ctx := context.Background()
	m := &BasicMetrics{}

	m.OnWorkflowStatus(ctx, "a", StatusRunning, StatusSucceeded)
	m.OnWorkflowStatus(ctx, "b", StatusRunning, StatusFailed)
	m.OnWorkflowStatus(ctx, "c", StatusCanceling, StatusCanceled)
	m.OnWorkflowStatus(ctx, "d", StatusUnset, StatusRunning)
	m.OnTaskStatus(ctx, "a", "t", StatusRunning, StatusSucceeded)
	m.OnTaskStatus(ctx, "a", "t", StatusUnset, StatusRunning)
	m.OnTaskDispatched(ctx, "a", TaskDispatch{ID: "t"})
	m.OnError(ctx, "b", LogEntry{Message: "x"})

	got := m.Snapshot()
	want := BasicMetricsSnapshot{
		WorkflowsSucceeded: 1,
		WorkflowsFailed:    1,
		WorkflowsCanceled:  1,
		TasksCompleted:     1,
		TasksDispatched:    1,
		Errors:             1,
	}
	if got != want {
		t.Fatalf("snapshot = %+v, want %+v", got, want)
	}
}

//
// TracingObserver
//

func TestTracingObserver_AddsSpanEvents(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "drive")
	o := NewTracingObserver()
	o.OnWorkflowStatus(ctx, "wf-1", StatusUnset, StatusRunning)
	o.OnTaskDispatched(ctx, "wf-1", TaskDispatch{ID: "task1"})
	o.OnTaskStatus(ctx, "wf-1", "task1", StatusRunning, StatusSucceeded)
	o.OnError(ctx, "wf-1", LogEntry{Message: "boom"})
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	var names []string
	for _, ev := range ended[0].Events() {
		names = append(names, ev.Name)
	}
	want := []string{"workflow.status", "task.dispatched", "task.status", "workflow.error"}
	if len(names) != len(want) {
		t.Fatalf("events = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("events = %v, want %v", names, want)
		}
	}
}

func TestTracingObserver_NoSpanIsNoop(t *testing.T) {
	emitAll(NewTracingObserver())
}

//
// PrometheusObserver
//

func TestPrometheusObserver_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewPrometheusObserver(reg)
	if err != nil {
		t.Fatalf("NewPrometheusObserver: %v", err)
	}

	emitAll(o)
	o.OnWorkflowStatus(context.Background(), "wf-2", StatusRunning, StatusSucceeded)

	if got := testutil.ToFloat64(o.workflowStatus.WithLabelValues("succeeded")); got != 2 {
		t.Fatalf("succeeded transitions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(o.dispatched); got != 1 {
		t.Fatalf("dispatched = %v, want 1", got)
	}
	if got := testutil.ToFloat64(o.errors); got != 1 {
		t.Fatalf("errors = %v, want 1", got)
	}
}

func TestPrometheusObserver_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusObserver(reg)
	if err != nil {
		t.Fatalf("first NewPrometheusObserver: %v", err)
	}
	second, err := NewPrometheusObserver(reg)
	if err != nil {
		t.Fatalf("second NewPrometheusObserver: %v", err)
	}

	first.OnTaskDispatched(context.Background(), "wf", TaskDispatch{})
	second.OnTaskDispatched(context.Background(), "wf", TaskDispatch{})

	if got := testutil.ToFloat64(first.dispatched); got != 2 {
		t.Fatalf("shared counter = %v, want 2", got)
	}
}
