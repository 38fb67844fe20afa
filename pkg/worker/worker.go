package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrijr/conductor/internal/taskqueue"
	"github.com/petrijr/conductor/pkg/api"
)

// ErrUnknownAction is wrapped in the result of requests naming an action
// that is not registered.
var ErrUnknownAction = errors.New("unknown action")

// Completion is the outcome of one action request.
type Completion struct {
	Task  taskqueue.Task
	Event *api.ActionExecutionEvent
}

// Reporter receives completions. Report is called from worker goroutines.
type Reporter interface {
	Report(ctx context.Context, c Completion) error
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(ctx context.Context, c Completion) error

func (f ReporterFunc) Report(ctx context.Context, c Completion) error { return f(ctx, c) }

// Config controls worker behaviour.
type Config struct {
	// ActionTimeout bounds every action run. Zero means no timeout.
	ActionTimeout time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Worker pulls action requests from a Queue and executes them.
type Worker struct {
	actions  *Registry
	queue    taskqueue.Queue
	reporter Reporter
	cfg      Config
	logger   *slog.Logger
}

// New creates a new Worker with default config.
func New(actions *Registry, queue taskqueue.Queue, reporter Reporter) *Worker {
	return NewWithConfig(actions, queue, reporter, Config{})
}

// NewWithConfig creates a new Worker with the given config.
func NewWithConfig(actions *Registry, queue taskqueue.Queue, reporter Reporter, cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		actions:  actions,
		queue:    queue,
		reporter: reporter,
		cfg:      cfg,
		logger:   logger,
	}
}

// ProcessOne pulls a single request from the queue, runs it and reports the
// outcome. Returns (processed, error):
//   - processed == false: no request was obtained; err is the dequeue error
//     (typically ctx cancellation).
//   - processed == true: a request was taken; err is a reporting failure.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	ev := w.execute(ctx, task)
	if ev == nil {
		return true, ctx.Err()
	}
	if err := w.reporter.Report(ctx, Completion{Task: *task, Event: ev}); err != nil {
		return true, fmt.Errorf("report %s/%s: %w", task.ConductorID, task.TaskID, err)
	}
	return true, nil
}

// Run calls ProcessOne until ctx is cancelled. Reporting errors are logged
// and do not stop the loop.
func (w *Worker) Run(ctx context.Context) error {
	for {
		processed, err := w.ProcessOne(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !processed {
				return err
			}
			w.logger.ErrorContext(ctx, "worker_report_failed", slog.String("error", err.Error()))
		}
	}
}

// execute runs the action of task and builds the completion event. It
// returns nil when ctx was cancelled while the action ran.
func (w *Worker) execute(ctx context.Context, task *taskqueue.Task) *api.ActionExecutionEvent {
	fn, ok := w.actions.Lookup(task.Action)
	if !ok {
		return w.event(task, api.StatusFailed, errorResult(fmt.Errorf("%w: %s", ErrUnknownAction, task.Action)))
	}

	runCtx := ctx
	if w.cfg.ActionTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.ActionTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := safeCall(runCtx, fn, task.Input)
	w.logger.DebugContext(ctx, "action_finished",
		slog.String("conductor_id", task.ConductorID),
		slog.String("task_id", task.TaskID),
		slog.String("action", task.Action),
		slog.Duration("duration", time.Since(start)),
	)

	switch {
	case ctx.Err() != nil:
		return nil
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return w.event(task, api.StatusExpired, errorResult(fmt.Errorf("action %s timed out after %s", task.Action, w.cfg.ActionTimeout)))
	case err != nil:
		return w.event(task, api.StatusFailed, errorResult(err))
	}
	return w.event(task, api.StatusSucceeded, result)
}

func (w *Worker) event(task *taskqueue.Task, status api.Status, result any) *api.ActionExecutionEvent {
	ev := &api.ActionExecutionEvent{Status: status, Result: result}
	if task.ItemID != nil {
		ev.Context = &api.ActionContext{ItemID: *task.ItemID}
	}
	return ev
}

// safeCall runs fn and turns a panic into an error.
func safeCall(ctx context.Context, fn ActionFunc, input any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return fn(ctx, input)
}

func errorResult(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}
