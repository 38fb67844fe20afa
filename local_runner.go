package conductor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/petrijr/conductor/internal/taskqueue"
	"github.com/petrijr/conductor/pkg/api"
	"github.com/petrijr/conductor/pkg/worker"
)

// ActionFunc implements a workflow action. input is the rendered action
// input; the returned value becomes the task (or item) result.
type ActionFunc = worker.ActionFunc

var (
	// ErrAlreadyRunning is returned by Start when the runner already drives
	// a conductor with the same id.
	ErrAlreadyRunning = errors.New("conductor is already running")

	// ErrExecutionFinished is returned by Execution.Request after the run
	// ended.
	ErrExecutionFinished = errors.New("execution finished")

	// ErrRunnerClosed is returned by Start after Close.
	ErrRunnerClosed = errors.New("runner closed")
)

const defaultLeaseTTL = 30 * time.Second

// RunnerConfig controls a LocalRunner.
type RunnerConfig struct {
	// Workers is the number of goroutines executing actions. Defaults to 1.
	Workers int

	// ActionTimeout bounds every action run. Actions running longer are
	// reported as expired. Zero means no timeout.
	ActionTimeout time.Duration

	// Queue defaults to an in-memory queue.
	Queue Queue

	// Store, when set, receives a snapshot after every applied event. The
	// runner holds the store lease of each conductor it drives.
	Store Store
	// Owner identifies this runner in store leases. Defaults to a random
	// UUID.
	Owner string
	// LeaseTTL defaults to 30s. Leases are renewed every LeaseTTL/3.
	LeaseTTL time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// LocalRunner is an in-process driver. It dispatches the runnable tasks of
// each conductor into a queue, executes the registered actions on a pool of
// workers and reports their outcome back until the workflow stops.
//
// Typical usage:
//
//	runner := conductor.NewLocalRunner(conductor.RunnerConfig{Workers: 4})
//	defer runner.Close()
//	runner.MustRegister("core.echo", echo)
//
//	status, err := runner.Run(ctx, c)
//
// Workers start with the first run and keep running until Close.
type LocalRunner struct {
	cfg     RunnerConfig
	actions *worker.Registry
	queue   Queue
	logger  *slog.Logger
	tracer  trace.Tracer

	mu         sync.Mutex
	executions map[string]*Execution
	stop       context.CancelFunc
	group      *errgroup.Group
	closed     bool
}

// NewLocalRunner creates a runner. No goroutines are started until the first
// call to Start or Run.
func NewLocalRunner(cfg RunnerConfig) *LocalRunner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Owner == "" {
		cfg.Owner = uuid.NewString()
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queue := cfg.Queue
	if queue == nil {
		queue = taskqueue.NewInMemoryQueue()
	}
	return &LocalRunner{
		cfg:        cfg,
		actions:    worker.NewRegistry(),
		queue:      queue,
		logger:     logger,
		tracer:     otel.Tracer("github.com/petrijr/conductor"),
		executions: make(map[string]*Execution),
	}
}

// Register adds an action implementation.
func (r *LocalRunner) Register(name string, fn ActionFunc) error {
	return r.actions.Register(name, fn)
}

// MustRegister is like Register but panics on error.
func (r *LocalRunner) MustRegister(name string, fn ActionFunc) {
	r.actions.MustRegister(name, fn)
}

// Run drives c until its workflow completes, pauses or gets stuck, and
// returns the final workflow status.
func (r *LocalRunner) Run(ctx context.Context, c *Conductor) (Status, error) {
	e, err := r.Start(ctx, c)
	if err != nil {
		return c.WorkflowStatus(), err
	}
	return e.Wait()
}

// Start begins driving c and returns immediately. A conductor that was
// never started is requested to run; a paused one is requested to resume.
//
// Cancelling ctx abandons the run: Wait returns the context error and late
// action results are dropped.
func (r *LocalRunner) Start(ctx context.Context, c *Conductor) (*Execution, error) {
	if err := r.ensureWorkers(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	runCtx, span := r.tracer.Start(runCtx, "conductor.run",
		trace.WithAttributes(attribute.String("conductor.id", c.ID())))
	e := &Execution{
		r:        r,
		c:        c,
		ctx:      runCtx,
		cancel:   cancel,
		span:     span,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	if err := r.track(e); err != nil {
		e.abort(err)
		return nil, err
	}
	if err := e.acquire(); err != nil {
		r.forget(c.ID())
		e.abort(err)
		return nil, err
	}

	r.logger.InfoContext(runCtx, "run_started",
		slog.String("conductor_id", c.ID()),
		slog.String("status", c.WorkflowStatus().String()),
	)

	e.mu.Lock()
	err := e.begin()
	if err == nil {
		err = e.advance()
	}
	e.mu.Unlock()
	if err != nil {
		e.fail(err)
	}

	go e.supervise()
	return e, nil
}

// Close stops the workers and waits for them to exit. Runs still in
// progress stop receiving action results.
func (r *LocalRunner) Close() error {
	r.mu.Lock()
	r.closed = true
	stop, group := r.stop, r.group
	r.stop, r.group = nil, nil
	r.mu.Unlock()

	if stop == nil {
		return nil
	}
	stop()
	return group.Wait()
}

func (r *LocalRunner) ensureWorkers() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRunnerClosed
	}
	if r.group != nil {
		return nil
	}

	ctx, stop := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	w := worker.NewWithConfig(r.actions, r.queue, worker.ReporterFunc(r.report), worker.Config{
		ActionTimeout: r.cfg.ActionTimeout,
		Logger:        r.logger,
	})
	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error {
			if err := w.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	r.stop, r.group = stop, g
	return nil
}

func (r *LocalRunner) track(e *Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := e.c.ID()
	if _, ok := r.executions[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	r.executions[id] = e
	return nil
}

func (r *LocalRunner) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.executions, id)
}

// report routes a worker completion to the execution that dispatched it.
func (r *LocalRunner) report(ctx context.Context, comp worker.Completion) error {
	r.mu.Lock()
	e := r.executions[comp.Task.ConductorID]
	r.mu.Unlock()

	if e == nil {
		r.logger.DebugContext(ctx, "completion_dropped",
			slog.String("conductor_id", comp.Task.ConductorID),
			slog.String("task_id", comp.Task.TaskID),
		)
		return nil
	}
	return e.apply(comp)
}

// Execution is one run of a conductor on a LocalRunner.
type Execution struct {
	r      *LocalRunner
	c      *Conductor
	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span

	mu          sync.Mutex
	outstanding int
	stopped     bool
	err         error
	doneOnce    sync.Once
	done        chan struct{}

	finished chan struct{}
	status   Status
}

// Conductor returns the driven conductor. It must not be used before Wait
// returns.
func (e *Execution) Conductor() *Conductor { return e.c }

// Status returns the current workflow status.
func (e *Execution) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.c.WorkflowStatus()
}

// Request forwards a workflow status request (pausing, resuming, canceling)
// to the conductor and dispatches whatever became runnable.
func (e *Execution) Request(ctx context.Context, status Status) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrExecutionFinished
	}
	if err := e.c.RequestWorkflowStatus(ctx, status); err != nil {
		return err
	}
	if err := e.advance(); err != nil {
		e.failLocked(err)
		return err
	}
	return nil
}

// Wait blocks until the run ends and returns the final workflow status.
func (e *Execution) Wait() (Status, error) {
	<-e.finished
	return e.status, e.err
}

// Done is closed when the run ended.
func (e *Execution) Done() <-chan struct{} { return e.finished }

func (e *Execution) acquire() error {
	store := e.r.cfg.Store
	if store == nil {
		return nil
	}
	ok, err := store.TryAcquireLease(e.ctx, e.c.ID(), e.r.cfg.Owner, e.r.cfg.LeaseTTL)
	if errors.Is(err, ErrSnapshotNotFound) {
		// First run of this conductor: leases live on stored snapshots.
		if err := store.Save(e.ctx, e.c.Serialize()); err != nil {
			return fmt.Errorf("save %s: %w", e.c.ID(), err)
		}
		ok, err = store.TryAcquireLease(e.ctx, e.c.ID(), e.r.cfg.Owner, e.r.cfg.LeaseTTL)
	}
	if err != nil {
		return fmt.Errorf("lease %s: %w", e.c.ID(), err)
	}
	if !ok {
		return fmt.Errorf("lease %s: %w", e.c.ID(), ErrLeaseHeld)
	}
	return nil
}

// begin requests the status that gets the workflow moving.
func (e *Execution) begin() error {
	switch e.c.WorkflowStatus() {
	case api.StatusUnset:
		return e.c.RequestWorkflowStatus(e.ctx, api.StatusRunning)
	case api.StatusPaused:
		return e.c.RequestWorkflowStatus(e.ctx, api.StatusResuming)
	}
	return nil
}

// advance dispatches runnable tasks, saves the snapshot and checks whether
// the run is over. Callers hold e.mu.
func (e *Execution) advance() error {
	if err := e.pump(); err != nil {
		return err
	}
	if err := e.persist(e.ctx); err != nil {
		return err
	}
	if e.outstanding == 0 || e.c.WorkflowStatus().IsCompleted() {
		e.markDone()
	}
	return nil
}

// pump enqueues every action the conductor hands out. Each action is
// reported as running before it is queued, so the next GetNextTasks call
// does not return it again.
func (e *Execution) pump() error {
	for {
		progressed := false
		for _, d := range e.c.GetNextTasks(e.ctx) {
			if d.Items && d.ItemCount == 0 {
				// Nothing to run for an empty items list.
				if err := e.update(d.ID, api.StatusSucceeded, nil); err != nil {
					return err
				}
				progressed = true
				continue
			}
			for _, a := range d.Actions {
				if err := e.update(d.ID, api.StatusRunning, a.ItemID); err != nil {
					return err
				}
				now := time.Now()
				task := taskqueue.Task{
					ID:          uuid.NewString(),
					ConductorID: e.c.ID(),
					TaskID:      d.ID,
					Action:      a.Action,
					Input:       a.Input,
					ItemID:      a.ItemID,
					EnqueuedAt:  now,
					NotBefore:   now.Add(d.Delay),
				}
				if err := e.r.queue.Enqueue(e.ctx, task); err != nil {
					return fmt.Errorf("enqueue %s: %w", d.ID, err)
				}
				e.outstanding++
			}
		}
		if !progressed {
			return nil
		}
	}
}

func (e *Execution) update(taskID string, status Status, itemID *int) error {
	var (
		ev  *api.ActionExecutionEvent
		err error
	)
	if itemID != nil {
		ev, err = api.NewItemActionExecutionEvent(status, *itemID, nil)
	} else {
		ev, err = api.NewActionExecutionEvent(status, nil)
	}
	if err != nil {
		return err
	}
	if _, err := e.c.UpdateTaskFlow(e.ctx, taskID, ev); err != nil {
		return fmt.Errorf("update %s: %w", taskID, err)
	}
	return nil
}

// apply feeds an action result to the conductor.
func (e *Execution) apply(comp worker.Completion) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return nil
	}
	e.outstanding--
	if _, err := e.c.UpdateTaskFlow(e.ctx, comp.Task.TaskID, comp.Event); err != nil {
		err = fmt.Errorf("update %s: %w", comp.Task.TaskID, err)
		e.failLocked(err)
		return err
	}
	if err := e.advance(); err != nil {
		e.failLocked(err)
		return err
	}
	return nil
}

func (e *Execution) persist(ctx context.Context) error {
	store := e.r.cfg.Store
	if store == nil {
		return nil
	}
	if err := store.Save(ctx, e.c.Serialize()); err != nil {
		return fmt.Errorf("save %s: %w", e.c.ID(), err)
	}
	return nil
}

func (e *Execution) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failLocked(err)
}

func (e *Execution) failLocked(err error) {
	if e.err == nil {
		e.err = err
	}
	e.markDone()
}

func (e *Execution) markDone() {
	e.doneOnce.Do(func() { close(e.done) })
}

// supervise keeps the lease alive until the run is done, then releases
// everything the run holds.
func (e *Execution) supervise() {
	g, gctx := errgroup.WithContext(e.ctx)
	g.Go(func() error {
		select {
		case <-e.done:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	if store := e.r.cfg.Store; store != nil {
		g.Go(func() error {
			t := time.NewTicker(e.r.cfg.LeaseTTL / 3)
			defer t.Stop()
			for {
				select {
				case <-e.done:
					return nil
				case <-gctx.Done():
					return nil
				case <-t.C:
					if err := store.RenewLease(gctx, e.c.ID(), e.r.cfg.Owner, e.r.cfg.LeaseTTL); err != nil {
						return fmt.Errorf("renew lease %s: %w", e.c.ID(), err)
					}
				}
			}
		})
	}
	runErr := g.Wait()

	bg := context.WithoutCancel(e.ctx)
	e.mu.Lock()
	e.stopped = true
	if runErr != nil && e.err == nil {
		e.err = runErr
	}
	if err := e.persist(bg); err != nil && e.err == nil {
		e.err = err
	}
	e.status = e.c.WorkflowStatus()
	e.mu.Unlock()

	e.r.forget(e.c.ID())
	if store := e.r.cfg.Store; store != nil {
		if err := store.ReleaseLease(bg, e.c.ID(), e.r.cfg.Owner); err != nil {
			e.r.logger.WarnContext(bg, "lease_release_failed",
				slog.String("conductor_id", e.c.ID()),
				slog.String("error", err.Error()),
			)
		}
	}

	attrs := []any{
		slog.String("conductor_id", e.c.ID()),
		slog.String("status", e.status.String()),
	}
	if e.err != nil {
		attrs = append(attrs, slog.String("error", e.err.Error()))
		e.span.SetStatus(codes.Error, e.err.Error())
	}
	e.r.logger.InfoContext(bg, "run_finished", attrs...)
	e.span.SetAttributes(attribute.String("workflow.status", e.status.String()))
	e.span.End()
	e.cancel()
	close(e.finished)
}

// abort tears down an execution that never started.
func (e *Execution) abort(err error) {
	e.span.SetStatus(codes.Error, err.Error())
	e.span.End()
	e.cancel()
}
