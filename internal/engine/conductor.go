// Package engine implements the Conductor: it walks a composed workflow graph,
// decides which tasks may run next, records what ran and settles the status of
// every task and of the workflow itself.
//
// A Conductor performs no I/O and never blocks. A driver loop calls
// GetNextTasks, runs the returned actions somewhere else and reports their
// progress with UpdateTaskFlow. State crosses process boundaries only through
// Serialize and FromSnapshot.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/petrijr/conductor/internal/expr"
	"github.com/petrijr/conductor/internal/flow"
	"github.com/petrijr/conductor/internal/graph"
	"github.com/petrijr/conductor/internal/machines"
	"github.com/petrijr/conductor/internal/spec"
	"github.com/petrijr/conductor/pkg/api"
)

// ErrSpecRequired is returned by New when no workflow definition is given.
var ErrSpecRequired = errors.New("workflow spec is required")

// Config describes how to construct a Conductor.
type Config struct {
	// ID identifies the conductor in observer callbacks and stores. A random
	// UUID is used when empty.
	ID string

	Spec          *spec.Workflow
	Input         map[string]any
	ParentContext map[string]any

	// Evaluator defaults to expr.NewEvaluator().
	Evaluator expr.Evaluator
	// Observer defaults to api.NoopObserver.
	Observer api.Observer
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Conductor owns the graph, the flow ledger and both state machines of one
// workflow execution. It is not safe for concurrent use; drivers serialize
// calls.
type Conductor struct {
	id     string
	spec   *spec.Workflow
	graph  *graph.Graph
	flow   *flow.Ledger
	parent map[string]any
	input  map[string]any
	output map[string]any
	errors []api.LogEntry
	log    []api.LogEntry
	status api.Status

	eval     expr.Evaluator
	observer api.Observer
	logger   *slog.Logger
	tasks    *machines.Machine
	workflow *machines.Machine

	// pending holds engine events for pass-through tasks. UpdateTaskFlow
	// drains it before returning.
	pending []engineEvent
}

type engineEvent struct {
	taskID string
	event  api.Event
}

// New composes cfg.Spec, builds the initial context from the parent context,
// the workflow input and the rendered vars, and stages the start tasks. The
// workflow stays unset until the driver requests running.
//
// Bad input data (a missing required input, a failing vars expression) does
// not make New fail: it is logged and the workflow is marked failed.
func New(ctx context.Context, cfg Config) (*Conductor, error) {
	if cfg.Spec == nil {
		return nil, ErrSpecRequired
	}
	g, err := spec.Compose(cfg.Spec)
	if err != nil {
		return nil, err
	}
	c := newConductor(cfg)
	c.spec = cfg.Spec
	c.graph = g
	c.flow = flow.NewLedger()
	c.parent = flow.CopyMap(cfg.ParentContext)
	c.input = flow.CopyMap(cfg.Input)
	c.initialize(ctx)
	return c, nil
}

func newConductor(cfg Config) *Conductor {
	c := &Conductor{
		id:       cfg.ID,
		eval:     cfg.Evaluator,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		tasks:    machines.NewTaskMachine(),
		workflow: machines.NewWorkflowMachine(),
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	if c.eval == nil {
		c.eval = expr.NewEvaluator()
	}
	if c.observer == nil {
		c.observer = api.NoopObserver{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

func (c *Conductor) initialize(ctx context.Context) {
	values := flow.Merge(map[string]any{}, c.parent)
	values = flow.Merge(values, c.input)

	var errs []error
	for _, in := range c.spec.Input {
		if _, ok := c.input[in.Name]; ok {
			continue
		}
		if !in.HasDefault {
			errs = append(errs, &MissingInputError{Name: in.Name})
			continue
		}
		v, rerrs := expr.RenderValue(c.eval, in.Default, values)
		errs = append(errs, rerrs...)
		values[in.Name] = v
	}
	for _, name := range sortedKeys(c.spec.Vars) {
		v, rerrs := expr.RenderValue(c.eval, c.spec.Vars[name], values)
		errs = append(errs, rerrs...)
		values[name] = v
	}

	root, _ := c.flow.AppendContext(values)
	for _, id := range c.graph.Roots() {
		c.flow.Stage(id, root, true)
	}

	for _, err := range errs {
		c.logError(ctx, api.LogEntry{Message: err.Error()})
	}
	if len(errs) > 0 {
		c.failWorkflow(ctx)
	}
}

// MissingInputError reports a required workflow input that was not supplied.
type MissingInputError struct {
	Name string
}

func (e *MissingInputError) Error() string {
	return "missing required input " + e.Name
}

// ID returns the conductor id.
func (c *Conductor) ID() string { return c.id }

// Spec returns the workflow definition.
func (c *Conductor) Spec() *spec.Workflow { return c.spec }

// Graph returns the composed graph. It must not be modified.
func (c *Conductor) Graph() *graph.Graph { return c.graph }

// WorkflowStatus returns the current workflow status.
func (c *Conductor) WorkflowStatus() api.Status { return c.status }

// Input returns a copy of the supplied workflow input.
func (c *Conductor) Input() map[string]any { return flow.CopyMap(c.input) }

// Output returns a copy of the rendered workflow output. It is nil until the
// workflow completes.
func (c *Conductor) Output() map[string]any { return flow.CopyMap(c.output) }

// Errors returns a copy of the error log.
func (c *Conductor) Errors() []api.LogEntry { return cloneLog(c.errors) }

// Log returns a copy of the info and warning log.
func (c *Conductor) Log() []api.LogEntry { return cloneLog(c.log) }

// TaskEntries returns copies of every attempt of taskID in sequence order.
func (c *Conductor) TaskEntries(taskID string) []*flow.TaskEntry {
	return c.flow.Attempts(taskID)
}

// CurrentTaskEntry returns a copy of the current attempt of taskID, or nil.
func (c *Conductor) CurrentTaskEntry(taskID string) *flow.TaskEntry {
	return c.flow.CurrentAttempt(taskID).Clone()
}

// Sequence returns copies of every task attempt in the order they started.
func (c *Conductor) Sequence() []*flow.TaskEntry {
	out := make([]*flow.TaskEntry, 0, len(c.flow.Sequence))
	for _, e := range c.flow.Sequence {
		out = append(out, e.Clone())
	}
	return out
}

// StagedTasks returns copies of the staged tasks that hold an incoming
// context.
func (c *Conductor) StagedTasks() []*flow.StagedTask { return c.flow.StagedTasks() }

// Context returns a copy of context snapshot i.
func (c *Conductor) Context(i int) (flow.ContextSnapshot, error) { return c.flow.Context(i) }

// ContextCount returns the number of context snapshots.
func (c *Conductor) ContextCount() int { return len(c.flow.Contexts) }

// TerminalContext returns the merged contexts of the terminal task attempts.
func (c *Conductor) TerminalContext() (map[string]any, error) { return c.flow.TerminalContext() }

func (c *Conductor) logError(ctx context.Context, e api.LogEntry) {
	e.Type = api.LogError
	if containsEntry(c.errors, e) {
		return
	}
	c.errors = append(c.errors, e)
	c.observer.OnError(ctx, c.id, e)
}

func (c *Conductor) logInfo(e api.LogEntry) {
	if e.Type == "" {
		e.Type = api.LogInfo
	}
	if containsEntry(c.log, e) {
		return
	}
	c.log = append(c.log, e)
}

func containsEntry(entries []api.LogEntry, e api.LogEntry) bool {
	for _, x := range entries {
		if x.Equal(e) {
			return true
		}
	}
	return false
}

func cloneLog(entries []api.LogEntry) []api.LogEntry {
	if entries == nil {
		return nil
	}
	out := make([]api.LogEntry, len(entries))
	for i, e := range entries {
		e.Result = flow.Copy(e.Result)
		e.Data = flow.Copy(e.Data)
		out[i] = e
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
