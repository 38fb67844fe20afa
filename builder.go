package conductor

import (
	"fmt"
	"strconv"

	"github.com/petrijr/conductor/internal/spec"
)

// FlowBuilder provides a fluent API for defining workflows in Go instead of
// YAML:
//
//	wf, err := conductor.NewFlow().
//	    Input("name").
//	    Task("greet", "core.echo",
//	        conductor.WithInput("message", "hello {{ $.name }}"),
//	        conductor.On("{{ succeeded() }}").Publish("greeting", "{{ result() }}").Do("store"),
//	    ).
//	    Task("store", "db.put", conductor.WithInput("value", "{{ $.greeting }}")).
//	    Output("greeting", "{{ $.greeting }}").
//	    Build()
//
// The result is validated exactly like a parsed YAML definition.
type FlowBuilder struct {
	wf  spec.Workflow
	err error
}

// NewFlow creates an empty workflow builder.
func NewFlow() *FlowBuilder {
	return &FlowBuilder{
		wf: spec.Workflow{Tasks: make(map[string]*spec.TaskSpec)},
	}
}

// Version sets the workflow version.
func (b *FlowBuilder) Version(v string) *FlowBuilder {
	b.wf.Version = v
	return b
}

// Description sets the workflow description.
func (b *FlowBuilder) Description(d string) *FlowBuilder {
	b.wf.Description = d
	return b
}

// Input declares required workflow inputs.
func (b *FlowBuilder) Input(names ...string) *FlowBuilder {
	for _, n := range names {
		b.wf.Input = append(b.wf.Input, spec.Input{Name: n})
	}
	return b
}

// InputDefault declares an optional workflow input with a default value.
func (b *FlowBuilder) InputDefault(name string, def any) *FlowBuilder {
	b.wf.Input = append(b.wf.Input, spec.Input{Name: name, Default: def, HasDefault: true})
	return b
}

// Var declares a workflow variable. value may contain expressions over the
// workflow input.
func (b *FlowBuilder) Var(name string, value any) *FlowBuilder {
	if b.wf.Vars == nil {
		b.wf.Vars = make(map[string]any)
	}
	b.wf.Vars[name] = value
	return b
}

// Output declares a workflow output rendered when the workflow completes.
func (b *FlowBuilder) Output(name string, value any) *FlowBuilder {
	if b.wf.Output == nil {
		b.wf.Output = make(map[string]any)
	}
	b.wf.Output[name] = value
	return b
}

// Task adds a task running action. Declaring the same task twice is an error
// reported by Build.
func (b *FlowBuilder) Task(name, action string, opts ...TaskOption) *FlowBuilder {
	if _, dup := b.wf.Tasks[name]; dup && b.err == nil {
		b.err = fmt.Errorf("%w: task %q declared twice", spec.ErrInvalidSpec, name)
		return b
	}
	t := &spec.TaskSpec{Action: action}
	for _, o := range opts {
		o.apply(t)
	}
	b.wf.Tasks[name] = t
	return b
}

// Build validates the workflow and returns it. The builder may be reused; the
// returned workflow does not share task definitions with it.
func (b *FlowBuilder) Build() (*Workflow, error) {
	if b.err != nil {
		return nil, b.err
	}
	wf := b.wf
	wf.Tasks = make(map[string]*spec.TaskSpec, len(b.wf.Tasks))
	for name, t := range b.wf.Tasks {
		c := *t
		wf.Tasks[name] = &c
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}

// MustBuild is like Build but panics on error.
// Useful for initialization in main().
func (b *FlowBuilder) MustBuild() *Workflow {
	wf, err := b.Build()
	if err != nil {
		panic(err)
	}
	return wf
}

// TaskOption configures a task added with FlowBuilder.Task.
type TaskOption interface {
	apply(t *spec.TaskSpec)
}

type taskOptionFunc func(t *spec.TaskSpec)

func (f taskOptionFunc) apply(t *spec.TaskSpec) { f(t) }

// WithInput sets one action input parameter. value may contain expressions.
func WithInput(key string, value any) TaskOption {
	return taskOptionFunc(func(t *spec.TaskSpec) {
		if t.Input == nil {
			t.Input = make(map[string]any)
		}
		t.Input[key] = value
	})
}

// WithItems runs the action once per item. items is a list or an expression
// rendering to one; concurrency is 0 (unlimited), a positive int or an
// expression.
func WithItems(items any, concurrency any) TaskOption {
	return taskOptionFunc(func(t *spec.TaskSpec) {
		t.With = &spec.WithSpec{Items: items, Concurrency: concurrency}
	})
}

// Join makes the task wait for n inbound transitions.
func Join(n int) TaskOption {
	return taskOptionFunc(func(t *spec.TaskSpec) {
		t.Join = strconv.Itoa(n)
	})
}

// JoinAll makes the task wait for every inbound transition.
func JoinAll() TaskOption {
	return taskOptionFunc(func(t *spec.TaskSpec) {
		t.Join = spec.JoinAll
	})
}

// WithRetry attaches a retry policy built with Retry.
func WithRetry(r RetryBuilder) TaskOption {
	return taskOptionFunc(func(t *spec.TaskSpec) {
		t.Retry = r.Policy()
	})
}

// Transition is an outbound transition group built with On. It is itself a
// TaskOption; each use appends one entry to the task's transitions.
type Transition struct {
	next spec.NextSpec
}

// On starts a transition taken when criteria holds. An empty criteria always
// holds.
func On(criteria string) Transition {
	return Transition{next: spec.NextSpec{When: criteria}}
}

// Publish adds a variable published into the next context. Assignments are
// evaluated in the order they are added.
func (tr Transition) Publish(key string, value any) Transition {
	n := tr.next
	n.Publish = append(append(spec.Assignments(nil), n.Publish...), spec.Assignment{Key: key, Value: value})
	return Transition{next: n}
}

// Do sets the tasks the transition stages. A transition without targets only
// publishes.
func (tr Transition) Do(tasks ...string) Transition {
	n := tr.next
	n.Do = append(spec.TaskList(nil), tasks...)
	return Transition{next: n}
}

func (tr Transition) apply(t *spec.TaskSpec) {
	n := tr.next
	t.Next = append(t.Next, &n)
}
