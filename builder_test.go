package conductor

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/conductor/internal/spec"
)

func TestFlowBuilder_BuildsWorkflow(t *testing.T) {
	wf, err := NewFlow().
		Version("1.0").
		Description("fan out and join").
		Input("hosts").
		InputDefault("greeting", "hi").
		Var("count", "{{ len($.hosts) }}").
		Task("ping", "net.ping",
			WithItems("{{ $.hosts }}", 3),
			WithInput("host", "{{ item() }}"),
			WithRetry(Retry(2).Delay(5).When("{{ failed() }}")),
			On("{{ succeeded() }}").Publish("replies", "{{ result() }}").Publish("ok", true).Do("report"),
			On("{{ failed() }}").Do("fail"),
		).
		Task("audit", "core.echo", On("").Do("report")).
		Task("report", "core.echo", JoinAll()).
		Output("replies", "{{ $.replies }}").
		Build()
	require.NoError(t, err)

	assert.Equal(t, "1.0", wf.Version)
	assert.Equal(t, "fan out and join", wf.Description)
	assert.Equal(t, []spec.Input{
		{Name: "hosts"},
		{Name: "greeting", Default: "hi", HasDefault: true},
	}, wf.Input)
	assert.Equal(t, "{{ len($.hosts) }}", wf.Vars["count"])
	assert.Equal(t, []string{"audit", "ping", "report"}, wf.TaskNames())

	ping := wf.Tasks["ping"]
	require.NotNil(t, ping.With)
	assert.Equal(t, "{{ $.hosts }}", ping.With.Items)
	assert.Equal(t, 3, ping.With.Concurrency)
	assert.Equal(t, &spec.RetrySpec{When: "{{ failed() }}", Count: 2, Delay: 5}, ping.Retry)

	require.Len(t, ping.Next, 2)
	assert.Equal(t, spec.Assignments{
		{Key: "replies", Value: "{{ result() }}"},
		{Key: "ok", Value: true},
	}, ping.Next[0].Publish)
	assert.Equal(t, spec.TaskList{"report"}, ping.Next[0].Do)
	assert.Equal(t, spec.TaskList{"fail"}, ping.Next[1].Do)
	assert.Equal(t, spec.JoinAll, wf.Tasks["report"].Join)
}

func TestFlowBuilder_Join(t *testing.T) {
	wf := NewFlow().
		Task("a", "core.echo", On("").Do("c")).
		Task("b", "core.echo", On("").Do("c")).
		Task("c", "core.echo", Join(2)).
		MustBuild()
	if wf.Tasks["c"].Join != "2" {
		t.Fatalf("join = %q", wf.Tasks["c"].Join)
	}
}

func TestFlowBuilder_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		builder *FlowBuilder
	}{
		{
			name:    "no tasks",
			builder: NewFlow(),
		},
		{
			name:    "unknown target",
			builder: NewFlow().Task("a", "core.echo", On("").Do("missing")),
		},
		{
			name:    "reserved name",
			builder: NewFlow().Task("noop", "core.echo"),
		},
		{
			name:    "missing action",
			builder: NewFlow().Task("a", ""),
		},
		{
			name:    "invalid join",
			builder: NewFlow().Task("a", "core.echo", Join(0)),
		},
		{
			name:    "duplicate task",
			builder: NewFlow().Task("a", "core.echo").Task("a", "core.noop"),
		},
		{
			name:    "bad criteria",
			builder: NewFlow().Task("a", "core.echo", On("{{ succeeded( }}").Do("b")).Task("b", "core.echo"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			if !errors.Is(err, ErrInvalidSpec) {
				t.Fatalf("expected ErrInvalidSpec, got %v", err)
			}
		})
	}
}

func TestFlowBuilder_MustBuildPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected MustBuild to panic")
		}
	}()
	NewFlow().MustBuild()
}

func TestFlowBuilder_BuildDoesNotShareState(t *testing.T) {
	b := NewFlow().Task("a", "core.echo")
	first, err := b.Build()
	require.NoError(t, err)

	b.Task("b", "core.echo")
	first.Tasks["a"].Action = "changed"

	second, err := b.Build()
	require.NoError(t, err)
	assert.Len(t, first.Tasks, 1)
	assert.Len(t, second.Tasks, 2)
	assert.Equal(t, "core.echo", second.Tasks["a"].Action)
}

func TestTransition_IsImmutable(t *testing.T) {
	base := On("{{ succeeded() }}").Publish("a", 1)
	left := base.Publish("b", 2).Do("x")
	right := base.Publish("c", 3).Do("y")

	var l, r spec.TaskSpec
	left.apply(&l)
	right.apply(&r)

	want := spec.Assignments{{Key: "a", Value: 1}, {Key: "b", Value: 2}}
	if !reflect.DeepEqual(l.Next[0].Publish, want) {
		t.Fatalf("left publish = %v", l.Next[0].Publish)
	}
	if r.Next[0].Publish[1].Key != "c" || r.Next[0].Do[0] != "y" {
		t.Fatalf("right transition = %+v", r.Next[0])
	}
}

func TestRetryBuilder_Policy(t *testing.T) {
	r := Retry("{{ $.attempts }}")
	withDelay := r.Delay(10)

	if r.Policy().Delay != nil {
		t.Fatalf("Delay must not modify the receiver")
	}
	p := withDelay.When("{{ result().code == 503 }}").Policy()
	if p.Count != "{{ $.attempts }}" || p.Delay != 10 || p.When != "{{ result().code == 503 }}" {
		t.Fatalf("unexpected policy: %+v", p)
	}
}

func TestFlowBuilder_RunsOnLocalRunner(t *testing.T) {
	wf := NewFlow().
		Input("name").
		Task("greet", "test.echo",
			WithInput("message", "hi {{ $.name }}"),
			On("{{ succeeded() }}").Publish("said", "{{ result() }}"),
		).
		Output("said", "{{ $.said }}").
		MustBuild()

	c, err := New(context.Background(), Config{Spec: wf, Input: map[string]any{"name": "Lin"}})
	require.NoError(t, err)

	r := newTestRunner(t, RunnerConfig{})
	status := runWithTimeout(t, r, c)
	require.Equal(t, StatusSucceeded, status)
	assert.Equal(t, "hi Lin", c.Output()["said"])
}
