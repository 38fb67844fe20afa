package persistence

import (
	"context"
	"testing"

	"github.com/petrijr/conductor/internal/engine"
	"github.com/petrijr/conductor/internal/spec"
	"github.com/petrijr/conductor/pkg/api"
)

const twoTasks = `
input:
  - name
tasks:
  task1:
    action: core.echo
    input:
      message: "{{ $.name }}"
    next:
      - when: "{{ succeeded() }}"
        publish:
          - greeting: "{{ result() }}"
        do: task2
  task2:
    action: core.echo
    input:
      message: "{{ $.greeting }}"
output:
  greeting: "{{ $.greeting }}"
`

// newConductor returns a running conductor whose first task has succeeded.
func newConductor(t *testing.T, id string) *engine.Conductor {
	t.Helper()
	w, err := spec.Parse([]byte(twoTasks))
	if err != nil {
		t.Fatalf("spec.Parse: %v", err)
	}
	ctx := context.Background()
	c, err := engine.New(ctx, engine.Config{ID: id, Spec: w, Input: map[string]any{"name": "Ada"}})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := c.RequestWorkflowStatus(ctx, api.StatusRunning); err != nil {
		t.Fatalf("request running: %v", err)
	}
	for _, st := range []api.Status{api.StatusRunning, api.StatusSucceeded} {
		ev, err := api.NewActionExecutionEvent(st, "hello Ada")
		if err != nil {
			t.Fatalf("NewActionExecutionEvent: %v", err)
		}
		if _, err := c.UpdateTaskFlow(ctx, "task1", ev); err != nil {
			t.Fatalf("UpdateTaskFlow: %v", err)
		}
	}
	return c
}

// newSnapshot serializes a fresh conductor and overrides its recorded state.
func newSnapshot(t *testing.T, id string, state api.Status) *engine.Snapshot {
	t.Helper()
	snap := newConductor(t, id).Serialize()
	snap.State = state
	return snap
}

func summaryIDs(sums []Summary) []string {
	ids := make([]string, 0, len(sums))
	for _, s := range sums {
		ids = append(ids, s.ID)
	}
	return ids
}
