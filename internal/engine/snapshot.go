package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/conductor/internal/flow"
	"github.com/petrijr/conductor/internal/graph"
	"github.com/petrijr/conductor/internal/spec"
	"github.com/petrijr/conductor/pkg/api"
)

// ErrInvalidSnapshot is returned by FromSnapshot for snapshots that cannot be
// restored.
var ErrInvalidSnapshot = errors.New("invalid conductor snapshot")

// Snapshot is the complete, plain-data state of a Conductor. It round-trips
// through JSON and YAML.
type Snapshot struct {
	ID      string         `json:"id" yaml:"id"`
	Spec    *spec.Workflow `json:"spec" yaml:"spec"`
	Graph   graph.Data     `json:"graph" yaml:"graph"`
	Flow    *flow.Ledger   `json:"flow" yaml:"flow"`
	Context map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
	Input   map[string]any `json:"input,omitempty" yaml:"input,omitempty"`
	Output  map[string]any `json:"output,omitempty" yaml:"output,omitempty"`
	Errors  []api.LogEntry `json:"errors,omitempty" yaml:"errors,omitempty"`
	Log     []api.LogEntry `json:"log,omitempty" yaml:"log,omitempty"`
	State   api.Status     `json:"state" yaml:"state"`
}

// Serialize returns a deep copy of the conductor state.
func (c *Conductor) Serialize() *Snapshot {
	return &Snapshot{
		ID:      c.id,
		Spec:    c.spec,
		Graph:   c.graph.Data(),
		Flow:    c.flow.Clone(),
		Context: flow.CopyMap(c.parent),
		Input:   flow.CopyMap(c.input),
		Output:  flow.CopyMap(c.output),
		Errors:  cloneLog(c.errors),
		Log:     cloneLog(c.log),
		State:   c.status,
	}
}

// FromSnapshot restores a conductor. The evaluator, observer and logger come
// from cfg; the id, spec, input and parent context of cfg are ignored in
// favour of the snapshot.
func FromSnapshot(cfg Config, snap *Snapshot) (*Conductor, error) {
	if snap == nil || snap.Spec == nil || snap.Flow == nil {
		return nil, fmt.Errorf("%w: spec and flow are required", ErrInvalidSnapshot)
	}
	if !snap.State.Valid() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, &api.InvalidStatusError{Status: snap.State})
	}
	g, err := graph.FromData(snap.Graph)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	if err := checkLedger(g, snap.Flow); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	cfg.ID = snap.ID
	c := newConductor(cfg)
	c.spec = snap.Spec
	c.graph = g
	c.flow = snap.Flow.Clone()
	c.parent = flow.CopyMap(snap.Context)
	c.input = flow.CopyMap(snap.Input)
	c.output = flow.CopyMap(snap.Output)
	c.errors = cloneLog(snap.Errors)
	c.log = cloneLog(snap.Log)
	c.status = snap.State
	c.logger.DebugContext(context.Background(), "conductor restored",
		"conductor_id", c.id,
		"status", c.status.String(),
		"attempts", len(c.flow.Sequence),
	)
	return c, nil
}

// checkLedger verifies the references inside a restored ledger.
func checkLedger(g *graph.Graph, l *flow.Ledger) error {
	if len(l.Contexts) == 0 {
		return errors.New("context ledger is empty")
	}
	for i, ctx := range l.Contexts {
		for _, src := range ctx.Sources {
			if src < 0 || src >= i {
				return fmt.Errorf("context %d derives from %d", i, src)
			}
		}
	}
	for id, seq := range l.Tasks {
		if seq < 0 || seq >= len(l.Sequence) || l.Sequence[seq].ID != id {
			return fmt.Errorf("task %s points at sequence %d", id, seq)
		}
	}
	for _, e := range l.Sequence {
		if !g.HasTask(e.ID) {
			return &api.InvalidTaskError{TaskID: e.ID}
		}
		if e.Ctx < 0 || e.Ctx >= len(l.Contexts) {
			return fmt.Errorf("task %s uses context %d", e.ID, e.Ctx)
		}
		if e.Next == nil {
			e.Next = map[string]bool{}
		}
	}
	for _, s := range l.Staged {
		if !g.HasTask(s.ID) {
			return &api.InvalidTaskError{TaskID: s.ID}
		}
		for _, ctx := range s.Ctxs {
			if ctx < 0 || ctx >= len(l.Contexts) {
				return fmt.Errorf("staged task %s uses context %d", s.ID, ctx)
			}
		}
	}
	return nil
}
