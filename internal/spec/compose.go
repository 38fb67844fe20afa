package spec

import (
	"fmt"

	"github.com/petrijr/conductor/internal/graph"
)

// Compose validates w and builds its task graph. Every entry of a task's next
// list becomes one transition per target, indexed by its position in the list.
// Reserved pass-through targets become nodes on first use.
func Compose(w *Workflow) (*graph.Graph, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	g := graph.New()
	for _, name := range w.TaskNames() {
		task := w.Tasks[name]
		barrier, _ := ParseJoin(task.Join)
		if err := g.AddTask(graph.Node{ID: name, Name: name, HasItems: task.With != nil, Barrier: barrier}); err != nil {
			return nil, fmt.Errorf("compose %s: %w", name, err)
		}
	}

	for _, name := range w.TaskNames() {
		for i, next := range w.Tasks[name].Next {
			var criteria []string
			if next.When != "" {
				criteria = []string{next.When}
			}
			for _, target := range next.Do {
				if IsPassThrough(target) && !g.HasTask(target) {
					if err := g.AddTask(graph.Node{ID: target, Name: target}); err != nil {
						return nil, fmt.Errorf("compose %s: %w", target, err)
					}
				}
				t := graph.Transition{
					From:     name,
					To:       target,
					Index:    i,
					Criteria: criteria,
					Publish:  assignments(next.Publish),
				}
				if err := g.AddTransition(t); err != nil {
					return nil, fmt.Errorf("compose %s -> %s: %w", name, target, err)
				}
			}
		}
	}
	g.Seal()
	return g, nil
}

func assignments(a Assignments) []graph.Assignment {
	if len(a) == 0 {
		return nil
	}
	out := make([]graph.Assignment, 0, len(a))
	for _, as := range a {
		out = append(out, graph.Assignment{Key: as.Key, Value: as.Value})
	}
	return out
}
