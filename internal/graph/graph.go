// Package graph holds the composed task graph a conductor walks: task nodes,
// indexed transitions between them, join (barrier) requirements and cycle
// membership.
//
// A Graph is built once by spec.Compose (or restored from Data) and treated as
// read-only afterwards.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

var (
	// ErrUnknownTask is returned when a transition references a task that was
	// never added.
	ErrUnknownTask = errors.New("unknown task")

	// ErrDuplicateTask is returned when a task id is added twice.
	ErrDuplicateTask = errors.New("duplicate task")

	// ErrInvalidBarrier is returned for barrier values other than "", "*" or a
	// positive count.
	ErrInvalidBarrier = errors.New("invalid barrier")
)

// BarrierAll requires every inbound transition to fire.
const BarrierAll = "*"

// Node is a task in the graph.
type Node struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	HasItems bool   `json:"has_items,omitempty" yaml:"has_items,omitempty"`
	// Barrier is "" (any single inbound transition), "*" (all inbound) or a
	// decimal count.
	Barrier string `json:"barrier,omitempty" yaml:"barrier,omitempty"`
}

// Assignment publishes Value (possibly an expression) under Key.
type Assignment struct {
	Key   string `json:"key" yaml:"key"`
	Value any    `json:"value" yaml:"value"`
}

// Transition is a labeled edge From -> To. Index disambiguates several
// transitions between the same pair of tasks.
type Transition struct {
	From     string       `json:"from" yaml:"from"`
	To       string       `json:"to" yaml:"to"`
	Index    int          `json:"index" yaml:"index"`
	Criteria []string     `json:"criteria,omitempty" yaml:"criteria,omitempty"`
	Publish  []Assignment `json:"publish,omitempty" yaml:"publish,omitempty"`
}

// Key returns the flow-entry key of the transition, e.g. "task2__0".
func (t Transition) Key() string {
	return TransitionKey(t.To, t.Index)
}

// TransitionKey builds the key recorded in a task-flow entry for a transition
// to target with the given index.
func TransitionKey(target string, index int) string {
	return target + "__" + strconv.Itoa(index)
}

// Graph is a directed task graph. Cycles are allowed.
type Graph struct {
	nodes map[string]Node
	order []string
	edges []Transition
	out   map[string][]int
	in    map[string][]int

	cyclic map[string]bool
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]Node),
		out:   make(map[string][]int),
		in:    make(map[string][]int),
	}
}

// AddTask adds a node. The node name defaults to its id.
func (g *Graph) AddTask(n Node) error {
	if _, ok := g.nodes[n.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, n.ID)
	}
	if _, err := parseBarrier(n.Barrier); err != nil {
		return fmt.Errorf("task %s: %w", n.ID, err)
	}
	if n.Name == "" {
		n.Name = n.ID
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	g.cyclic = nil
	return nil
}

// AddTransition adds an edge between two existing tasks.
func (g *Graph) AddTransition(t Transition) error {
	if _, ok := g.nodes[t.From]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, t.From)
	}
	if _, ok := g.nodes[t.To]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, t.To)
	}
	idx := len(g.edges)
	g.edges = append(g.edges, t)
	g.out[t.From] = append(g.out[t.From], idx)
	g.in[t.To] = append(g.in[t.To], idx)
	g.cyclic = nil
	return nil
}

// HasTask reports whether id is a node of the graph.
func (g *Graph) HasTask(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// GetTask returns the node for id.
func (g *Graph) GetTask(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Tasks returns all node ids in insertion order.
func (g *Graph) Tasks() []string {
	return append([]string(nil), g.order...)
}

// GetNextTransitions returns the outbound transitions of id in insertion order.
func (g *Graph) GetNextTransitions(id string) []Transition {
	return g.collect(g.out[id])
}

// GetPrevTransitions returns the inbound transitions of id in insertion order.
func (g *Graph) GetPrevTransitions(id string) []Transition {
	return g.collect(g.in[id])
}

func (g *Graph) collect(idx []int) []Transition {
	if len(idx) == 0 {
		return nil
	}
	out := make([]Transition, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.edges[i])
	}
	return out
}

// HasBarrier reports whether id declares a join requirement.
func (g *Graph) HasBarrier(id string) bool {
	return g.nodes[id].Barrier != ""
}

// GetBarrier returns how many predecessors must fire a transition to id
// before it may run: 1 by default, every distinct predecessor for "*",
// otherwise the declared count.
func (g *Graph) GetBarrier(id string) int {
	n, ok := g.nodes[id]
	if !ok {
		return 1
	}
	if n.Barrier == BarrierAll {
		return len(g.Predecessors(id))
	}
	k, _ := parseBarrier(n.Barrier)
	return k
}

// Predecessors returns the distinct tasks with a transition to id, sorted.
func (g *Graph) Predecessors(id string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, i := range g.in[id] {
		from := g.edges[i].From
		if !seen[from] {
			seen[from] = true
			out = append(out, from)
		}
	}
	sort.Strings(out)
	return out
}

// Roots returns the tasks without inbound transitions, sorted by id.
func (g *Graph) Roots() []string {
	var roots []string
	for _, id := range g.order {
		if len(g.in[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// Seal computes cycle membership. spec.Compose and FromData seal the graphs
// they return; AddTask and AddTransition unseal it again.
func (g *Graph) Seal() {
	g.cyclic = g.findCycles()
}

// Sealed reports whether cycle membership has been computed since the last
// change.
func (g *Graph) Sealed() bool {
	return g.cyclic != nil
}

// InCycle reports whether id can reach itself. It never writes to g; an
// unsealed graph is searched on every call.
func (g *Graph) InCycle(id string) bool {
	if g.cyclic == nil {
		return g.findCycles()[id]
	}
	return g.cyclic[id]
}

// findCycles marks every node in a strongly connected component of more than
// one node, or with a self-loop (Tarjan).
func (g *Graph) findCycles() map[string]bool {
	var (
		index   = 0
		indices = make(map[string]int, len(g.nodes))
		low     = make(map[string]int, len(g.nodes))
		onStack = make(map[string]bool, len(g.nodes))
		stack   []string
		cyclic  = make(map[string]bool)
	)

	var connect func(v string)
	connect = func(v string) {
		indices[v] = index
		low[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, e := range g.out[v] {
			w := g.edges[e].To
			if w == v {
				cyclic[v] = true
			}
			if _, seen := indices[w]; !seen {
				connect(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], indices[w])
			}
		}

		if low[v] != indices[v] {
			return
		}
		var scc []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		if len(scc) > 1 {
			for _, w := range scc {
				cyclic[w] = true
			}
		}
	}

	ids := append([]string(nil), g.order...)
	sort.Strings(ids)
	for _, id := range ids {
		if _, seen := indices[id]; !seen {
			connect(id)
		}
	}
	return cyclic
}

func parseBarrier(b string) (int, error) {
	switch b {
	case "":
		return 1, nil
	case BarrierAll:
		return 0, nil
	}
	k, err := strconv.Atoi(b)
	if err != nil || k < 1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidBarrier, b)
	}
	return k, nil
}
