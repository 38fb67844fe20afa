package graph

import (
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
)

func mustGraph(t *testing.T, nodes []Node, edges []Transition) *Graph {
	t.Helper()
	g := New()
	for _, n := range nodes {
		if err := g.AddTask(n); err != nil {
			t.Fatalf("AddTask(%s): %v", n.ID, err)
		}
	}
	for _, e := range edges {
		if err := g.AddTransition(e); err != nil {
			t.Fatalf("AddTransition(%s->%s): %v", e.From, e.To, err)
		}
	}
	return g
}

func TestGraph_Queries(t *testing.T) {
	g := mustGraph(t,
		[]Node{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "join", Barrier: BarrierAll}},
		[]Transition{
			{From: "a", To: "b", Index: 0},
			{From: "a", To: "c", Index: 1},
			{From: "b", To: "join", Index: 0},
			{From: "c", To: "join", Index: 0},
		},
	)

	if !g.HasTask("a") || g.HasTask("zzz") {
		t.Fatalf("HasTask mismatch")
	}
	n, ok := g.GetTask("a")
	if !ok || n.Name != "a" {
		t.Fatalf("expected node name to default to id, got %+v", n)
	}
	if got := g.Roots(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("expected roots [a], got %v", got)
	}
	next := g.GetNextTransitions("a")
	if len(next) != 2 || next[0].To != "b" || next[1].To != "c" {
		t.Fatalf("unexpected next transitions: %+v", next)
	}
	if next[1].Key() != "c__1" {
		t.Fatalf("expected key c__1, got %s", next[1].Key())
	}
	if len(g.GetPrevTransitions("join")) != 2 {
		t.Fatalf("expected 2 inbound transitions for join")
	}
	if !g.HasBarrier("join") || g.HasBarrier("b") {
		t.Fatalf("HasBarrier mismatch")
	}
	if g.GetBarrier("join") != 2 {
		t.Fatalf("expected barrier 2, got %d", g.GetBarrier("join"))
	}
	if g.GetBarrier("b") != 1 {
		t.Fatalf("expected default barrier 1, got %d", g.GetBarrier("b"))
	}
	for _, id := range g.Tasks() {
		if g.InCycle(id) {
			t.Fatalf("did not expect %s in a cycle", id)
		}
	}
}

func TestGraph_InCycle(t *testing.T) {
	g := mustGraph(t,
		[]Node{{ID: "init"}, {ID: "loop"}, {ID: "x"}, {ID: "y"}, {ID: "done"}},
		[]Transition{
			{From: "init", To: "loop"},
			{From: "loop", To: "loop"},
			{From: "loop", To: "x", Index: 1},
			{From: "x", To: "y"},
			{From: "y", To: "x"},
			{From: "y", To: "done", Index: 1},
		},
	)

	want := map[string]bool{"init": false, "loop": true, "x": true, "y": true, "done": false}
	for id, w := range want {
		if got := g.InCycle(id); got != w {
			t.Fatalf("InCycle(%s) = %v, want %v", id, got, w)
		}
	}
}

func TestGraph_SealIsExplicit(t *testing.T) {
	g := mustGraph(t,
		[]Node{{ID: "a"}, {ID: "b"}},
		[]Transition{{From: "a", To: "b"}},
	)
	if g.InCycle("a") || g.Sealed() {
		t.Fatal("InCycle must not seal the graph")
	}

	g.Seal()
	if !g.Sealed() {
		t.Fatal("expected sealed graph")
	}
	if err := g.AddTransition(Transition{From: "b", To: "a"}); err != nil {
		t.Fatalf("AddTransition: %v", err)
	}
	if g.Sealed() {
		t.Fatal("AddTransition must unseal the graph")
	}
	if !g.InCycle("a") || !g.InCycle("b") {
		t.Fatal("expected a and b in a cycle after the back edge")
	}

	restored, err := FromData(g.Data())
	if err != nil {
		t.Fatalf("FromData: %v", err)
	}
	if !restored.Sealed() {
		t.Fatal("FromData must return a sealed graph")
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !restored.InCycle("a") {
				t.Error("expected a in a cycle")
			}
		}()
	}
	wg.Wait()
}

func TestGraph_Errors(t *testing.T) {
	g := New()
	if err := g.AddTask(Node{ID: "a"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := g.AddTask(Node{ID: "a"}); !errors.Is(err, ErrDuplicateTask) {
		t.Fatalf("expected ErrDuplicateTask, got %v", err)
	}
	if err := g.AddTransition(Transition{From: "a", To: "b"}); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
	if err := g.AddTask(Node{ID: "b", Barrier: "0"}); !errors.Is(err, ErrInvalidBarrier) {
		t.Fatalf("expected ErrInvalidBarrier, got %v", err)
	}
}

func TestGraph_DataRoundTrip(t *testing.T) {
	g := mustGraph(t,
		[]Node{{ID: "a"}, {ID: "b", HasItems: true}, {ID: "c", Barrier: "1"}},
		[]Transition{
			{From: "a", To: "b", Criteria: []string{"{{ succeeded() }}"}, Publish: []Assignment{{Key: "x", Value: 1.0}}},
			{From: "b", To: "c"},
			{From: "a", To: "c", Index: 1},
		},
	)

	raw, err := json.Marshal(g.Data())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	restored, err := FromData(d)
	if err != nil {
		t.Fatalf("FromData: %v", err)
	}
	if !reflect.DeepEqual(g.Data(), restored.Data()) {
		t.Fatalf("round trip mismatch:\n%+v\n%+v", g.Data(), restored.Data())
	}
	if restored.GetBarrier("c") != 1 || !restored.HasBarrier("c") {
		t.Fatalf("barrier not restored")
	}
}
