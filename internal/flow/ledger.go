// Package flow records what a conductor has done: the context ledger, the
// task-flow sequence of task attempts, the staging table of tasks waiting to
// run and the terminal-context accumulator.
//
// A Ledger is plain data and round-trips through JSON and YAML unchanged.
package flow

import (
	"sort"

	"github.com/petrijr/conductor/pkg/api"
)

// TaskSet answers whether a task id exists. *graph.Graph implements it.
type TaskSet interface {
	HasTask(id string) bool
}

// ItemState is the progress of one item of a with-items task.
type ItemState struct {
	Status api.Status `json:"status" yaml:"status"`
	Result any        `json:"result,omitempty" yaml:"result,omitempty"`
}

// RetryState tracks the retry budget of a task.
type RetryState struct {
	When  string `json:"when,omitempty" yaml:"when,omitempty"`
	Count int    `json:"count" yaml:"count"`
	Delay int    `json:"delay,omitempty" yaml:"delay,omitempty"`
	Tally int    `json:"tally" yaml:"tally"`
}

// Exhausted reports whether every retry has been used.
func (r *RetryState) Exhausted() bool {
	return r == nil || r.Tally >= r.Count
}

// TaskEntry is one attempt of a task.
type TaskEntry struct {
	ID     string          `json:"id" yaml:"id"`
	Ctx    int             `json:"ctx" yaml:"ctx"`
	Status api.Status      `json:"status,omitempty" yaml:"status,omitempty"`
	Next   map[string]bool `json:"next" yaml:"next"`
	Items  []ItemState     `json:"items,omitempty" yaml:"items,omitempty"`
	Retry  *RetryState     `json:"retry,omitempty" yaml:"retry,omitempty"`
	Result any             `json:"result,omitempty" yaml:"result,omitempty"`
	// Term is set when the attempt completed without firing any transition.
	Term bool `json:"term,omitempty" yaml:"term,omitempty"`
}

// Clone returns a deep copy of e.
func (e *TaskEntry) Clone() *TaskEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Next = make(map[string]bool, len(e.Next))
	for k, v := range e.Next {
		c.Next[k] = v
	}
	c.Items = cloneItems(e.Items)
	if e.Retry != nil {
		r := *e.Retry
		c.Retry = &r
	}
	c.Result = Copy(e.Result)
	return &c
}

// StagedTask is a task a transition has targeted but that has not finished
// yet. Ctxs accumulates the incoming contexts in arrival order.
type StagedTask struct {
	ID    string      `json:"id" yaml:"id"`
	Ctxs  []int       `json:"ctxs" yaml:"ctxs"`
	Ready bool        `json:"ready" yaml:"ready"`
	Items []ItemState `json:"items,omitempty" yaml:"items,omitempty"`
	// Delay in seconds before the task should run, set on retries.
	Delay int `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// Clone returns a deep copy of s.
func (s *StagedTask) Clone() *StagedTask {
	if s == nil {
		return nil
	}
	c := *s
	c.Ctxs = append([]int(nil), s.Ctxs...)
	c.Items = cloneItems(s.Items)
	return &c
}

// ActiveItems counts items in an active status.
func (s *StagedTask) ActiveItems() int {
	n := 0
	for _, it := range s.Items {
		if it.Status.IsActive() {
			n++
		}
	}
	return n
}

func cloneItems(items []ItemState) []ItemState {
	if items == nil {
		return nil
	}
	out := make([]ItemState, len(items))
	for i, it := range items {
		out[i] = ItemState{Status: it.Status, Result: Copy(it.Result)}
	}
	return out
}

// Ledger holds the full execution record of one conductor.
type Ledger struct {
	// Tasks maps a task id to the sequence position of its current attempt.
	Tasks    map[string]int    `json:"tasks" yaml:"tasks"`
	Sequence []*TaskEntry      `json:"sequence" yaml:"sequence"`
	Contexts []ContextSnapshot `json:"contexts" yaml:"contexts"`
	Staged   []*StagedTask     `json:"staged" yaml:"staged"`
	// Terminal maps the sequence position of a terminal attempt to the
	// context it contributes to the workflow's terminal context.
	Terminal map[int]int `json:"terminal,omitempty" yaml:"terminal,omitempty"`
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		Tasks:    make(map[string]int),
		Sequence: []*TaskEntry{},
		Contexts: []ContextSnapshot{},
		Staged:   []*StagedTask{},
		Terminal: make(map[int]int),
	}
}

// AddAttempt appends a new attempt of id that starts from context ctx and
// makes it the current attempt.
func (l *Ledger) AddAttempt(tasks TaskSet, id string, ctx int) (*TaskEntry, error) {
	if !tasks.HasTask(id) {
		return nil, &api.InvalidTaskError{TaskID: id}
	}
	if l.Tasks == nil {
		l.Tasks = make(map[string]int)
	}
	e := &TaskEntry{ID: id, Ctx: ctx, Next: map[string]bool{}}
	l.Sequence = append(l.Sequence, e)
	l.Tasks[id] = len(l.Sequence) - 1
	return e, nil
}

// CurrentAttempt returns the most recent attempt of id, or nil. The returned
// entry is live; callers outside the conductor should Clone it.
func (l *Ledger) CurrentAttempt(id string) *TaskEntry {
	idx, ok := l.Tasks[id]
	if !ok || idx < 0 || idx >= len(l.Sequence) {
		return nil
	}
	return l.Sequence[idx]
}

// CurrentIndex returns the sequence position of the current attempt of id.
func (l *Ledger) CurrentIndex(id string) (int, bool) {
	idx, ok := l.Tasks[id]
	return idx, ok
}

// Attempts returns copies of every attempt of id in sequence order.
func (l *Ledger) Attempts(id string) []*TaskEntry {
	var out []*TaskEntry
	for _, e := range l.Sequence {
		if e.ID == id {
			out = append(out, e.Clone())
		}
	}
	return out
}

// Stage records ctx as an incoming context of id, creating the staging record
// if needed, and sets its readiness.
func (l *Ledger) Stage(id string, ctx int, ready bool) *StagedTask {
	if s := l.GetStaged(id); s != nil {
		s.Ctxs = append(s.Ctxs, ctx)
		s.Ready = ready
		return s
	}
	s := &StagedTask{ID: id, Ctxs: []int{ctx}, Ready: ready}
	l.Staged = append(l.Staged, s)
	return s
}

// GetStaged returns the live staging record of id, or nil.
func (l *Ledger) GetStaged(id string) *StagedTask {
	for _, s := range l.Staged {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Unstage removes the staging record of id unless one of its items is still
// active. It reports whether a record was removed.
func (l *Ledger) Unstage(id string) bool {
	for i, s := range l.Staged {
		if s.ID != id {
			continue
		}
		if s.ActiveItems() > 0 {
			return false
		}
		l.Staged = append(l.Staged[:i], l.Staged[i+1:]...)
		return true
	}
	return false
}

// Reset clears the incoming contexts and items of id's staging record but
// keeps the record, so a task on a cycle can be staged again.
func (l *Ledger) Reset(id string) {
	if s := l.GetStaged(id); s != nil {
		s.Ctxs = nil
		s.Items = nil
		s.Ready = false
		s.Delay = 0
	}
}

// StagedTasks returns copies of the staging records that hold at least one
// incoming context.
func (l *Ledger) StagedTasks() []*StagedTask {
	var out []*StagedTask
	for _, s := range l.Staged {
		if len(s.Ctxs) > 0 {
			out = append(out, s.Clone())
		}
	}
	return out
}

// ReadyTasks returns the ids of staged tasks that are ready, sorted.
func (l *Ledger) ReadyTasks() []string {
	var out []string
	for _, s := range l.Staged {
		if s.Ready && len(s.Ctxs) > 0 {
			out = append(out, s.ID)
		}
	}
	sort.Strings(out)
	return out
}

// AddTerminal records the context a terminal attempt contributes.
func (l *Ledger) AddTerminal(seq, ctx int) {
	if l.Terminal == nil {
		l.Terminal = make(map[int]int)
	}
	l.Terminal[seq] = ctx
}

// TerminalContext merges the contexts of all terminal attempts in sequence
// order, so later attempts win on conflicting keys.
func (l *Ledger) TerminalContext() (map[string]any, error) {
	seqs := make([]int, 0, len(l.Terminal))
	for seq := range l.Terminal {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	out := map[string]any{}
	for _, seq := range seqs {
		v, err := l.ContextValue(l.Terminal[seq])
		if err != nil {
			return nil, err
		}
		out = Merge(out, v)
	}
	return out, nil
}

// Clone returns a deep copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		Tasks:    make(map[string]int, len(l.Tasks)),
		Sequence: make([]*TaskEntry, len(l.Sequence)),
		Contexts: make([]ContextSnapshot, len(l.Contexts)),
		Staged:   make([]*StagedTask, len(l.Staged)),
		Terminal: make(map[int]int, len(l.Terminal)),
	}
	for id, seq := range l.Tasks {
		c.Tasks[id] = seq
	}
	for i, e := range l.Sequence {
		c.Sequence[i] = e.Clone()
	}
	for i, ctx := range l.Contexts {
		c.Contexts[i] = ContextSnapshot{
			Value:   CopyMap(ctx.Value),
			Sources: append([]int(nil), ctx.Sources...),
		}
	}
	for i, s := range l.Staged {
		c.Staged[i] = s.Clone()
	}
	for seq, ctx := range l.Terminal {
		c.Terminal[seq] = ctx
	}
	return c
}
