package machines

import "github.com/petrijr/conductor/pkg/api"

// Table maps (current status, contextualized event) to the next status. A
// missing entry means the event does not change the status.
//
// Tables are immutable once built. Tests that need extra rows use With, which
// returns a modified copy.
type Table struct {
	rows map[api.Status]map[EventKey]api.Status
}

func newTable() *Table {
	return &Table{rows: make(map[api.Status]map[EventKey]api.Status)}
}

// add is only used while a table is being built.
func (t *Table) add(from api.Status, key EventKey, to api.Status) {
	if from == to {
		return
	}
	row, ok := t.rows[from]
	if !ok {
		row = make(map[EventKey]api.Status)
		t.rows[from] = row
	}
	row[key] = to
}

// Lookup returns the status reached from from on key.
func (t *Table) Lookup(from api.Status, key EventKey) (api.Status, bool) {
	to, ok := t.rows[from][key]
	return to, ok
}

// Accepts reports whether some transition leaves from on an event of kind,
// whatever its activity and census.
func (t *Table) Accepts(from api.Status, kind api.EventKind) bool {
	for key := range t.rows[from] {
		if key.Kind == kind {
			return true
		}
	}
	return false
}

// Len returns the number of transitions in the table.
func (t *Table) Len() int {
	n := 0
	for _, row := range t.rows {
		n += len(row)
	}
	return n
}

// Each calls fn for every transition.
func (t *Table) Each(fn func(from api.Status, key EventKey, to api.Status)) {
	for from, row := range t.rows {
		for key, to := range row {
			fn(from, key, to)
		}
	}
}

// Clone returns an independent copy.
func (t *Table) Clone() *Table {
	c := newTable()
	t.Each(c.add)
	return c
}

// With returns a copy of t with one extra (or replaced) transition.
func (t *Table) With(from api.Status, key EventKey, to api.Status) *Table {
	c := t.Clone()
	c.add(from, key, to)
	return c
}

// Machine applies a transition table.
type Machine struct {
	table *Table
}

// NewMachine returns a machine over table.
func NewMachine(table *Table) *Machine {
	return &Machine{table: table}
}

// Next returns the status reached from current on key. Unknown current
// statuses are rejected; events without a transition leave the status as is.
func (m *Machine) Next(current api.Status, key EventKey) (api.Status, error) {
	if !current.Valid() {
		return current, &api.InvalidStatusError{Status: current}
	}
	if to, ok := m.table.Lookup(current, key); ok {
		return to, nil
	}
	return current, nil
}

// Table returns the machine's table.
func (m *Machine) Table() *Table { return m.table }
