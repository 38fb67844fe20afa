package flow

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
)

var (
	// ErrContextIndex is returned for a context index outside the ledger.
	ErrContextIndex = errors.New("context index out of range")

	// ErrNoContexts is returned when converging an empty index list.
	ErrNoContexts = errors.New("no contexts to converge")
)

// ContextSnapshot is an immutable entry of the context ledger. Sources lists
// the earlier snapshots it was derived from.
type ContextSnapshot struct {
	Value   map[string]any `json:"value" yaml:"value"`
	Sources []int          `json:"srcs,omitempty" yaml:"srcs,omitempty"`
}

// AppendContext adds a snapshot and returns its index. Every source must be an
// existing (earlier) index.
func (l *Ledger) AppendContext(value map[string]any, sources ...int) (int, error) {
	for _, s := range sources {
		if s < 0 || s >= len(l.Contexts) {
			return 0, fmt.Errorf("%w: source %d", ErrContextIndex, s)
		}
	}
	if value == nil {
		value = map[string]any{}
	}
	l.Contexts = append(l.Contexts, ContextSnapshot{
		Value:   CopyMap(value),
		Sources: uniqueSorted(sources),
	})
	return len(l.Contexts) - 1, nil
}

// Context returns a deep copy of the snapshot at i.
func (l *Ledger) Context(i int) (ContextSnapshot, error) {
	if i < 0 || i >= len(l.Contexts) {
		return ContextSnapshot{}, fmt.Errorf("%w: %d", ErrContextIndex, i)
	}
	c := l.Contexts[i]
	return ContextSnapshot{
		Value:   CopyMap(c.Value),
		Sources: append([]int(nil), c.Sources...),
	}, nil
}

// ContextValue returns a deep copy of the value of snapshot i.
func (l *Ledger) ContextValue(i int) (map[string]any, error) {
	c, err := l.Context(i)
	if err != nil {
		return nil, err
	}
	return c.Value, nil
}

// MergeContexts deep-merges the values at indices left to right (later wins)
// without touching the ledger.
func (l *Ledger) MergeContexts(indices []int) (map[string]any, error) {
	if len(indices) == 0 {
		return nil, ErrNoContexts
	}
	out := map[string]any{}
	for _, i := range indices {
		if i < 0 || i >= len(l.Contexts) {
			return nil, fmt.Errorf("%w: %d", ErrContextIndex, i)
		}
		out = Merge(out, l.Contexts[i].Value)
	}
	return out, nil
}

// Converge resolves several incoming contexts into one. If every index is the
// same, that index is returned and the ledger is unchanged. Otherwise the
// values are merged left to right (later wins) into exactly one new snapshot
// whose sources are the merged indices.
func (l *Ledger) Converge(indices []int) (int, error) {
	if len(indices) == 0 {
		return 0, ErrNoContexts
	}
	if allEqual(indices) {
		if indices[0] < 0 || indices[0] >= len(l.Contexts) {
			return 0, fmt.Errorf("%w: %d", ErrContextIndex, indices[0])
		}
		return indices[0], nil
	}
	merged, err := l.MergeContexts(indices)
	if err != nil {
		return 0, err
	}
	return l.AppendContext(merged, indices...)
}

// Derive appends value as a snapshot derived from src, unless value equals
// the snapshot at src, in which case src is returned.
func (l *Ledger) Derive(src int, value map[string]any) (int, error) {
	if src < 0 || src >= len(l.Contexts) {
		return 0, fmt.Errorf("%w: %d", ErrContextIndex, src)
	}
	if reflect.DeepEqual(l.Contexts[src].Value, value) {
		return src, nil
	}
	return l.AppendContext(value, src)
}

func allEqual(xs []int) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}

func uniqueSorted(xs []int) []int {
	if len(xs) == 0 {
		return nil
	}
	seen := make(map[int]bool, len(xs))
	out := make([]int, 0, len(xs))
	for _, x := range xs {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	sort.Ints(out)
	return out
}
