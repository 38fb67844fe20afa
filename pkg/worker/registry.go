package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ActionFunc runs one action request. input is the rendered action input.
type ActionFunc func(ctx context.Context, input any) (any, error)

// Registry maps action names to their implementations. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]ActionFunc
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]ActionFunc)}
}

// Register adds fn under name. Registering a name twice is an error.
func (r *Registry) Register(name string, fn ActionFunc) error {
	if name == "" {
		return fmt.Errorf("worker: action name must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("worker: action %q has nil function", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[name]; exists {
		return fmt.Errorf("worker: action %q already registered", name)
	}
	r.actions[name] = fn
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, fn ActionFunc) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the action registered under name.
func (r *Registry) Lookup(name string) (ActionFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.actions[name]
	return fn, ok
}

// Names returns the registered action names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actions))
	for name := range r.actions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
