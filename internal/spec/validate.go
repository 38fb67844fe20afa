package spec

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/petrijr/conductor/internal/expr"
)

// ValidationError describes one problem with a workflow definition.
type ValidationError struct {
	Path string
	Msg  string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidSpec, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvalidSpec, e.Path, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidSpec }

// Validate checks the definition and returns every problem found, joined.
func (w *Workflow) Validate() error {
	var errs []error
	fail := func(path, format string, args ...any) {
		errs = append(errs, &ValidationError{Path: path, Msg: fmt.Sprintf(format, args...)})
	}

	if len(w.Tasks) == 0 {
		fail("tasks", "at least one task is required")
	}

	seen := make(map[string]bool, len(w.Input))
	for i, in := range w.Input {
		path := fmt.Sprintf("input[%d]", i)
		if in.Name == "" {
			fail(path, "name is required")
			continue
		}
		if seen[in.Name] {
			fail(path, "duplicate input %q", in.Name)
		}
		seen[in.Name] = true
	}

	inbound := make(map[string]int)
	for _, name := range w.TaskNames() {
		task := w.Tasks[name]
		path := "tasks." + name
		if IsReserved(name) {
			fail(path, "%q is a reserved task name", name)
		}
		if task == nil {
			fail(path, "task body is empty")
			continue
		}
		if task.Action == "" {
			fail(path+".action", "action is required")
		}
		if task.Join != "" {
			if _, err := ParseJoin(task.Join); err != nil {
				fail(path+".join", "%v", err)
			}
		}
		if task.With != nil && task.With.Items == nil {
			fail(path+".with.items", "items are required")
		}
		if task.With != nil {
			if n, ok := task.With.Concurrency.(int); ok && n < 0 {
				fail(path+".with.concurrency", "must not be negative")
			}
		}
		if r := task.Retry; r != nil {
			for field, v := range map[string]any{"count": r.Count, "delay": r.Delay} {
				if n, ok := v.(int); ok && n < 0 {
					fail(path+".retry."+field, "must not be negative")
				}
			}
			if r.When != "" {
				if err := expr.Check(r.When); err != nil {
					fail(path+".retry.when", "%v", err)
				}
			}
		}
		for i, next := range task.Next {
			npath := fmt.Sprintf("%s.next[%d]", path, i)
			if next == nil {
				fail(npath, "entry is empty")
				continue
			}
			if next.When != "" {
				if err := expr.Check(next.When); err != nil {
					fail(npath+".when", "%v", err)
				}
			}
			for _, as := range next.Publish {
				if as.Key == "" {
					fail(npath+".publish", "empty variable name")
				}
			}
			for _, target := range next.Do {
				switch {
				case IsPassThrough(target):
				case IsReserved(target):
					fail(npath+".do", "%q is not supported as a target", target)
				case w.Tasks[target] == nil:
					fail(npath+".do", "unknown task %q", target)
				default:
					inbound[target]++
				}
			}
		}
	}

	if len(w.Tasks) > 0 {
		roots := 0
		for name := range w.Tasks {
			if inbound[name] == 0 {
				roots++
			}
		}
		if roots == 0 {
			fail("tasks", "no start task: every task has an inbound transition")
		}
	}
	return errors.Join(errs...)
}

// ParseJoin converts a join value to a graph barrier: "all" becomes "*" and a
// positive count is kept as is.
func ParseJoin(join string) (string, error) {
	if join == "" {
		return "", nil
	}
	if join == JoinAll {
		return "*", nil
	}
	n, err := strconv.Atoi(join)
	if err != nil || n < 1 {
		return "", fmt.Errorf("join must be %q or a positive integer, got %q", JoinAll, join)
	}
	return join, nil
}
