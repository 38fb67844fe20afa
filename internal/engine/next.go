package engine

import (
	"context"
	"fmt"
	"maps"
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/petrijr/conductor/internal/expr"
	"github.com/petrijr/conductor/internal/flow"
	"github.com/petrijr/conductor/internal/spec"
	"github.com/petrijr/conductor/pkg/api"
)

// GetNextTasks returns every staged task that is ready to run, sorted by id.
// It returns nothing while the workflow is pausing, paused, canceling or
// completed.
//
// With-items tasks carry one action per item that may start now, up to the
// task's concurrency minus the items already active. A task with an empty
// items list is returned with no actions so the driver can complete it.
//
// GetNextTasks does not change what is staged: the same tasks are returned
// until the driver reports progress on them with UpdateTaskFlow.
func (c *Conductor) GetNextTasks(ctx context.Context) []api.TaskDispatch {
	if !c.dispatching() {
		return nil
	}
	return c.dispatch(ctx, c.flow.ReadyTasks())
}

// GetNextTasksAfter returns the successors of taskID that its current attempt
// transitioned to and that are ready to run.
func (c *Conductor) GetNextTasksAfter(ctx context.Context, taskID string) ([]api.TaskDispatch, error) {
	if !c.graph.HasTask(taskID) {
		return nil, &api.InvalidTaskError{TaskID: taskID}
	}
	cur := c.flow.CurrentAttempt(taskID)
	if cur == nil || !c.dispatching() {
		return nil, nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, t := range c.graph.GetNextTransitions(taskID) {
		if !cur.Next[t.Key()] || seen[t.To] {
			continue
		}
		seen[t.To] = true
		if s := c.flow.GetStaged(t.To); s != nil && s.Ready && len(s.Ctxs) > 0 {
			ids = append(ids, t.To)
		}
	}
	sort.Strings(ids)
	return c.dispatch(ctx, ids), nil
}

func (c *Conductor) dispatching() bool {
	switch c.status {
	case api.StatusPausing, api.StatusPaused, api.StatusCanceling:
		return false
	}
	return !c.status.IsCompleted()
}

func (c *Conductor) dispatch(ctx context.Context, ids []string) []api.TaskDispatch {
	var out []api.TaskDispatch
	for _, id := range ids {
		if spec.IsPassThrough(id) {
			continue
		}
		d, ok, errs := c.prepareDispatch(id)
		if len(errs) > 0 {
			for _, err := range errs {
				c.logError(ctx, api.LogEntry{Message: err.Error(), TaskID: id})
			}
			c.failWorkflow(ctx)
			continue
		}
		if ok {
			out = append(out, d)
		}
	}
	if c.status.IsCompleted() {
		return nil
	}
	for _, d := range out {
		c.observer.OnTaskDispatched(ctx, c.id, d)
	}
	return out
}

// prepareDispatch renders the actions of a staged task. It reports false when
// the task has nothing to start right now.
func (c *Conductor) prepareDispatch(id string) (api.TaskDispatch, bool, []error) {
	staged := c.flow.GetStaged(id)
	task := c.spec.Task(id)
	d := api.TaskDispatch{
		ID:    id,
		Ctx:   staged.Ctxs[len(staged.Ctxs)-1],
		Delay: time.Duration(staged.Delay) * time.Second,
	}
	if task == nil {
		return d, false, []error{fmt.Errorf("task %s has no definition", id)}
	}

	value, err := c.flow.MergeContexts(byPriority(staged.Ctxs))
	if err != nil {
		return d, false, []error{err}
	}
	action, err := c.renderAction(task, value)
	if err != nil {
		return d, false, []error{err}
	}

	if task.With == nil {
		input, errs := expr.RenderMap(c.eval, task.Input, value)
		if len(errs) > 0 {
			return d, false, errs
		}
		d.Actions = []api.ActionRequest{{Action: action, Input: input}}
		return d, true, nil
	}

	list, err := c.renderItems(task, value)
	if err != nil {
		return d, false, []error{err}
	}
	concurrency, err := c.renderInt(task.With.Concurrency, value)
	if err != nil {
		return d, false, []error{fmt.Errorf("concurrency of task %s: %w", id, err)}
	}
	d.Items = true
	d.ItemCount = len(list)
	d.Concurrency = concurrency
	d.Actions = []api.ActionRequest{}
	if len(list) == 0 {
		return d, true, nil
	}

	items := staged.Items
	if len(items) != len(list) {
		items = make([]flow.ItemState, len(list))
	}
	slots := len(list)
	if concurrency > 0 {
		slots = concurrency - staged.ActiveItems()
	}

	var errs []error
	for i, item := range list {
		if slots <= 0 {
			break
		}
		if items[i].Status != api.StatusUnset {
			continue
		}
		itemCtx := maps.Clone(value)
		itemCtx[expr.CurrentItemKey] = item
		input, ierrs := expr.RenderMap(c.eval, task.Input, itemCtx)
		if len(ierrs) > 0 {
			errs = append(errs, ierrs...)
			continue
		}
		itemID := i
		d.Actions = append(d.Actions, api.ActionRequest{Action: action, Input: input, ItemID: &itemID})
		slots--
	}
	if len(errs) > 0 {
		return d, false, errs
	}
	return d, len(d.Actions) > 0, nil
}

// byPriority orders incoming contexts so that the earliest arrival is merged
// last and wins conflicts.
func byPriority(ctxs []int) []int {
	out := make([]int, len(ctxs))
	for i, idx := range ctxs {
		out[len(ctxs)-1-i] = idx
	}
	return out
}

func (c *Conductor) renderAction(task *spec.TaskSpec, value map[string]any) (string, error) {
	v, errs := expr.RenderValue(c.eval, task.Action, value)
	if len(errs) > 0 {
		return "", errs[0]
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("action must render to a non-empty string, got %v", v)
	}
	return s, nil
}

// renderItems renders the items of a with-items task into a list.
func (c *Conductor) renderItems(task *spec.TaskSpec, value map[string]any) ([]any, error) {
	v, errs := expr.RenderValue(c.eval, task.With.Items, value)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	list, ok := toList(v)
	if !ok {
		return nil, fmt.Errorf("items must render to a list, got %T", v)
	}
	return list, nil
}

func toList(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// renderInt renders an optional non-negative integer parameter. Nil is 0.
func (c *Conductor) renderInt(v any, value map[string]any) (int, error) {
	if v == nil {
		return 0, nil
	}
	r, errs := expr.RenderValue(c.eval, v, value)
	if len(errs) > 0 {
		return 0, errs[0]
	}
	var n int
	switch t := r.(type) {
	case int:
		n = t
	case int64:
		n = int(t)
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("%v is not an integer", t)
		}
		n = int(t)
	default:
		return 0, fmt.Errorf("%v is not an integer", r)
	}
	if n < 0 {
		return 0, fmt.Errorf("%d must not be negative", n)
	}
	return n, nil
}
