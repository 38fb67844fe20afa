package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petrijr/conductor/internal/expr"
	"github.com/petrijr/conductor/internal/flow"
	"github.com/petrijr/conductor/internal/graph"
	"github.com/petrijr/conductor/internal/machines"
	"github.com/petrijr/conductor/internal/spec"
	"github.com/petrijr/conductor/pkg/api"
)

// UpdateTaskFlow applies ev to taskID and returns a copy of the task's
// current attempt.
//
// The first event for a staged task starts a new attempt from the converged
// incoming contexts. When the attempt completes, its outbound transitions are
// evaluated, targets are staged and pass-through targets (noop, fail) are
// completed before UpdateTaskFlow returns. A completed attempt with retries
// left moves to retrying and is staged again instead.
//
// Contract violations (unknown task, task neither staged nor attempted,
// malformed event) are returned as typed errors. Workflow-data problems are
// recorded in Errors and fail the workflow.
func (c *Conductor) UpdateTaskFlow(ctx context.Context, taskID string, ev api.Event) (*flow.TaskEntry, error) {
	if op, ok := ev.(*api.EngineOperationEvent); ok && op.Operation == api.EngineOpRetry {
		return nil, &api.InvalidEventError{Event: ev, Reason: "retries are requested by the conductor"}
	}
	entry, err := c.update(ctx, taskID, ev)
	if err != nil {
		c.pending = nil
		return nil, err
	}
	for len(c.pending) > 0 {
		next := c.pending[0]
		c.pending = c.pending[1:]
		if _, err := c.update(ctx, next.taskID, next.event); err != nil {
			c.pending = nil
			return nil, err
		}
	}
	return entry.Clone(), nil
}

func (c *Conductor) update(ctx context.Context, taskID string, ev api.Event) (*flow.TaskEntry, error) {
	if ev == nil {
		return nil, &api.InvalidEventError{Reason: "nil event"}
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	switch ev.(type) {
	case *api.ActionExecutionEvent, *api.EngineOperationEvent:
	default:
		return nil, &api.InvalidEventError{Event: ev, Reason: "not a task event"}
	}
	node, ok := c.graph.GetTask(taskID)
	if !ok {
		return nil, &api.InvalidTaskError{TaskID: taskID}
	}

	staged := c.flow.GetStaged(taskID)
	if staged != nil && len(staged.Ctxs) == 0 {
		staged = nil
	}
	cur := c.flow.CurrentAttempt(taskID)
	if cur == nil && staged == nil {
		return nil, &api.InvalidTaskFlowEntryError{TaskID: taskID}
	}
	fresh := staged != nil && (cur == nil ||
		cur.Status == api.StatusRetrying ||
		(cur.Status.IsCompleted() && c.reenters(taskID)))

	// Resolve the items of a with-items task before anything is recorded, so
	// malformed item events are rejected without side effects.
	var (
		items    []flow.ItemState
		itemsErr error
	)
	if node.HasItems {
		if staged := c.flow.GetStaged(taskID); staged != nil && staged.Items != nil {
			items = staged.Items
		} else if !fresh && cur != nil {
			items = cur.Items
		}
		if _, isItem := itemID(ev); isItem && items == nil {
			items, itemsErr = c.initItems(taskID, staged, cur, fresh)
		}
	}

	var key machines.EventKey
	if itemsErr == nil {
		k, err := machines.TaskEventKey(ev, node.HasItems, itemStatuses(items))
		if err != nil {
			return nil, err
		}
		key = k
	}

	entry := cur
	if fresh {
		e, err := c.startAttempt(ctx, node, staged, cur)
		if err != nil {
			return nil, err
		}
		entry = e
	}
	if itemsErr != nil {
		c.logError(ctx, api.LogEntry{Message: itemsErr.Error(), TaskID: taskID})
		c.failWorkflow(ctx)
		return entry, nil
	}

	prev := entry.Status
	next, err := c.tasks.Next(prev, key)
	if err != nil {
		return nil, err
	}

	if a, ok := ev.(*api.ActionExecutionEvent); ok {
		if id, isItem := a.ItemID(); isItem {
			items[id] = flow.ItemState{Status: a.Status, Result: flow.Copy(a.Result)}
			if s := c.flow.GetStaged(taskID); s != nil {
				s.Items = items
			}
			entry.Items = append([]flow.ItemState(nil), items...)
		}
	}

	if next == prev {
		return entry, nil
	}
	entry.Status = next
	c.logger.DebugContext(ctx, "task status set",
		slog.String("conductor_id", c.id),
		slog.String("task_id", taskID),
		slog.String("from", prev.String()),
		slog.String("to", next.String()),
	)
	c.observer.OnTaskStatus(ctx, c.id, taskID, prev, next)

	if next.IsCompleted() && !prev.IsCompleted() {
		c.closeAttempt(entry, node.HasItems)
		if !node.HasItems {
			if a, ok := ev.(*api.ActionExecutionEvent); ok {
				entry.Result = flow.Copy(a.Result)
			}
		}
		seq, _ := c.flow.CurrentIndex(taskID)
		if c.finishAttempt(ctx, seq, entry) {
			return entry, nil
		}
	}

	if err := c.notifyWorkflow(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func itemID(ev api.Event) (int, bool) {
	if a, ok := ev.(*api.ActionExecutionEvent); ok {
		return a.ItemID()
	}
	return 0, false
}

func itemStatuses(items []flow.ItemState) []api.Status {
	if items == nil {
		return nil
	}
	out := make([]api.Status, len(items))
	for i, it := range items {
		out[i] = it.Status
	}
	return out
}

// itemsOf returns the live item states of a task: the staged copy while the
// task is in flight, otherwise those recorded on its attempt.
func (c *Conductor) itemsOf(id string, entry *flow.TaskEntry) []flow.ItemState {
	if s := c.flow.GetStaged(id); s != nil && s.Items != nil {
		return s.Items
	}
	return entry.Items
}

// initItems renders the items of a task on its first item event.
func (c *Conductor) initItems(id string, staged *flow.StagedTask, cur *flow.TaskEntry, fresh bool) ([]flow.ItemState, error) {
	var (
		value map[string]any
		err   error
	)
	if fresh {
		value, err = c.flow.MergeContexts(byPriority(staged.Ctxs))
	} else {
		value, err = c.flow.ContextValue(cur.Ctx)
	}
	if err != nil {
		return nil, err
	}
	task := c.spec.Task(id)
	if task == nil || task.With == nil {
		return nil, fmt.Errorf("task %s has no items", id)
	}
	list, err := c.renderItems(task, value)
	if err != nil {
		return nil, err
	}
	return make([]flow.ItemState, len(list)), nil
}

// startAttempt converges the incoming contexts of a staged task into a new
// attempt. Plain tasks leave staging here; with-items tasks stay staged until
// every item is done.
func (c *Conductor) startAttempt(ctx context.Context, node graph.Node, staged *flow.StagedTask, prev *flow.TaskEntry) (*flow.TaskEntry, error) {
	idx, err := c.flow.Converge(byPriority(staged.Ctxs))
	if err != nil {
		return nil, err
	}
	entry, err := c.flow.AddAttempt(c.graph, node.ID, idx)
	if err != nil {
		return nil, err
	}
	staged.Ctxs = []int{idx}
	staged.Delay = 0
	if !node.HasItems {
		c.flow.Unstage(node.ID)
	}

	if prev != nil && prev.Status == api.StatusRetrying && prev.Retry != nil {
		r := *prev.Retry
		entry.Retry = &r
	} else {
		entry.Retry = c.retryPolicy(ctx, node.ID, idx)
	}
	return entry, nil
}

// retryPolicy renders the retry block of a task for its first attempt.
func (c *Conductor) retryPolicy(ctx context.Context, id string, ctxIdx int) *flow.RetryState {
	task := c.spec.Task(id)
	if task == nil || task.Retry == nil {
		return nil
	}
	value, err := c.flow.ContextValue(ctxIdx)
	if err == nil {
		var count, delay int
		if count, err = c.renderInt(task.Retry.Count, value); err == nil {
			delay, err = c.renderInt(task.Retry.Delay, value)
		}
		if err == nil {
			return &flow.RetryState{When: task.Retry.When, Count: count, Delay: delay}
		}
	}
	c.logError(ctx, api.LogEntry{
		Message: fmt.Sprintf("invalid retry parameters: %v", err),
		TaskID:  id,
	})
	c.failWorkflow(ctx)
	return nil
}

// closeAttempt releases the staging record of a with-items task once the
// task completed. Tasks on a cycle keep an empty record.
func (c *Conductor) closeAttempt(entry *flow.TaskEntry, hasItems bool) {
	if !hasItems {
		return
	}
	if s := c.flow.GetStaged(entry.ID); s != nil && s.Items != nil {
		entry.Items = append([]flow.ItemState(nil), s.Items...)
	}
	if c.graph.InCycle(entry.ID) {
		c.flow.Reset(entry.ID)
	} else {
		c.flow.Unstage(entry.ID)
	}
	results := make([]any, len(entry.Items))
	for i, it := range entry.Items {
		results[i] = flow.Copy(it.Result)
	}
	entry.Result = results
}

// finishAttempt handles a task attempt that just completed: it either
// schedules a retry, or evaluates the outbound transitions. It reports true
// when the task is retrying.
func (c *Conductor) finishAttempt(ctx context.Context, seq int, entry *flow.TaskEntry) bool {
	taskCtx, err := c.flow.ContextValue(entry.Ctx)
	if err != nil {
		c.logError(ctx, api.LogEntry{Message: err.Error(), TaskID: entry.ID})
		c.failWorkflow(ctx)
		return false
	}
	taskCtx[expr.CurrentTaskKey] = map[string]any{
		"id":     entry.ID,
		"status": string(entry.Status),
		"result": flow.Copy(entry.Result),
	}
	if c.retry(ctx, entry, taskCtx) {
		return true
	}
	c.evaluateTransitions(ctx, seq, entry, taskCtx)
	return false
}

// retry moves a completed attempt to retrying and stages the task again when
// its retry condition holds and attempts remain.
func (c *Conductor) retry(ctx context.Context, entry *flow.TaskEntry, taskCtx map[string]any) bool {
	r := entry.Retry
	if r.Exhausted() {
		return false
	}
	if r.When == "" {
		if !entry.Status.IsAbended() {
			return false
		}
	} else {
		v, err := c.eval.Evaluate(r.When, taskCtx)
		if err != nil {
			c.logError(ctx, api.LogEntry{Message: err.Error(), TaskID: entry.ID})
			c.failWorkflow(ctx)
			return false
		}
		if !expr.Truthy(v) {
			return false
		}
	}

	next, err := c.tasks.Next(entry.Status, machines.Plain(api.TaskRetryRequested))
	if err != nil || next == entry.Status {
		return false
	}
	prev := entry.Status
	entry.Status = next
	r.Tally++
	s := c.flow.Stage(entry.ID, entry.Ctx, true)
	s.Delay = r.Delay
	c.observer.OnTaskStatus(ctx, c.id, entry.ID, prev, next)
	c.logInfo(api.LogEntry{
		Message: fmt.Sprintf("retrying task (%d of %d) after %s", r.Tally, r.Count, prev),
		TaskID:  entry.ID,
		Result:  flow.Copy(entry.Result),
	})
	return true
}

// evaluateTransitions records the outcome of every outbound transition of a
// completed attempt and stages the targets of those that fired. Publish-only
// next entries update the attempt's outgoing context first.
func (c *Conductor) evaluateTransitions(ctx context.Context, seq int, entry *flow.TaskEntry, taskCtx map[string]any) {
	failed := false
	base := flow.CopyMap(taskCtx)
	delete(base, expr.CurrentTaskKey)
	baseIdx := entry.Ctx

	if task := c.spec.Task(entry.ID); task != nil {
		for i, next := range task.Next {
			if len(next.Do) > 0 || len(next.Publish) == 0 {
				continue
			}
			var criteria []string
			if next.When != "" {
				criteria = []string{next.When}
			}
			ok, err := c.criteria(criteria, taskCtx)
			if err == nil && ok {
				var vals map[string]any
				if vals, err = c.publish(toAssignments(next.Publish), taskCtx); err == nil {
					base = flow.Merge(base, vals)
				}
			}
			if err != nil {
				c.logError(ctx, api.LogEntry{
					Message: err.Error(),
					TaskID:  entry.ID,
					Data:    map[string]any{"next": i},
				})
				failed = true
			}
		}
		if idx, err := c.flow.Derive(entry.Ctx, base); err == nil {
			baseIdx = idx
		}
	}

	fired := 0
	for _, t := range c.graph.GetNextTransitions(entry.ID) {
		key := t.Key()
		entry.Next[key] = false
		ok, err := c.criteria(t.Criteria, taskCtx)
		if err == nil && ok {
			var vals map[string]any
			if vals, err = c.publish(t.Publish, taskCtx); err == nil {
				out := flow.Merge(flow.CopyMap(base), vals)
				var idx int
				if idx, err = c.flow.Derive(baseIdx, out); err == nil {
					entry.Next[key] = true
					fired++
					c.stage(t.To, idx)
				}
			}
		}
		if err != nil {
			c.logError(ctx, api.LogEntry{
				Message:          err.Error(),
				TaskID:           entry.ID,
				TaskTransitionID: key,
			})
			failed = true
		}
	}

	if fired == 0 {
		entry.Term = true
		c.flow.AddTerminal(seq, baseIdx)
	}
	if failed {
		c.failWorkflow(ctx)
	}
}

// criteria reports whether every criterion holds.
func (c *Conductor) criteria(criteria []string, taskCtx map[string]any) (bool, error) {
	for _, expression := range criteria {
		v, err := c.eval.Evaluate(expression, taskCtx)
		if err != nil {
			return false, err
		}
		if !expr.Truthy(v) {
			return false, nil
		}
	}
	return true, nil
}

// publish renders assignments in order; each one sees those before it.
func (c *Conductor) publish(assignments []graph.Assignment, taskCtx map[string]any) (map[string]any, error) {
	if len(assignments) == 0 {
		return nil, nil
	}
	scope := flow.CopyMap(taskCtx)
	out := make(map[string]any, len(assignments))
	for _, as := range assignments {
		v, errs := expr.RenderValue(c.eval, as.Value, scope)
		if len(errs) > 0 {
			return nil, errs[0]
		}
		scope[as.Key] = v
		out[as.Key] = v
	}
	return out, nil
}

func toAssignments(a spec.Assignments) []graph.Assignment {
	out := make([]graph.Assignment, 0, len(a))
	for _, as := range a {
		out = append(out, graph.Assignment{Key: as.Key, Value: as.Value})
	}
	return out
}

// stage adds ctx to the incoming contexts of target. A task off any cycle is
// staged only until its first attempt exists. Pass-through targets complete
// once their join is satisfied, with a new attempt for every transition that
// reaches them.
func (c *Conductor) stage(target string, ctx int) {
	if c.flow.CurrentAttempt(target) != nil && !c.reenters(target) {
		return
	}
	ready := c.inboundSatisfied(target)
	c.flow.Stage(target, ctx, ready)
	if !ready || !spec.IsPassThrough(target) {
		return
	}
	op := api.EngineOpNoop
	if target == spec.TaskFail {
		op = api.EngineOpFail
	}
	c.pending = append(c.pending, engineEvent{taskID: target, event: &api.EngineOperationEvent{Operation: op}})
}

// reenters reports whether a completed attempt of id may be followed by
// another one. noop and fail are shared by every task that routes to them.
func (c *Conductor) reenters(id string) bool {
	return spec.IsPassThrough(id) || c.graph.InCycle(id)
}

// inboundSatisfied reports whether enough predecessors of id transitioned to
// it to meet its barrier.
func (c *Conductor) inboundSatisfied(id string) bool {
	fired := make(map[string]bool)
	for _, t := range c.graph.GetPrevTransitions(id) {
		if e := c.flow.CurrentAttempt(t.From); e != nil && e.Next[t.Key()] {
			fired[t.From] = true
		}
	}
	return len(fired) >= c.graph.GetBarrier(id)
}
