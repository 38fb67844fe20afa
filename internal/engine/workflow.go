package engine

import (
	"context"
	"log/slog"
	"sort"

	"github.com/petrijr/conductor/internal/expr"
	"github.com/petrijr/conductor/internal/flow"
	"github.com/petrijr/conductor/internal/machines"
	"github.com/petrijr/conductor/pkg/api"
)

// settled lists, per requested status, the statuses that already satisfy the
// request.
var settled = map[api.Status]api.Status{
	api.StatusPausing:   api.StatusPaused,
	api.StatusCanceling: api.StatusCanceled,
	api.StatusResuming:  api.StatusRunning,
}

// RequestWorkflowStatus asks the workflow to move to status. Pause, resume
// and cancel requests are pushed to every unfinished task first, then to the
// workflow machine.
//
// Requesting the current status (or one it already settled into, such as
// pausing a paused workflow) is a no-op. A request the workflow machine does
// not accept returns *api.InvalidWorkflowStatusTransitionError and leaves all
// state unchanged.
func (c *Conductor) RequestWorkflowStatus(ctx context.Context, status api.Status) error {
	ev, err := api.NewWorkflowExecutionEvent(status)
	if err != nil {
		return err
	}
	if c.status == status {
		return nil
	}
	if s, ok := settled[status]; ok && s == c.status {
		return nil
	}
	if !c.workflow.Table().Accepts(c.status, ev.Kind()) {
		return &api.InvalidWorkflowStatusTransitionError{From: c.status, To: status}
	}

	switch status {
	case api.StatusPausing, api.StatusCanceling, api.StatusResuming:
		if err := c.pushToTasks(ctx, ev); err != nil {
			return err
		}
	}

	from := c.status
	key, err := machines.WorkflowEventKey(ev, c.facts(""))
	if err != nil {
		return err
	}
	next, err := c.workflow.Next(c.status, key)
	if err != nil {
		return err
	}
	if next == from {
		return &api.InvalidWorkflowStatusTransitionError{From: from, To: status}
	}
	c.setWorkflowStatus(ctx, next)
	return nil
}

// pushToTasks delivers a workflow request to every task with an unfinished
// current attempt.
func (c *Conductor) pushToTasks(ctx context.Context, ev *api.WorkflowExecutionEvent) error {
	for _, id := range sortedKeys(c.flow.Tasks) {
		entry := c.flow.CurrentAttempt(id)
		if entry == nil || entry.Status == api.StatusUnset || entry.Status == api.StatusRetrying || entry.Status.IsCompleted() {
			continue
		}
		node, _ := c.graph.GetTask(id)
		key, err := machines.TaskEventKey(ev, node.HasItems, itemStatuses(c.itemsOf(id, entry)))
		if err != nil {
			return err
		}
		next, err := c.tasks.Next(entry.Status, key)
		if err != nil {
			return err
		}
		if next == entry.Status {
			continue
		}
		prev := entry.Status
		entry.Status = next
		c.observer.OnTaskStatus(ctx, c.id, id, prev, next)
		if next.IsCompleted() {
			c.closeAttempt(entry, node.HasItems)
			for _, t := range c.graph.GetNextTransitions(id) {
				entry.Next[t.Key()] = false
			}
		}
	}
	return nil
}

// notifyWorkflow feeds the status of a task attempt to the workflow machine.
func (c *Conductor) notifyWorkflow(ctx context.Context, entry *flow.TaskEntry) error {
	facts := c.facts(entry.ID)
	if entry.Status.IsAbended() {
		for _, fired := range entry.Next {
			if fired {
				facts.Remediated = true
				break
			}
		}
	}
	ev := &api.TaskExecutionEvent{TaskID: entry.ID, Status: entry.Status}
	key, err := machines.WorkflowEventKey(ev, facts)
	if err != nil {
		return err
	}
	next, err := c.workflow.Next(c.status, key)
	if err != nil {
		return err
	}
	if next != c.status {
		c.setWorkflowStatus(ctx, next)
	}
	return nil
}

// facts describes every task except exclude.
func (c *Conductor) facts(exclude string) machines.WorkflowFacts {
	var f machines.WorkflowFacts
	for id := range c.flow.Tasks {
		if id == exclude {
			continue
		}
		entry := c.flow.CurrentAttempt(id)
		if entry == nil {
			continue
		}
		st := entry.Status
		f.TasksActive = f.TasksActive || st.IsActive()
		f.TasksCanceled = f.TasksCanceled || st.IsCanceled()
		f.TasksPaused = f.TasksPaused || st.IsPaused()
	}
	f.TasksStaged = len(c.flow.ReadyTasks()) > 0
	return f
}

func (c *Conductor) setWorkflowStatus(ctx context.Context, to api.Status) {
	from := c.status
	c.status = to
	c.logger.DebugContext(ctx, "workflow status set",
		slog.String("conductor_id", c.id),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
	c.observer.OnWorkflowStatus(ctx, c.id, from, to)
	if !from.IsCompleted() && to.IsCompleted() {
		c.completeWorkflow(ctx)
	}
}

// forceWorkflowStatus applies a plain workflow request without pushing it to
// tasks. Requests the table does not accept are ignored.
func (c *Conductor) forceWorkflowStatus(ctx context.Context, status api.Status) {
	ev := &api.WorkflowExecutionEvent{Status: status}
	next, err := c.workflow.Next(c.status, machines.Plain(ev.Kind()))
	if err != nil || next == c.status {
		return
	}
	c.setWorkflowStatus(ctx, next)
}

func (c *Conductor) failWorkflow(ctx context.Context) {
	c.forceWorkflowStatus(ctx, api.StatusFailed)
}

// completeWorkflow runs once, when the workflow first reaches a completed
// status.
func (c *Conductor) completeWorkflow(ctx context.Context) {
	if c.status == api.StatusSucceeded {
		if starved := c.unreachableJoins(); len(starved) > 0 {
			for _, id := range starved {
				c.logError(ctx, api.LogEntry{
					Message: "join task can no longer be satisfied",
					TaskID:  id,
				})
			}
			c.failWorkflow(ctx)
		}
	}
	c.renderOutput(ctx)
}

// unreachableJoins returns the staged tasks still waiting for inbound
// transitions that will never fire.
func (c *Conductor) unreachableJoins() []string {
	var out []string
	for _, s := range c.flow.Staged {
		if len(s.Ctxs) > 0 && !s.Ready {
			out = append(out, s.ID)
		}
	}
	sort.Strings(out)
	return out
}

// renderOutput renders the workflow output from the terminal context. A
// failure turns a succeeded workflow into a failed one.
func (c *Conductor) renderOutput(ctx context.Context) {
	if len(c.spec.Output) == 0 {
		return
	}
	term, err := c.flow.TerminalContext()
	if err != nil {
		c.logError(ctx, api.LogEntry{Message: err.Error()})
		c.failWorkflow(ctx)
		return
	}
	out, errs := expr.RenderMap(c.eval, c.spec.Output, term)
	if len(errs) > 0 {
		for _, err := range errs {
			c.logError(ctx, api.LogEntry{Message: err.Error()})
		}
		if c.status == api.StatusSucceeded {
			c.forceWorkflowStatus(ctx, api.StatusFailed)
		}
		return
	}
	c.output = out
}
