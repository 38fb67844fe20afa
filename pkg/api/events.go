package api

import (
	"fmt"
	"time"
)

// EventKind is the base name of an event before contextualization, e.g.
// "action_succeeded" or "workflow_pausing".
type EventKind string

// Engine-originated task events.
const (
	TaskNoopRequested  EventKind = "task_noop_requested"
	TaskFailRequested  EventKind = "task_fail_requested"
	TaskRetryRequested EventKind = "task_retry_requested"
	TaskRemediated     EventKind = "task_remediated"
)

// ActionKind returns the event kind for an action reporting status s.
func ActionKind(s Status) EventKind { return EventKind("action_" + string(s)) }

// WorkflowKind returns the event kind for a workflow request of status s.
func WorkflowKind(s Status) EventKind { return EventKind("workflow_" + string(s)) }

// TaskKind returns the event kind for a task reaching status s.
func TaskKind(s Status) EventKind { return EventKind("task_" + string(s)) }

// Event is implemented by every event the conductor accepts.
type Event interface {
	// Kind returns the base event name.
	Kind() EventKind
	// EventStatus returns the status the event reports or requests.
	EventStatus() Status
	// Validate fails fast on malformed events.
	Validate() error
}

var actionStatuses = map[Status]bool{
	StatusRequested: true, StatusScheduled: true, StatusDelayed: true,
	StatusRunning: true, StatusPending: true, StatusPausing: true,
	StatusPaused: true, StatusResuming: true, StatusCanceling: true,
	StatusCanceled: true, StatusSucceeded: true, StatusFailed: true,
	StatusExpired: true, StatusAbandoned: true,
}

var workflowStatuses = map[Status]bool{
	StatusRequested: true, StatusScheduled: true, StatusDelayed: true,
	StatusRunning: true, StatusPausing: true, StatusPaused: true,
	StatusResuming: true, StatusCanceling: true, StatusCanceled: true,
	StatusSucceeded: true, StatusFailed: true,
}

// ActionContext carries the item index for with-items actions.
type ActionContext struct {
	ItemID int `json:"item_id" yaml:"item_id"`
}

// ActionExecutionEvent reports progress of an externally executed action.
type ActionExecutionEvent struct {
	Status  Status         `json:"status" yaml:"status"`
	Result  any            `json:"result,omitempty" yaml:"result,omitempty"`
	Context *ActionContext `json:"context,omitempty" yaml:"context,omitempty"`
}

// NewActionExecutionEvent builds and validates an action event.
func NewActionExecutionEvent(status Status, result any) (*ActionExecutionEvent, error) {
	ev := &ActionExecutionEvent{Status: status, Result: result}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// NewItemActionExecutionEvent builds an action event for one item of a
// with-items task.
func NewItemActionExecutionEvent(status Status, itemID int, result any) (*ActionExecutionEvent, error) {
	ev := &ActionExecutionEvent{Status: status, Result: result, Context: &ActionContext{ItemID: itemID}}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

func (e *ActionExecutionEvent) Kind() EventKind     { return ActionKind(e.Status) }
func (e *ActionExecutionEvent) EventStatus() Status { return e.Status }

// ItemID returns the item index carried by the event, if any.
func (e *ActionExecutionEvent) ItemID() (int, bool) {
	if e.Context == nil {
		return 0, false
	}
	return e.Context.ItemID, true
}

func (e *ActionExecutionEvent) Validate() error {
	if !actionStatuses[e.Status] {
		return &InvalidStatusError{Status: e.Status, Event: "action execution"}
	}
	if e.Context != nil && e.Context.ItemID < 0 {
		return &InvalidEventError{Event: e, Reason: fmt.Sprintf("negative item id %d", e.Context.ItemID)}
	}
	return nil
}

// WorkflowExecutionEvent requests a workflow-level status change. It is also
// pushed to individual tasks when the workflow pauses, resumes or cancels.
type WorkflowExecutionEvent struct {
	Status Status `json:"status" yaml:"status"`
}

// NewWorkflowExecutionEvent builds and validates a workflow event.
func NewWorkflowExecutionEvent(status Status) (*WorkflowExecutionEvent, error) {
	ev := &WorkflowExecutionEvent{Status: status}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

func (e *WorkflowExecutionEvent) Kind() EventKind     { return WorkflowKind(e.Status) }
func (e *WorkflowExecutionEvent) EventStatus() Status { return e.Status }

func (e *WorkflowExecutionEvent) Validate() error {
	if !workflowStatuses[e.Status] {
		return &InvalidStatusError{Status: e.Status, Event: "workflow execution"}
	}
	return nil
}

// TaskExecutionEvent is fed to the workflow machine when a task changes status.
type TaskExecutionEvent struct {
	TaskID string `json:"task_id" yaml:"task_id"`
	Status Status `json:"status" yaml:"status"`
}

func (e *TaskExecutionEvent) Kind() EventKind     { return TaskKind(e.Status) }
func (e *TaskExecutionEvent) EventStatus() Status { return e.Status }

func (e *TaskExecutionEvent) Validate() error {
	if e.TaskID == "" {
		return &InvalidEventError{Event: e, Reason: "missing task id"}
	}
	if e.Status == StatusUnset || !e.Status.Valid() {
		return &InvalidStatusError{Status: e.Status, Event: "task execution"}
	}
	return nil
}

// EngineOperation names a synchronous operation the conductor performs on
// itself.
type EngineOperation string

const (
	EngineOpNoop  EngineOperation = "noop-requested"
	EngineOpFail  EngineOperation = "fail-requested"
	EngineOpRetry EngineOperation = "retry-requested"
)

// EngineOperationEvent completes pass-through tasks (noop, fail) and moves
// tasks into retrying. It carries no payload.
type EngineOperationEvent struct {
	Operation EngineOperation `json:"operation" yaml:"operation"`
}

func (e *EngineOperationEvent) Kind() EventKind {
	switch e.Operation {
	case EngineOpNoop:
		return TaskNoopRequested
	case EngineOpFail:
		return TaskFailRequested
	case EngineOpRetry:
		return TaskRetryRequested
	default:
		return EventKind("task_" + string(e.Operation))
	}
}

func (e *EngineOperationEvent) EventStatus() Status {
	switch e.Operation {
	case EngineOpNoop:
		return StatusSucceeded
	case EngineOpFail:
		return StatusFailed
	case EngineOpRetry:
		return StatusRetrying
	default:
		return StatusUnset
	}
}

func (e *EngineOperationEvent) Validate() error {
	switch e.Operation {
	case EngineOpNoop, EngineOpFail, EngineOpRetry:
		return nil
	default:
		return &InvalidEventError{Event: e, Reason: fmt.Sprintf("unknown engine operation %q", e.Operation)}
	}
}

// HistoryType identifies a conductor history record.
type HistoryType string

const (
	HistoryWorkflowStatus HistoryType = "workflow.status"
	HistoryTaskStatus     HistoryType = "task.status"
	HistoryTaskDispatched HistoryType = "task.dispatched"
	HistoryError          HistoryType = "workflow.error"
)

// HistoryEvent is a minimal append-only history record for audit/debugging.
// Keep Detail low-volume: do NOT dump results or contexts here.
type HistoryEvent struct {
	ConductorID string
	At          time.Time
	Type        HistoryType
	TaskID      string
	Status      Status
	Detail      string
}
