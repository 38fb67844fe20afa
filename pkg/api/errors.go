package api

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEvent is wrapped by InvalidEventError.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrInvalidStatus is wrapped by InvalidStatusError.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrInvalidTask is wrapped by InvalidTaskError.
	ErrInvalidTask = errors.New("invalid task")

	// ErrInvalidTaskFlowEntry is wrapped by InvalidTaskFlowEntryError.
	ErrInvalidTaskFlowEntry = errors.New("invalid task flow entry")

	// ErrInvalidWorkflowStatusTransition is wrapped by InvalidWorkflowStatusTransitionError.
	ErrInvalidWorkflowStatusTransition = errors.New("invalid workflow status transition")
)

// InvalidEventError reports an event the conductor cannot interpret. It is a
// driver bug, never a workflow-data problem.
type InvalidEventError struct {
	Event  any
	Reason string
}

func (e *InvalidEventError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid event: %T", e.Event)
	}
	return fmt.Sprintf("invalid event %T: %s", e.Event, e.Reason)
}

func (e *InvalidEventError) Unwrap() error { return ErrInvalidEvent }

// InvalidStatusError reports an unknown status value, or a status that is not
// allowed for the event carrying it.
type InvalidStatusError struct {
	Status Status
	Event  string
}

func (e *InvalidStatusError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("invalid status %q", string(e.Status))
	}
	return fmt.Sprintf("invalid status %q for %s event", string(e.Status), e.Event)
}

func (e *InvalidStatusError) Unwrap() error { return ErrInvalidStatus }

// InvalidTaskError reports a task id that is not part of the graph.
type InvalidTaskError struct {
	TaskID string
}

func (e *InvalidTaskError) Error() string {
	return fmt.Sprintf("task %q is not in the workflow graph", e.TaskID)
}

func (e *InvalidTaskError) Unwrap() error { return ErrInvalidTask }

// InvalidTaskFlowEntryError reports an update for a task that is neither
// staged nor previously attempted.
type InvalidTaskFlowEntryError struct {
	TaskID string
}

func (e *InvalidTaskFlowEntryError) Error() string {
	return fmt.Sprintf("task %q is neither staged nor attempted", e.TaskID)
}

func (e *InvalidTaskFlowEntryError) Unwrap() error { return ErrInvalidTaskFlowEntry }

// InvalidWorkflowStatusTransitionError reports a workflow status request the
// transition table rejected.
type InvalidWorkflowStatusTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidWorkflowStatusTransitionError) Error() string {
	return fmt.Sprintf("workflow cannot transition from %s to %s", e.From, e.To)
}

func (e *InvalidWorkflowStatusTransitionError) Unwrap() error {
	return ErrInvalidWorkflowStatusTransition
}

// IsContractError reports whether err is one of the typed errors raised for
// driver contract violations.
func IsContractError(err error) bool {
	return errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidTask) ||
		errors.Is(err, ErrInvalidTaskFlowEntry) ||
		errors.Is(err, ErrInvalidWorkflowStatusTransition)
}
