package machines

import (
	"fmt"

	"github.com/petrijr/conductor/pkg/api"
)

// Activity tells whether anything else (other items of a task, or other tasks
// of a workflow) is still active when an event arrives.
type Activity uint8

const (
	ActivityNone Activity = iota
	Active
	Dormant
)

func (a Activity) String() string {
	switch a {
	case Active:
		return "active"
	case Dormant:
		return "dormant"
	default:
		return ""
	}
}

// Census summarizes the progress of siblings when an event arrives.
type Census uint8

const (
	CensusNone Census = iota
	CensusPaused
	CensusCanceled
	CensusFailed
	CensusIncomplete
	CensusCompleted
)

func (c Census) String() string {
	switch c {
	case CensusPaused:
		return "paused"
	case CensusCanceled:
		return "canceled"
	case CensusFailed:
		return "failed"
	case CensusIncomplete:
		return "incomplete"
	case CensusCompleted:
		return "completed"
	default:
		return ""
	}
}

// EventKey is a contextualized event: the raw kind plus the facts needed to
// pick a transition.
type EventKey struct {
	Kind     api.EventKind
	Activity Activity
	Census   Census
}

// Plain returns the key of an event that needs no context.
func Plain(kind api.EventKind) EventKey {
	return EventKey{Kind: kind}
}

func (k EventKey) String() string {
	s := string(k.Kind)
	if k.Activity != ActivityNone {
		s += "_" + k.Activity.String()
	}
	if k.Census != CensusNone {
		s += "_" + k.Census.String()
	}
	return s
}

func activityOf(active bool) Activity {
	if active {
		return Active
	}
	return Dormant
}

// ItemCensus summarizes every item except exclude. Priority is paused, then
// canceled, then failed, then incomplete, then completed.
func ItemCensus(items []api.Status, exclude int) (Activity, Census) {
	var active, paused, canceled, failed, incomplete bool
	for i, st := range items {
		if i == exclude {
			continue
		}
		if st.IsActive() {
			active = true
		}
		switch {
		case st.IsPaused():
			paused = true
		case st.IsCanceled():
			canceled = true
		case st.IsAbended():
			failed = true
		case !st.IsCompleted():
			incomplete = true
		}
	}
	census := CensusCompleted
	switch {
	case paused:
		census = CensusPaused
	case canceled:
		census = CensusCanceled
	case failed:
		census = CensusFailed
	case incomplete:
		census = CensusIncomplete
	}
	return activityOf(active), census
}

// ItemProgress summarizes all items as active/dormant plus incomplete or
// completed.
func ItemProgress(items []api.Status) (Activity, Census) {
	active := false
	census := CensusCompleted
	for _, st := range items {
		if st.IsActive() {
			active = true
		}
		if !st.IsCompleted() {
			census = CensusIncomplete
		}
	}
	return activityOf(active), census
}

// TaskEventKey contextualizes an event delivered to a task. items holds the
// item statuses of a with-items task and is ignored otherwise.
func TaskEventKey(ev api.Event, hasItems bool, items []api.Status) (EventKey, error) {
	if ev == nil {
		return EventKey{}, &api.InvalidEventError{Reason: "nil event"}
	}
	if err := ev.Validate(); err != nil {
		return EventKey{}, err
	}

	switch e := ev.(type) {
	case *api.ActionExecutionEvent:
		itemID, ok := e.ItemID()
		if !ok {
			return Plain(e.Kind()), nil
		}
		if !hasItems {
			return EventKey{}, &api.InvalidEventError{Event: ev, Reason: "item id on a task without items"}
		}
		if itemID >= len(items) {
			return EventKey{}, &api.InvalidEventError{Event: ev, Reason: fmt.Sprintf("item id %d out of range", itemID)}
		}
		act, census := ItemCensus(items, itemID)
		return EventKey{Kind: e.Kind(), Activity: act, Census: census}, nil

	case *api.WorkflowExecutionEvent:
		if !hasItems {
			return Plain(e.Kind()), nil
		}
		act, census := ItemProgress(items)
		return EventKey{Kind: e.Kind(), Activity: act, Census: census}, nil

	case *api.EngineOperationEvent:
		return Plain(e.Kind()), nil
	}
	return EventKey{}, &api.InvalidEventError{Event: ev, Reason: "not a task event"}
}

// WorkflowFacts describes the other tasks of a workflow when an event is
// applied to the workflow machine.
type WorkflowFacts struct {
	// TasksActive is true when another task is active.
	TasksActive bool
	// TasksCanceled is true when another task is canceling or canceled.
	TasksCanceled bool
	// TasksPaused is true when another task is pausing, paused or pending.
	TasksPaused bool
	// TasksStaged is true when a staged task is ready to run, or the
	// reporting task fired transitions.
	TasksStaged bool
	// Remediated is true when an abended task fired a transition.
	Remediated bool
}

var conditionalTaskStatuses = map[api.Status]bool{
	api.StatusPending:   true,
	api.StatusPaused:    true,
	api.StatusSucceeded: true,
	api.StatusFailed:    true,
	api.StatusExpired:   true,
	api.StatusAbandoned: true,
	api.StatusCanceled:  true,
}

// WorkflowEventKey contextualizes an event delivered to the workflow.
func WorkflowEventKey(ev api.Event, f WorkflowFacts) (EventKey, error) {
	if ev == nil {
		return EventKey{}, &api.InvalidEventError{Reason: "nil event"}
	}
	if err := ev.Validate(); err != nil {
		return EventKey{}, err
	}

	switch e := ev.(type) {
	case *api.TaskExecutionEvent:
		kind := e.Kind()
		status := e.Status
		if status.IsAbended() && f.Remediated {
			kind = api.TaskRemediated
			status = api.StatusSucceeded
		}
		if !conditionalTaskStatuses[status] {
			return Plain(kind), nil
		}
		key := EventKey{Kind: kind, Activity: activityOf(f.TasksActive)}
		if status == api.StatusSucceeded {
			switch {
			case f.TasksCanceled:
				key.Census = CensusCanceled
			case f.TasksPaused:
				key.Census = CensusPaused
			case f.TasksStaged:
				key.Census = CensusIncomplete
			default:
				key.Census = CensusCompleted
			}
		}
		return key, nil

	case *api.WorkflowExecutionEvent:
		switch e.Status {
		case api.StatusPausing, api.StatusCanceling:
			return EventKey{Kind: e.Kind(), Activity: activityOf(f.TasksActive)}, nil
		case api.StatusResuming:
			census := CensusIncomplete
			if !f.TasksActive && !f.TasksStaged && !f.TasksPaused {
				census = CensusCompleted
			}
			return EventKey{Kind: e.Kind(), Census: census}, nil
		}
		return Plain(e.Kind()), nil
	}
	return EventKey{}, &api.InvalidEventError{Event: ev, Reason: "not a workflow event"}
}
