// Package machines implements the task and workflow state machines: the
// status lattice, the immutable transition tables and the contextualization
// of raw events into table keys.
package machines

import "github.com/petrijr/conductor/pkg/api"

var tail = []api.Status{
	api.StatusPending, api.StatusPausing, api.StatusPaused,
	api.StatusCanceling, api.StatusCanceled,
	api.StatusSucceeded, api.StatusFailed, api.StatusExpired, api.StatusAbandoned,
}

func set(groups ...[]api.Status) map[api.Status]bool {
	m := make(map[api.Status]bool)
	for _, g := range groups {
		for _, s := range g {
			m[s] = true
		}
	}
	return m
}

func list(s ...api.Status) []api.Status { return s }

var validTransitions = map[api.Status]map[api.Status]bool{
	api.StatusUnset:     set(list(api.StatusRequested, api.StatusScheduled, api.StatusDelayed, api.StatusRunning), tail),
	api.StatusRequested: set(list(api.StatusScheduled, api.StatusDelayed, api.StatusRunning), tail),
	api.StatusScheduled: set(list(api.StatusDelayed, api.StatusRunning), tail),
	api.StatusDelayed:   set(list(api.StatusRunning), tail),
	api.StatusRunning:   set(tail),
	api.StatusPending: set(list(api.StatusResuming, api.StatusRunning, api.StatusPaused,
		api.StatusCanceling, api.StatusCanceled, api.StatusSucceeded, api.StatusFailed,
		api.StatusExpired, api.StatusAbandoned)),
	api.StatusPausing: set(list(api.StatusRunning), tail),
	api.StatusPaused: set(list(api.StatusResuming, api.StatusRunning, api.StatusPending,
		api.StatusCanceling, api.StatusCanceled, api.StatusSucceeded, api.StatusFailed,
		api.StatusExpired, api.StatusAbandoned)),
	api.StatusResuming: set(list(api.StatusRunning), tail),
	api.StatusCanceling: set(list(api.StatusCanceled, api.StatusSucceeded, api.StatusFailed,
		api.StatusExpired, api.StatusAbandoned)),
	api.StatusCanceled:  set(),
	api.StatusSucceeded: set(list(api.StatusRetrying, api.StatusFailed)),
	api.StatusFailed:    set(list(api.StatusRetrying)),
	api.StatusExpired:   set(list(api.StatusRetrying)),
	api.StatusAbandoned: set(list(api.StatusRetrying)),
	api.StatusRetrying:  set(list(api.StatusRequested, api.StatusScheduled, api.StatusDelayed, api.StatusRunning)),
}

// IsTransitionValid reports whether a task or workflow may move from one
// status to another. Staying in the same status is always valid.
func IsTransitionValid(from, to api.Status) bool {
	if from == to {
		return from.Valid()
	}
	return validTransitions[from][to]
}
