package api

// Status is the lifecycle state of a task, an item of a task, or a workflow.
type Status string

const (
	StatusUnset     Status = ""
	StatusRequested Status = "requested"
	StatusScheduled Status = "scheduled"
	StatusDelayed   Status = "delayed"
	StatusRunning   Status = "running"
	StatusPending   Status = "pending"
	StatusPausing   Status = "pausing"
	StatusPaused    Status = "paused"
	StatusResuming  Status = "resuming"
	StatusCanceling Status = "canceling"
	StatusCanceled  Status = "canceled"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
	StatusAbandoned Status = "abandoned"
	StatusRetrying  Status = "retrying"
)

// Statuses lists every known status in lattice order.
var Statuses = []Status{
	StatusUnset,
	StatusRequested,
	StatusScheduled,
	StatusDelayed,
	StatusRunning,
	StatusPending,
	StatusPausing,
	StatusPaused,
	StatusResuming,
	StatusCanceling,
	StatusCanceled,
	StatusSucceeded,
	StatusFailed,
	StatusExpired,
	StatusAbandoned,
	StatusRetrying,
}

// String returns "unset" for the zero status so logs stay readable.
func (s Status) String() string {
	if s == StatusUnset {
		return "unset"
	}
	return string(s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsActive reports whether work is in flight (or about to be) for s.
// Retrying is not active: the next attempt waits in staging until dispatched.
func (s Status) IsActive() bool {
	switch s {
	case StatusRequested, StatusScheduled, StatusDelayed, StatusRunning,
		StatusPausing, StatusCanceling, StatusResuming:
		return true
	default:
		return false
	}
}

// IsCompleted reports whether s is terminal.
func (s Status) IsCompleted() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusExpired, StatusAbandoned, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsAbended reports whether s is a failure-like terminal status.
func (s Status) IsAbended() bool {
	switch s {
	case StatusFailed, StatusExpired, StatusAbandoned:
		return true
	default:
		return false
	}
}

// IsPaused reports whether s is pausing, paused or pending.
func (s Status) IsPaused() bool {
	return s == StatusPausing || s == StatusPaused || s == StatusPending
}

// IsCanceled reports whether s is canceling or canceled.
func (s Status) IsCanceled() bool {
	return s == StatusCanceling || s == StatusCanceled
}

// ParseStatus converts a wire value into a Status. The literal "unset" maps
// to StatusUnset.
func ParseStatus(v string) (Status, error) {
	if v == "unset" {
		return StatusUnset, nil
	}
	s := Status(v)
	if !s.Valid() {
		return StatusUnset, &InvalidStatusError{Status: s}
	}
	return s, nil
}
