package api

import (
	"reflect"
	"time"
)

// ActionRequest is one unit of work for an executor. With-items tasks produce
// one request per item.
type ActionRequest struct {
	Action string `json:"action" yaml:"action"`
	Input  any    `json:"input,omitempty" yaml:"input,omitempty"`
	ItemID *int   `json:"item_id,omitempty" yaml:"item_id,omitempty"`
}

// TaskDispatch describes a task that may run now.
type TaskDispatch struct {
	ID      string          `json:"id" yaml:"id"`
	Ctx     int             `json:"ctx" yaml:"ctx"`
	Actions []ActionRequest `json:"actions" yaml:"actions"`

	// Items is true for with-items tasks. ItemCount is the total number of
	// items, Concurrency the configured ceiling (0 = unlimited).
	Items       bool `json:"items,omitempty" yaml:"items,omitempty"`
	ItemCount   int  `json:"item_count,omitempty" yaml:"item_count,omitempty"`
	Concurrency int  `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// Delay is set on retries; the driver waits this long before running
	// the actions.
	Delay time.Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// LogType classifies a LogEntry.
type LogType string

const (
	LogInfo  LogType = "info"
	LogWarn  LogType = "warn"
	LogError LogType = "error"
)

// LogEntry is a structured workflow log record. Errors recorded against a
// task or a transition carry the corresponding ids.
type LogEntry struct {
	Type             LogType `json:"type" yaml:"type"`
	Message          string  `json:"message" yaml:"message"`
	TaskID           string  `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	TaskTransitionID string  `json:"task_transition_id,omitempty" yaml:"task_transition_id,omitempty"`
	Result           any     `json:"result,omitempty" yaml:"result,omitempty"`
	Data             any     `json:"data,omitempty" yaml:"data,omitempty"`
}

// Equal reports whether two entries carry identical content.
func (e LogEntry) Equal(o LogEntry) bool {
	return e.Type == o.Type &&
		e.Message == o.Message &&
		e.TaskID == o.TaskID &&
		e.TaskTransitionID == o.TaskTransitionID &&
		reflect.DeepEqual(e.Result, o.Result) &&
		reflect.DeepEqual(e.Data, o.Data)
}
