// Package taskqueue carries action requests from a driver to the workers that
// execute them.
package taskqueue

import (
	"context"
	"time"
)

// Task is one action request for a worker. With-items tasks produce one Task
// per item.
type Task struct {
	ID string

	// ConductorID and TaskID identify the conductor and the workflow task
	// the completion must be reported to.
	ConductorID string
	TaskID      string

	Action string
	Input  any
	ItemID *int

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task should be eligible
	// for processing. Zero value means "immediately" (i.e., at enqueue time).
	NotBefore time.Time
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next eligible task, blocking until one
	// is available or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
