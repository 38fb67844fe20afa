package taskqueue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryQueue is a Queue ordered by NotBefore, then by enqueue order.
// It is safe for concurrent use.
type InMemoryQueue struct {
	mu     sync.Mutex
	tasks  []Task
	notify chan struct{}
	now    func() time.Time
}

// NewInMemoryQueue creates an empty queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
}

// Ensure InMemoryQueue implements Queue.
var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = q.now()
	}
	if t.NotBefore.IsZero() {
		t.NotBefore = t.EnqueuedAt
	}

	q.mu.Lock()
	i := sort.Search(len(q.tasks), func(i int) bool {
		return q.tasks[i].NotBefore.After(t.NotBefore)
	})
	q.tasks = append(q.tasks, Task{})
	copy(q.tasks[i+1:], q.tasks[i:])
	q.tasks[i] = t
	q.mu.Unlock()

	q.wake()
	return nil
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		var wait time.Duration
		if len(q.tasks) > 0 {
			head := q.tasks[0]
			wait = head.NotBefore.Sub(q.now())
			if wait <= 0 {
				q.tasks = q.tasks[1:]
				more := len(q.tasks) > 0
				q.mu.Unlock()
				if more {
					// Pass the wake-up on to the next idle consumer.
					q.wake()
				}
				return &head, nil
			}
		}
		q.mu.Unlock()

		if err := q.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// sleep blocks until something is enqueued, wait elapses (when positive) or
// ctx is done.
func (q *InMemoryQueue) sleep(ctx context.Context, wait time.Duration) error {
	var timer <-chan time.Time
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.notify:
	case <-timer:
	}
	return nil
}

func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *InMemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
