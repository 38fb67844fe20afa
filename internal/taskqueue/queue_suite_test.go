package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stretchr/testify/suite"
)

// QueueSuite runs the shared Queue contract against a backend. newQueue must
// return an empty queue.
type QueueSuite struct {
	suite.Suite
	newQueue func() Queue
	queue    Queue
}

func (s *QueueSuite) SetupTest() {
	s.queue = s.newQueue()
}

func (s *QueueSuite) TestDequeueInNotBeforeOrder() {
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)
	// Enqueued out of order on purpose.
	for _, n := range []int{2, 0, 1} {
		err := s.queue.Enqueue(ctx, Task{
			ID:          fmt.Sprintf("t-%d", n),
			ConductorID: "wf",
			TaskID:      "step",
			Action:      "core.echo",
			Input:       map[string]any{"n": float64(n)},
			NotBefore:   base.Add(time.Duration(n) * time.Second),
		})
		s.Require().NoError(err)
	}
	s.Equal(3, s.queue.Len())

	for n := range 3 {
		got, err := s.queue.Dequeue(ctx)
		s.Require().NoError(err)
		s.Equal(fmt.Sprintf("t-%d", n), got.ID)
		s.Equal("wf", got.ConductorID)
		s.Equal("core.echo", got.Action)
		s.Equal(map[string]any{"n": float64(n)}, got.Input)
	}
	s.Equal(0, s.queue.Len())
}

func (s *QueueSuite) TestItemIDSurvives() {
	ctx := context.Background()
	item := 3
	s.Require().NoError(s.queue.Enqueue(ctx, Task{ID: "items", ConductorID: "wf", TaskID: "fan", ItemID: &item}))

	got, err := s.queue.Dequeue(ctx)
	s.Require().NoError(err)
	s.Require().NotNil(got.ItemID)
	s.Equal(3, *got.ItemID)
}

func (s *QueueSuite) TestDelayedTaskWaits() {
	ctx := context.Background()
	start := time.Now()
	s.Require().NoError(s.queue.Enqueue(ctx, Task{ID: "later", ConductorID: "wf", NotBefore: start.Add(300 * time.Millisecond)}))

	got, err := s.queue.Dequeue(ctx)
	s.Require().NoError(err)
	s.Equal("later", got.ID)
	s.GreaterOrEqual(time.Since(start), 250*time.Millisecond)
}

func (s *QueueSuite) TestDequeueHonorsContext() {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := s.queue.Dequeue(ctx)
	s.True(errors.Is(err, context.DeadlineExceeded), "unexpected error: %v", err)
}
