package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/petrijr/conductor/pkg/api"
)

// EventStore is an append-only history store for conductor events.
type EventStore interface {
	AppendEvent(ctx context.Context, ev api.HistoryEvent) error
	ListEvents(ctx context.Context, conductorID string) ([]api.HistoryEvent, error)
}

// NoopEventStore discards all events.
type NoopEventStore struct{}

func (NoopEventStore) AppendEvent(ctx context.Context, ev api.HistoryEvent) error { return nil }
func (NoopEventStore) ListEvents(ctx context.Context, conductorID string) ([]api.HistoryEvent, error) {
	return nil, nil
}

// InMemoryEventStore keeps history in process memory.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[string][]api.HistoryEvent
}

var _ EventStore = (*InMemoryEventStore)(nil)

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{events: make(map[string][]api.HistoryEvent)}
}

func (s *InMemoryEventStore) AppendEvent(ctx context.Context, ev api.HistoryEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.mu.Lock()
	s.events[ev.ConductorID] = append(s.events[ev.ConductorID], ev)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryEventStore) ListEvents(ctx context.Context, conductorID string) ([]api.HistoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.events[conductorID]
	out := make([]api.HistoryEvent, len(evs))
	copy(out, evs)
	return out, nil
}

// HistoryObserver records conductor notifications into an EventStore.
// Append failures are reported to OnAppendError when set and otherwise
// dropped; history never blocks the conductor.
type HistoryObserver struct {
	api.NoopObserver

	Store         EventStore
	OnAppendError func(err error)
	now           func() time.Time
}

var _ api.Observer = (*HistoryObserver)(nil)

// NewHistoryObserver returns an observer appending to store.
func NewHistoryObserver(store EventStore) *HistoryObserver {
	return &HistoryObserver{Store: store, now: time.Now}
}

func (o *HistoryObserver) append(ctx context.Context, ev api.HistoryEvent) {
	if o.Store == nil {
		return
	}
	if o.now != nil {
		ev.At = o.now()
	}
	if err := o.Store.AppendEvent(ctx, ev); err != nil && o.OnAppendError != nil {
		o.OnAppendError(err)
	}
}

func (o *HistoryObserver) OnWorkflowStatus(ctx context.Context, id string, from, to api.Status) {
	o.append(ctx, api.HistoryEvent{
		ConductorID: id,
		Type:        api.HistoryWorkflowStatus,
		Status:      to,
		Detail:      fmt.Sprintf("from=%s", displayStatus(from)),
	})
}

func (o *HistoryObserver) OnTaskStatus(ctx context.Context, id, taskID string, from, to api.Status) {
	o.append(ctx, api.HistoryEvent{
		ConductorID: id,
		Type:        api.HistoryTaskStatus,
		TaskID:      taskID,
		Status:      to,
		Detail:      fmt.Sprintf("from=%s", displayStatus(from)),
	})
}

func (o *HistoryObserver) OnTaskDispatched(ctx context.Context, id string, dispatch api.TaskDispatch) {
	o.append(ctx, api.HistoryEvent{
		ConductorID: id,
		Type:        api.HistoryTaskDispatched,
		TaskID:      dispatch.ID,
		Detail:      fmt.Sprintf("ctx=%d actions=%d", dispatch.Ctx, len(dispatch.Actions)),
	})
}

func (o *HistoryObserver) OnError(ctx context.Context, id string, entry api.LogEntry) {
	o.append(ctx, api.HistoryEvent{
		ConductorID: id,
		Type:        api.HistoryError,
		TaskID:      entry.TaskID,
		Detail:      entry.Message,
	})
}

func displayStatus(s api.Status) string {
	if s == api.StatusUnset {
		return "unset"
	}
	return string(s)
}
