package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/petrijr/conductor/internal/engine"
	"github.com/petrijr/conductor/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe Store backed by a map. Snapshots
// are kept encoded, so callers never share state with the store.
type InMemoryStore struct {
	mu      sync.RWMutex
	codec   Codec
	records map[string]*memoryRecord
	now     func() time.Time
}

type memoryRecord struct {
	data         []byte
	status       api.Status
	updatedAt    time.Time
	leaseOwner   string
	leaseExpires time.Time
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		codec:   JSONCodec{},
		records: make(map[string]*memoryRecord),
		now:     time.Now,
	}
}

func (s *InMemoryStore) Save(ctx context.Context, snap *engine.Snapshot) error {
	data, err := EncodeSnapshot(s.codec, snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[snap.ID]
	if !ok {
		rec = &memoryRecord{}
		s.records[snap.ID] = rec
	}
	rec.data = data
	rec.status = snap.State
	rec.updatedAt = s.now()
	return nil
}

func (s *InMemoryStore) Load(ctx context.Context, id string) (*engine.Snapshot, error) {
	s.mu.RLock()
	rec, ok := s.records[id]
	var data []byte
	if ok {
		data = rec.data
	}
	s.mu.RUnlock()

	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return DecodeSnapshot(s.codec, data)
}

func (s *InMemoryStore) List(ctx context.Context, filter Filter) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Summary
	for id, rec := range s.records {
		if !filter.match(rec.status) {
			continue
		}
		out = append(out, Summary{ID: id, Status: rec.status, UpdatedAt: rec.updatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	return nil
}

func (s *InMemoryStore) TryAcquireLease(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false, ErrSnapshotNotFound
	}
	now := s.now()
	if rec.leaseOwner != "" && rec.leaseOwner != owner && now.Before(rec.leaseExpires) {
		return false, nil
	}
	rec.leaseOwner = owner
	rec.leaseExpires = now.Add(ttl)
	return true, nil
}

func (s *InMemoryStore) RenewLease(ctx context.Context, id, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrSnapshotNotFound
	}
	if rec.leaseOwner != owner {
		return ErrLeaseHeld
	}
	rec.leaseExpires = s.now().Add(ttl)
	return nil
}

func (s *InMemoryStore) ReleaseLease(ctx context.Context, id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.leaseOwner != owner {
		return nil
	}
	rec.leaseOwner = ""
	rec.leaseExpires = time.Time{}
	return nil
}
