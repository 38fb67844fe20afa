// Package persistence stores conductor snapshots and the history of what
// happened to them.
//
// Every Store keeps one encoded snapshot per conductor id together with its
// workflow status, so List can filter without decoding. Several drivers may
// share a store; a single-writer lease serializes mutation of one conductor.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/petrijr/conductor/internal/engine"
	"github.com/petrijr/conductor/pkg/api"
)

var (
	// ErrSnapshotNotFound is returned when no snapshot is stored for an id.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrLeaseHeld is returned when a lease is owned by someone else.
	ErrLeaseHeld = errors.New("snapshot is leased by another owner")

	// ErrInvalidTTL is returned for non-positive lease durations.
	ErrInvalidTTL = errors.New("lease ttl must be > 0")
)

// Persistence bundles the stores a driver depends on.
type Persistence struct {
	Snapshots Store
	Events    EventStore
}

// Filter selects snapshots in List. An empty Statuses matches every status.
type Filter struct {
	Statuses []api.Status
}

func (f Filter) match(s api.Status) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, want := range f.Statuses {
		if want == s {
			return true
		}
	}
	return false
}

// Summary describes a stored snapshot without decoding it.
type Summary struct {
	ID        string
	Status    api.Status
	UpdatedAt time.Time
}

// Store persists conductor snapshots.
type Store interface {
	// Save inserts or replaces the snapshot stored under snap.ID.
	Save(ctx context.Context, snap *engine.Snapshot) error
	// Load returns the snapshot stored under id, or ErrSnapshotNotFound.
	Load(ctx context.Context, id string) (*engine.Snapshot, error)
	// List returns the summaries of matching snapshots sorted by id.
	List(ctx context.Context, filter Filter) ([]Summary, error)
	// Delete removes a snapshot and its lease. Deleting a missing id is not
	// an error.
	Delete(ctx context.Context, id string) error

	Leaser
}

// Leaser grants time-limited exclusive ownership of a stored snapshot.
type Leaser interface {
	// TryAcquireLease attempts to acquire (or re-acquire) the lease on id.
	// If another owner holds an unexpired lease it returns acquired=false,
	// err=nil. A lease owned by the same owner is re-entrant.
	TryAcquireLease(ctx context.Context, id, owner string, ttl time.Duration) (acquired bool, err error)
	// RenewLease extends a lease owned by owner, or returns ErrLeaseHeld.
	RenewLease(ctx context.Context, id, owner string, ttl time.Duration) error
	// ReleaseLease releases a lease owned by owner. It is idempotent and
	// leaves leases of other owners untouched.
	ReleaseLease(ctx context.Context, id, owner string) error
}

// WithLease acquires the lease on id, runs fn and releases the lease again.
// It returns ErrLeaseHeld when the lease is owned by someone else.
func WithLease(ctx context.Context, l Leaser, id, owner string, ttl time.Duration, fn func(ctx context.Context) error) (err error) {
	ok, err := l.TryAcquireLease(ctx, id, owner, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLeaseHeld
	}
	defer func() {
		if rerr := l.ReleaseLease(context.WithoutCancel(ctx), id, owner); err == nil {
			err = rerr
		}
	}()
	return fn(ctx)
}
