package persistence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/petrijr/conductor/internal/engine"
	"github.com/petrijr/conductor/pkg/api"
)

// StoreSuite runs the same behavioural checks against every Store backend.
// newStore must return an empty store for each test.
type StoreSuite struct {
	suite.Suite
	newStore func() Store

	store Store
	ctx   context.Context
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore()
}

func (s *StoreSuite) TestSaveLoadRestoresConductor() {
	snap := newConductor(s.T(), "wf-1").Serialize()
	s.Require().NoError(s.store.Save(s.ctx, snap))

	got, err := s.store.Load(s.ctx, "wf-1")
	s.Require().NoError(err)
	s.Equal("wf-1", got.ID)
	s.Equal(api.StatusRunning, got.State)
	s.Equal("Ada", got.Input["name"])

	c, err := engine.FromSnapshot(engine.Config{}, got)
	s.Require().NoError(err)
	next := c.GetNextTasks(s.ctx)
	s.Require().Len(next, 1)
	s.Equal("task2", next[0].ID)
	s.Equal("hello Ada", next[0].Actions[0].Input.(map[string]any)["message"])
}

func (s *StoreSuite) TestLoadMissing() {
	_, err := s.store.Load(s.ctx, "nope")
	s.ErrorIs(err, ErrSnapshotNotFound)
}

func (s *StoreSuite) TestSaveOverwritesAndReindexes() {
	s.Require().NoError(s.store.Save(s.ctx, newSnapshot(s.T(), "wf-1", api.StatusRunning)))
	s.Require().NoError(s.store.Save(s.ctx, newSnapshot(s.T(), "wf-1", api.StatusSucceeded)))

	got, err := s.store.Load(s.ctx, "wf-1")
	s.Require().NoError(err)
	s.Equal(api.StatusSucceeded, got.State)

	running, err := s.store.List(s.ctx, Filter{Statuses: []api.Status{api.StatusRunning}})
	s.Require().NoError(err)
	s.Empty(running)

	done, err := s.store.List(s.ctx, Filter{Statuses: []api.Status{api.StatusSucceeded}})
	s.Require().NoError(err)
	s.Equal([]string{"wf-1"}, summaryIDs(done))
}

func (s *StoreSuite) TestListSortedAndFiltered() {
	for id, st := range map[string]api.Status{
		"b": api.StatusPaused,
		"a": api.StatusRunning,
		"c": api.StatusFailed,
	} {
		s.Require().NoError(s.store.Save(s.ctx, newSnapshot(s.T(), id, st)))
	}

	all, err := s.store.List(s.ctx, Filter{})
	s.Require().NoError(err)
	s.Equal([]string{"a", "b", "c"}, summaryIDs(all))
	for _, sum := range all {
		s.False(sum.UpdatedAt.IsZero(), "summary %s has no update time", sum.ID)
	}

	some, err := s.store.List(s.ctx, Filter{Statuses: []api.Status{api.StatusFailed, api.StatusPaused}})
	s.Require().NoError(err)
	s.Equal([]string{"b", "c"}, summaryIDs(some))
	s.Equal(api.StatusPaused, some[0].Status)
}

func (s *StoreSuite) TestDelete() {
	s.Require().NoError(s.store.Save(s.ctx, newSnapshot(s.T(), "wf-1", api.StatusRunning)))
	s.Require().NoError(s.store.Delete(s.ctx, "wf-1"))

	_, err := s.store.Load(s.ctx, "wf-1")
	s.ErrorIs(err, ErrSnapshotNotFound)

	all, err := s.store.List(s.ctx, Filter{})
	s.Require().NoError(err)
	s.Empty(all)

	s.NoError(s.store.Delete(s.ctx, "wf-1"), "deleting twice must succeed")
}

func (s *StoreSuite) TestLeaseAcquireRenewRelease() {
	s.Require().NoError(s.store.Save(s.ctx, newSnapshot(s.T(), "wf-1", api.StatusRunning)))

	acq, err := s.store.TryAcquireLease(s.ctx, "wf-1", "owner1", time.Second)
	s.Require().NoError(err)
	s.True(acq, "expected owner1 to acquire")

	acq, err = s.store.TryAcquireLease(s.ctx, "wf-1", "owner1", time.Second)
	s.Require().NoError(err)
	s.True(acq, "expected lease to be re-entrant")

	acq, err = s.store.TryAcquireLease(s.ctx, "wf-1", "owner2", time.Second)
	s.Require().NoError(err)
	s.False(acq, "expected owner2 not to acquire while active")

	s.NoError(s.store.RenewLease(s.ctx, "wf-1", "owner1", time.Second))
	s.ErrorIs(s.store.RenewLease(s.ctx, "wf-1", "owner2", time.Second), ErrLeaseHeld)

	// Releasing someone else's lease is a no-op.
	s.NoError(s.store.ReleaseLease(s.ctx, "wf-1", "owner2"))
	acq, err = s.store.TryAcquireLease(s.ctx, "wf-1", "owner2", time.Second)
	s.Require().NoError(err)
	s.False(acq)

	s.NoError(s.store.ReleaseLease(s.ctx, "wf-1", "owner1"))
	s.NoError(s.store.ReleaseLease(s.ctx, "wf-1", "owner1"), "release must be idempotent")

	acq, err = s.store.TryAcquireLease(s.ctx, "wf-1", "owner2", time.Second)
	s.Require().NoError(err)
	s.True(acq, "expected owner2 to acquire after release")
}

func (s *StoreSuite) TestLeaseExpires() {
	s.Require().NoError(s.store.Save(s.ctx, newSnapshot(s.T(), "wf-1", api.StatusRunning)))

	acq, err := s.store.TryAcquireLease(s.ctx, "wf-1", "owner1", 50*time.Millisecond)
	s.Require().NoError(err)
	s.True(acq)

	time.Sleep(120 * time.Millisecond)

	acq, err = s.store.TryAcquireLease(s.ctx, "wf-1", "owner2", time.Second)
	s.Require().NoError(err)
	s.True(acq, "expected owner2 to acquire after expiry")
}

func (s *StoreSuite) TestLeaseConcurrentAcquireOnlyOne() {
	s.Require().NoError(s.store.Save(s.ctx, newSnapshot(s.T(), "wf-1", api.StatusRunning)))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired []string
	)
	for _, owner := range []string{"owner1", "owner2", "owner3", "owner4"} {
		wg.Add(1)
		go func(o string) {
			defer wg.Done()
			ok, err := s.store.TryAcquireLease(s.ctx, "wf-1", o, 5*time.Second)
			if err != nil || !ok {
				return
			}
			mu.Lock()
			acquired = append(acquired, o)
			mu.Unlock()
		}(owner)
	}
	wg.Wait()

	s.Len(acquired, 1, "expected exactly one acquirer, got %v", acquired)
}

func (s *StoreSuite) TestLeaseErrors() {
	_, err := s.store.TryAcquireLease(s.ctx, "missing", "owner1", time.Second)
	s.ErrorIs(err, ErrSnapshotNotFound)
	s.ErrorIs(s.store.RenewLease(s.ctx, "missing", "owner1", time.Second), ErrSnapshotNotFound)
	s.NoError(s.store.ReleaseLease(s.ctx, "missing", "owner1"))

	s.Require().NoError(s.store.Save(s.ctx, newSnapshot(s.T(), "wf-1", api.StatusRunning)))
	_, err = s.store.TryAcquireLease(s.ctx, "wf-1", "owner1", 0)
	s.ErrorIs(err, ErrInvalidTTL)
	s.ErrorIs(s.store.RenewLease(s.ctx, "wf-1", "owner1", -time.Second), ErrInvalidTTL)
}

func (s *StoreSuite) TestWithLease() {
	s.Require().NoError(s.store.Save(s.ctx, newSnapshot(s.T(), "wf-1", api.StatusRunning)))

	ran := false
	err := WithLease(s.ctx, s.store, "wf-1", "owner1", time.Second, func(ctx context.Context) error {
		ran = true
		// Another owner is locked out while fn runs.
		inner := WithLease(ctx, s.store, "wf-1", "owner2", time.Second, func(context.Context) error { return nil })
		s.ErrorIs(inner, ErrLeaseHeld)
		return nil
	})
	s.Require().NoError(err)
	s.True(ran)

	boom := errors.New("boom")
	err = WithLease(s.ctx, s.store, "wf-1", "owner2", time.Second, func(context.Context) error { return boom })
	s.ErrorIs(err, boom)

	// The lease was released despite the error.
	acq, err := s.store.TryAcquireLease(s.ctx, "wf-1", "owner3", time.Second)
	s.Require().NoError(err)
	s.True(acq)
}
