package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/petrijr/conductor/pkg/api"
)

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func() Store { return NewInMemoryStore() }})
}

func TestInMemoryStore_LoadReturnsCopy(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.Save(ctx, newSnapshot(t, "wf-1", api.StatusRunning)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	first, err := store.Load(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	first.Input["name"] = "changed"

	second, err := store.Load(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if second.Input["name"] != "Ada" {
		t.Fatalf("stored snapshot was mutated through a loaded copy: %v", second.Input)
	}
}

func TestInMemoryStore_LeaseUsesClock(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Unix(1000, 0)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if err := store.Save(ctx, newSnapshot(t, "wf-1", api.StatusRunning)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if ok, err := store.TryAcquireLease(ctx, "wf-1", "a", time.Minute); err != nil || !ok {
		t.Fatalf("TryAcquireLease a = %v, %v", ok, err)
	}

	now = now.Add(59 * time.Second)
	if ok, _ := store.TryAcquireLease(ctx, "wf-1", "b", time.Minute); ok {
		t.Fatal("lease acquired before expiry")
	}

	now = now.Add(time.Second)
	if ok, err := store.TryAcquireLease(ctx, "wf-1", "b", time.Minute); err != nil || !ok {
		t.Fatalf("TryAcquireLease b after expiry = %v, %v", ok, err)
	}
}

func TestSaveRejectsNilSnapshot(t *testing.T) {
	if err := NewInMemoryStore().Save(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil snapshot")
	}
}
