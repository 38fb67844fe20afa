package persistence

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/conductor/internal/testutil"
	"github.com/petrijr/conductor/pkg/api"
)

var redisTestSeq atomic.Int64

func TestRedisStoreSuite(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: testutil.GetRedisAddress(t)})
	t.Cleanup(func() {
		_ = client.Close()
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping failed: %v", err)
	}

	suite.Run(t, &StoreSuite{newStore: func() Store {
		// A fresh prefix per test keeps the keyspaces apart.
		prefix := fmt.Sprintf("conductor:test:%d:", redisTestSeq.Add(1))
		return NewRedisStore(client, prefix)
	}})
}

func TestRedisStore_StaleIndexIsFiltered(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: testutil.GetRedisAddress(t)})
	t.Cleanup(func() {
		_ = client.Close()
	})
	ctx := context.Background()
	prefix := fmt.Sprintf("conductor:stale:%d:", redisTestSeq.Add(1))
	store := NewRedisStore(client, prefix)

	if err := store.Save(ctx, newSnapshot(t, "wf-1", api.StatusRunning)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	// Simulate an index entry left behind by an interrupted write.
	if err := client.SAdd(ctx, store.keyStatus(api.StatusFailed), "wf-1").Err(); err != nil {
		t.Fatalf("SAdd failed: %v", err)
	}

	got, err := store.List(ctx, Filter{Statuses: []api.Status{api.StatusFailed}})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected stale index entry to be filtered, got %+v", got)
	}
}
