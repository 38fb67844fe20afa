package persistence

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/conductor/internal/engine"
	"github.com/petrijr/conductor/pkg/api"
)

// RedisStore is a Store backed by Redis.
// It uses a simple key structure:
//
//	<prefix>snap:<id>              => HASH {status, updated_at, data}
//	<prefix>lease:<id>             => owner, with a TTL
//	<prefix>idx:all                => SET of all snapshot IDs
//	<prefix>idx:status:<status>    => SET of snapshot IDs for a given status
//
// The status index is best-effort; List re-checks the status stored on the
// hash before returning a summary.
type RedisStore struct {
	client *redis.Client
	prefix string
	codec  Codec
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "conductor:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "conductor:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		codec:  JSONCodec{},
	}
}

func (r *RedisStore) keySnapshot(id string) string {
	return r.prefix + "snap:" + id
}

func (r *RedisStore) keyLease(id string) string {
	return r.prefix + "lease:" + id
}

func (r *RedisStore) keyAll() string {
	return r.prefix + "idx:all"
}

func (r *RedisStore) keyStatus(status api.Status) string {
	return r.prefix + "idx:status:" + string(status)
}

func (r *RedisStore) Save(ctx context.Context, snap *engine.Snapshot) error {
	data, err := EncodeSnapshot(r.codec, snap)
	if err != nil {
		return err
	}

	key := r.keySnapshot(snap.ID)
	prev, err := r.client.HGet(ctx, key, "status").Result()
	hadPrev := err == nil
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key,
		"status", string(snap.State),
		"updated_at", time.Now().UnixNano(),
		"data", data,
	)
	if hadPrev && prev != string(snap.State) {
		pipe.SRem(ctx, r.keyStatus(api.Status(prev)), snap.ID)
	}
	pipe.SAdd(ctx, r.keyAll(), snap.ID)
	pipe.SAdd(ctx, r.keyStatus(snap.State), snap.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Load(ctx context.Context, id string) (*engine.Snapshot, error) {
	data, err := r.client.HGet(ctx, r.keySnapshot(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return DecodeSnapshot(r.codec, data)
}

func (r *RedisStore) List(ctx context.Context, filter Filter) ([]Summary, error) {
	var (
		ids []string
		err error
	)
	if len(filter.Statuses) == 0 {
		ids, err = r.client.SMembers(ctx, r.keyAll()).Result()
	} else {
		keys := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			keys[i] = r.keyStatus(st)
		}
		ids, err = r.client.SUnion(ctx, keys...).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, r.keySnapshot(id), "status", "updated_at")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var out []Summary
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			return nil, err
		}
		status, ok := vals[0].(string)
		if !ok {
			// Deleted between the index read and the hash read.
			continue
		}
		if !filter.match(api.Status(status)) {
			continue
		}
		sum := Summary{ID: ids[i], Status: api.Status(status)}
		if raw, ok := vals[1].(string); ok {
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
				sum.UpdatedAt = time.Unix(0, n)
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	key := r.keySnapshot(id)
	status, err := r.client.HGet(ctx, key, "status").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key, r.keyLease(id))
	pipe.SRem(ctx, r.keyAll(), id)
	if err == nil {
		pipe.SRem(ctx, r.keyStatus(api.Status(status)), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

var (
	// Lua script for acquiring a lease with re-entrant behavior for the same
	// owner. Returns -1 if the snapshot is missing, 1 if acquired/refreshed
	// and 0 otherwise.
	redisLeaseAcquireLua = redis.NewScript(`
local snap = KEYS[1]
local key = KEYS[2]
local owner = ARGV[1]
local ttlms = tonumber(ARGV[2])

if redis.call('EXISTS', snap) == 0 then
	return -1
end
local cur = redis.call('GET', key)
if not cur then
	redis.call('PSETEX', key, ttlms, owner)
	return 1
end
if cur == owner then
	redis.call('PEXPIRE', key, ttlms)
	return 1
end
return 0
`)

	// Lua script for renewing a lease. Returns -1 if the snapshot is missing,
	// 1 if renewed and 0 otherwise.
	redisLeaseRenewLua = redis.NewScript(`
local snap = KEYS[1]
local key = KEYS[2]
local owner = ARGV[1]
local ttlms = tonumber(ARGV[2])

if redis.call('EXISTS', snap) == 0 then
	return -1
end
if redis.call('GET', key) == owner then
	redis.call('PEXPIRE', key, ttlms)
	return 1
end
return 0
`)

	// Lua script for releasing a lease. Returns 1 if released, 0 otherwise.
	redisLeaseReleaseLua = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]

if redis.call('GET', key) == owner then
	redis.call('DEL', key)
	return 1
end
return 0
`)
)

func (r *RedisStore) TryAcquireLease(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	res, err := redisLeaseAcquireLua.Run(ctx, r.client,
		[]string{r.keySnapshot(id), r.keyLease(id)}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	switch res {
	case -1:
		return false, ErrSnapshotNotFound
	case 1:
		return true, nil
	}
	return false, nil
}

func (r *RedisStore) RenewLease(ctx context.Context, id, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	res, err := redisLeaseRenewLua.Run(ctx, r.client,
		[]string{r.keySnapshot(id), r.keyLease(id)}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	switch res {
	case -1:
		return ErrSnapshotNotFound
	case 1:
		return nil
	}
	return ErrLeaseHeld
}

func (r *RedisStore) ReleaseLease(ctx context.Context, id, owner string) error {
	return redisLeaseReleaseLua.Run(ctx, r.client, []string{r.keyLease(id)}, owner).Err()
}
