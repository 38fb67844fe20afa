package taskqueue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on a Redis sorted set scored by NotBefore:
//
//	<prefix>tasks    => ZSET of encoded tasks, score = NotBefore in ms
//
// Dequeue polls for the lowest-scored member that is due and removes it
// atomically with a Lua script, so competing workers never claim the same
// task.
type RedisQueue struct {
	client       *redis.Client
	key          string
	pollInterval time.Duration
}

// Ensure RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue constructs a Redis-backed Queue.
// prefix is optional but recommended (e.g. "conductor:").
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "conductor:"
	}
	return &RedisQueue{
		client:       client,
		key:          prefix + "tasks",
		pollInterval: 50 * time.Millisecond,
	}
}

// Returns the first due member and removes it, or false when none is due.
var redisClaimLua = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #due == 0 then
	return false
end
redis.call('ZREM', KEYS[1], due[1])
return due[1]
`)

// Enqueue adds a task scored by its NotBefore time.
func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	if t.NotBefore.IsZero() {
		t.NotBefore = t.EnqueuedAt
	}
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	return q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(t.NotBefore.UnixMilli()),
		Member: data,
	}).Err()
}

// Dequeue polls until a due task is claimed or ctx is cancelled.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		data, err := redisClaimLua.Run(ctx, q.client, []string{q.key}, time.Now().UnixMilli()).Text()
		switch {
		case err == nil:
			return DecodeTask([]byte(data))
		case !errors.Is(err, redis.Nil):
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// Len returns the number of queued tasks, due or not.
func (q *RedisQueue) Len() int {
	n, err := q.client.ZCard(context.Background(), q.key).Result()
	if err != nil {
		return 0
	}
	return int(n)
}
