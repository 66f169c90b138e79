package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// popInterval bounds each BRPOP so the loop can promote newly due delayed
// items and observe context cancellation promptly.
const popInterval = time.Second

// promoteScript atomically moves due delayed items onto the head queue.
var promoteScript = redis.NewScript(`
	local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
	for _, item in ipairs(due) do
		redis.call('LPUSH', KEYS[2], item)
		redis.call('ZREM', KEYS[1], item)
	end
	return #due
`)

// releaseScript deletes a lock key only when the caller still owns it.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisOptions configures the Redis-backed queue.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisQueue implements Queue on Redis lists (LPUSH/BRPOP), a sorted set
// per queue for delayed items, and SET NX PX for the distributed lock.
type RedisQueue struct {
	rdb *redis.Client
}

// NewRedisQueue connects to Redis and verifies the connection with a
// ping before returning.
func NewRedisQueue(ctx context.Context, opts RedisOptions) (*RedisQueue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}

	return &RedisQueue{rdb: rdb}, nil
}

// Push appends an item to the named queue.
func (q *RedisQueue) Push(ctx context.Context, name string, payload []byte) error {
	if err := q.rdb.LPush(ctx, name, payload).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", name, err)
	}
	return nil
}

// PushDelayed schedules an item on the queue's delayed set, scored by its
// readiness time in milliseconds.
func (q *RedisQueue) PushDelayed(ctx context.Context, name string, payload []byte, readyAt time.Time) error {
	member := redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: payload,
	}
	if err := q.rdb.ZAdd(ctx, delayedKey(name), member).Err(); err != nil {
		return fmt.Errorf("push delayed to %s: %w", name, err)
	}
	return nil
}

// BlockingPop waits for the oldest visible item, promoting due delayed
// items between short BRPOP rounds. Returns the context error when
// cancelled.
func (q *RedisQueue) BlockingPop(ctx context.Context, name string) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		if err := promoteScript.Run(ctx, q.rdb, []string{delayedKey(name), name}, now).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("promote delayed items on %s: %w", name, err)
		}

		res, err := q.rdb.BRPop(ctx, popInterval, name).Result()
		if errors.Is(err, redis.Nil) {
			continue // timeout, promote and poll again
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("pop from %s: %w", name, err)
		}
		// BRPOP returns [key, value].
		return []byte(res[1]), nil
	}
}

// Len reports queued items including not-yet-due delayed ones.
func (q *RedisQueue) Len(ctx context.Context, name string) (int64, error) {
	ready, err := q.rdb.LLen(ctx, name).Result()
	if err != nil {
		return 0, fmt.Errorf("len of %s: %w", name, err)
	}
	delayed, err := q.rdb.ZCard(ctx, delayedKey(name)).Result()
	if err != nil {
		return 0, fmt.Errorf("len of %s delayed: %w", name, err)
	}
	return ready + delayed, nil
}

// TrySetLock acquires key for owner with a TTL using SET NX PX.
func (q *RedisQueue) TrySetLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := q.rdb.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// ReleaseLock releases key if owner still holds it.
func (q *RedisQueue) ReleaseLock(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, q.rdb, []string{key}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis connection, unblocking any waiting pops.
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}

func delayedKey(name string) string {
	return name + ":delayed"
}
