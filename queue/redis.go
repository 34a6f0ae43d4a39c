package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
)

// redisQueueKey is the List key holding pending job IDs.
// LPUSH at the tail side, BRPOP from the head side: FIFO.
const redisQueueKey = "conveyor:queue"

// Redis is a Redis-List-backed queue. It is durable to process restarts
// (as durable as the Redis deployment) and safe for competing consumers:
// BRPOP hands each entry to exactly one blocked client.
type Redis struct {
	client goredis.Cmdable
	key    string
}

var _ Queue = (*Redis)(nil)

// RedisOption configures a Redis queue.
type RedisOption func(*Redis)

// WithKey overrides the Redis list key, allowing several independent
// queues to share one Redis deployment.
func WithKey(key string) RedisOption {
	return func(r *Redis) { r.key = key }
}

// NewRedis creates a Redis-backed queue. The caller owns the client
// lifecycle.
func NewRedis(client goredis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{client: client, key: redisQueueKey}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enqueue appends the ID at the tail.
func (r *Redis) Enqueue(ctx context.Context, jobID id.JobID) error {
	if err := r.client.LPush(ctx, r.key, jobID.String()).Err(); err != nil {
		return fmt.Errorf("conveyor/queue: redis enqueue: %w", err)
	}
	return nil
}

// Dequeue blocks on BRPOP up to timeout.
func (r *Redis) Dequeue(ctx context.Context, timeout time.Duration) (id.JobID, error) {
	res, err := r.client.BRPop(ctx, timeout, r.key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return id.Nil, conveyor.ErrQueueEmpty
		}
		return id.Nil, fmt.Errorf("conveyor/queue: redis dequeue: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return id.Nil, conveyor.ErrQueueEmpty
	}

	jobID, err := id.ParseJobID(res[1])
	if err != nil {
		return id.Nil, fmt.Errorf("conveyor/queue: redis dequeue bad entry %q: %w", res[1], err)
	}
	return jobID, nil
}

// Length returns LLEN of the backing list.
func (r *Redis) Length(ctx context.Context) (int, error) {
	n, err := r.client.LLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("conveyor/queue: redis length: %w", err)
	}
	return int(n), nil
}
