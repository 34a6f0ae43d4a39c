// Package redis implements job persistence on Redis, suited to
// high-throughput deployments that can tolerate Redis durability
// semantics. Each job lives in a Hash; Sets index job IDs globally and
// per tenant so listing and stale scans do not need KEYS.
package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/conveyorhq/conveyor/job"
)

// Store persists jobs in Redis. The caller owns the client lifecycle;
// Close does not touch it.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
}

var _ job.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Redis-backed store around an existing client.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client exposes the underlying Redis client, mainly so a deployment
// can share one client between the store and the queue.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate is a no-op; Redis needs no schema.
func (s *Store) Migrate(context.Context) error { return nil }

// Ping checks that Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op. The client belongs to the caller.
func (s *Store) Close() error { return nil }
