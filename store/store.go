// Package store defines the aggregate persistence interface.
// Backends: Postgres, Redis, and Memory.
package store

import (
	"context"

	"github.com/conveyorhq/conveyor/job"
)

// Store is the aggregate persistence interface. A single backend
// implements the job persistence contract plus lifecycle management.
type Store interface {
	job.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
