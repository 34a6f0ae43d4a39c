// Package queue defines the FIFO hand-off between producers and workers,
// with in-memory and Redis-backed implementations.
//
// The queue carries job IDs only; the job store remains the source of
// truth. Ordering is FIFO at best effort: a retry re-enqueues the same ID
// at the tail, so a failed job loses its original position. That is a
// deliberate simplicity trade: no delayed scheduling, no priority.
//
// Multiple concurrent consumers compete for entries: no two concurrent
// dequeues observe the same enqueued instance of an ID. The same ID may
// still legitimately appear twice (retry re-enqueue), which is why workers
// treat late deliveries for terminal jobs as no-ops.
//
// A lost enqueue after a successful store write leaves an orphaned pending
// job. The store keeps it visible; re-submitting or an external sweep can
// recover it. This is the documented at-least-once gap.
package queue

import (
	"context"
	"time"

	"github.com/conveyorhq/conveyor/id"
)

// Queue is a durable ordered multiset of job IDs.
type Queue interface {
	// Enqueue appends the ID at the tail. It never blocks; it fails only
	// on transport or capacity errors, which the caller decides how to
	// handle.
	Enqueue(ctx context.Context, jobID id.JobID) error

	// Dequeue pops one ID from the head, blocking up to timeout. Returns
	// conveyor.ErrQueueEmpty if nothing arrived within the window.
	Dequeue(ctx context.Context, timeout time.Duration) (id.JobID, error)

	// Length returns the approximate current size, for observability.
	Length(ctx context.Context) (int, error)
}
