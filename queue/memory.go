package queue

import (
	"context"
	"sync"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
)

// Memory is a channel-backed in-process queue. Intended for tests and
// single-node deployments; it is not durable across restarts.
type Memory struct {
	ch   chan id.JobID
	done chan struct{}
	once sync.Once
}

var _ Queue = (*Memory)(nil)

// NewMemory creates an in-memory queue with the given capacity. Enqueue
// fails with conveyor.ErrQueueFull once the buffer is exhausted, keeping
// the non-blocking contract.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Memory{
		ch:   make(chan id.JobID, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue appends the ID at the tail without blocking.
func (m *Memory) Enqueue(_ context.Context, jobID id.JobID) error {
	select {
	case <-m.done:
		return conveyor.ErrQueueClosed
	default:
	}
	select {
	case m.ch <- jobID:
		return nil
	default:
		return conveyor.ErrQueueFull
	}
}

// Dequeue pops one ID, blocking up to timeout. Concurrent callers compete:
// the channel hands each entry to exactly one receiver. After Close,
// buffered entries are still handed out until the queue is empty; only
// then does Dequeue report conveyor.ErrQueueClosed.
func (m *Memory) Dequeue(ctx context.Context, timeout time.Duration) (id.JobID, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case jobID := <-m.ch:
		return jobID, nil
	case <-m.done:
		// Hand out anything enqueued before the close.
		select {
		case jobID := <-m.ch:
			return jobID, nil
		default:
			return id.Nil, conveyor.ErrQueueClosed
		}
	case <-timer.C:
		return id.Nil, conveyor.ErrQueueEmpty
	case <-ctx.Done():
		return id.Nil, ctx.Err()
	}
}

// Length returns the approximate number of buffered entries.
func (m *Memory) Length(_ context.Context) (int, error) {
	return len(m.ch), nil
}

// Close marks the queue closed. Pending entries remain consumable until
// drained; further enqueues fail with conveyor.ErrQueueClosed, and a
// Dequeue on the drained queue returns the same error instead of
// blocking. Close is idempotent.
func (m *Memory) Close() {
	m.once.Do(func() { close(m.done) })
}
