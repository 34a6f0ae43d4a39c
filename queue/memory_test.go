package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
)

func TestMemory_EnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewMemory(8)
	want := id.NewJobID()

	if err := q.Enqueue(context.Background(), want); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	got, err := q.Dequeue(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("dequeue error: %v", err)
	}
	if got.String() != want.String() {
		t.Errorf("dequeued %q, want %q", got, want)
	}
}

func TestMemory_FIFOOrder(t *testing.T) {
	t.Parallel()

	q := NewMemory(8)
	ids := []id.JobID{id.NewJobID(), id.NewJobID(), id.NewJobID()}
	for _, jobID := range ids {
		if err := q.Enqueue(context.Background(), jobID); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}

	for i, want := range ids {
		got, err := q.Dequeue(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("dequeue %d error: %v", i, err)
		}
		if got.String() != want.String() {
			t.Errorf("dequeue %d = %q, want %q", i, got, want)
		}
	}
}

func TestMemory_DequeueTimeout(t *testing.T) {
	t.Parallel()

	q := NewMemory(8)

	start := time.Now()
	_, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	if !errors.Is(err, conveyor.ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("dequeue returned after %v, expected to block for the timeout", elapsed)
	}
}

func TestMemory_DequeueContextCancelled(t *testing.T) {
	t.Parallel()

	q := NewMemory(8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMemory_EnqueueFull(t *testing.T) {
	t.Parallel()

	q := NewMemory(1)
	if err := q.Enqueue(context.Background(), id.NewJobID()); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	if err := q.Enqueue(context.Background(), id.NewJobID()); !errors.Is(err, conveyor.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestMemory_EnqueueClosed(t *testing.T) {
	t.Parallel()

	q := NewMemory(8)
	q.Close()
	if err := q.Enqueue(context.Background(), id.NewJobID()); !errors.Is(err, conveyor.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestMemory_Length(t *testing.T) {
	t.Parallel()

	q := NewMemory(8)
	for range 3 {
		if err := q.Enqueue(context.Background(), id.NewJobID()); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}
	n, err := q.Length(context.Background())
	if err != nil {
		t.Fatalf("length error: %v", err)
	}
	if n != 3 {
		t.Errorf("Length = %d, want 3", n)
	}
}

// Competing consumers: every enqueued instance is delivered to exactly one
// of the concurrent dequeuers.
func TestMemory_CompetingConsumers(t *testing.T) {
	t.Parallel()

	const entries = 50
	const consumers = 4

	q := NewMemory(entries)
	for range entries {
		if err := q.Enqueue(context.Background(), id.NewJobID()); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}

	var mu sync.Mutex
	seen := make(map[string]int, entries)

	var wg sync.WaitGroup
	for range consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobID, err := q.Dequeue(context.Background(), 50*time.Millisecond)
				if errors.Is(err, conveyor.ErrQueueEmpty) {
					return
				}
				if err != nil {
					t.Errorf("dequeue error: %v", err)
					return
				}
				mu.Lock()
				seen[jobID.String()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != entries {
		t.Fatalf("delivered %d distinct ids, want %d", len(seen), entries)
	}
	for jobID, count := range seen {
		if count != 1 {
			t.Errorf("id %s delivered %d times, want exactly once", jobID, count)
		}
	}
}

func TestMemory_CloseDrainsBeforeReporting(t *testing.T) {
	t.Parallel()

	q := NewMemory(8)
	ids := []id.JobID{id.NewJobID(), id.NewJobID()}
	for _, jobID := range ids {
		if err := q.Enqueue(context.Background(), jobID); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}
	q.Close()

	// Entries enqueued before the close are still handed out in order.
	for i, want := range ids {
		got, err := q.Dequeue(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("dequeue %d error: %v", i, err)
		}
		if got.String() != want.String() {
			t.Errorf("dequeue %d = %q, want %q", i, got, want)
		}
	}

	// The drained queue reports closure instead of timing out.
	if _, err := q.Dequeue(context.Background(), time.Second); !errors.Is(err, conveyor.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed after drain, got %v", err)
	}
}

func TestMemory_CloseWakesBlockedConsumer(t *testing.T) {
	t.Parallel()

	q := NewMemory(8)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background(), 30*time.Second)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, conveyor.ErrQueueClosed) {
			t.Fatalf("expected ErrQueueClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked consumer did not wake on Close")
	}
}

func TestMemory_CloseIdempotent(t *testing.T) {
	t.Parallel()

	q := NewMemory(8)
	q.Close()
	q.Close()
	if err := q.Enqueue(context.Background(), id.NewJobID()); !errors.Is(err, conveyor.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}
