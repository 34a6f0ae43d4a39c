package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/conveyorhq/conveyor/backoff"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestPool(env *testEnv, opts ...PoolOption) *Pool {
	base := []PoolOption{
		WithDequeueTimeout(20 * time.Millisecond),
		WithBackoff(backoff.Constant(time.Millisecond)),
	}
	return NewPool(env.queue, env.executor(), testLogger(), append(base, opts...)...)
}

func TestPoolProcessesJobsExactlyOnce(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	var mu sync.Mutex
	handled := make(map[string]int)
	job.RegisterDefinition(env.registry, job.NewDefinition("email:send",
		func(_ context.Context, p emailPayload) error {
			mu.Lock()
			handled[p.To]++
			mu.Unlock()
			return nil
		}))

	const jobCount = 10
	ids := make([]id.JobID, 0, jobCount)
	for i := range jobCount {
		j := env.createJob(t, "email:send", emailPayload{To: fmt.Sprintf("user%d@acme.test", i)})
		if err := env.queue.Enqueue(context.Background(), j.ID); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		ids = append(ids, j.ID)
	}

	p := newTestPool(env, WithPoolConcurrency(2))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop(context.Background()) //nolint:errcheck

	waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == jobCount
	})

	// Competing workers must each process a given job at most once.
	mu.Lock()
	for to, n := range handled {
		if n != 1 {
			t.Errorf("job for %s handled %d times, want 1", to, n)
		}
	}
	mu.Unlock()

	for _, jobID := range ids {
		stored, err := env.store.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}
		if stored.Status != job.StatusCompleted {
			t.Errorf("job %s status = %q, want %q", jobID, stored.Status, job.StatusCompleted)
		}
	}
}

func TestPoolRetriesToTerminalFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	job.RegisterDefinition(env.registry, job.NewDefinition("webhook:deliver",
		func(_ context.Context, _ struct{}) error {
			return errors.New("endpoint down")
		}))

	j := env.createJob(t, "webhook:deliver", nil)
	if err := env.queue.Enqueue(context.Background(), j.ID); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	p := newTestPool(env)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop(context.Background()) //nolint:errcheck

	waitFor(t, 3*time.Second, func() bool {
		stored, err := env.store.GetJob(context.Background(), j.ID)
		return err == nil && stored.Status == job.StatusFailed
	})

	stored, _ := env.store.GetJob(context.Background(), j.ID)
	if stored.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", stored.Attempts)
	}
	if stored.LastError != "endpoint down" {
		t.Errorf("last error = %q", stored.LastError)
	}
}

func TestPoolStartStopIdempotent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	p := newTestPool(env)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestPoolRestart(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	var mu sync.Mutex
	handled := 0
	job.RegisterDefinition(env.registry, job.NewDefinition("email:send",
		func(_ context.Context, _ struct{}) error {
			mu.Lock()
			handled++
			mu.Unlock()
			return nil
		}))

	p := newTestPool(env)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// A stopped pool must come back up with fresh workers.
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("restart Start() error = %v", err)
	}
	defer p.Stop(context.Background()) //nolint:errcheck

	j := env.createJob(t, "email:send", nil)
	if err := env.queue.Enqueue(context.Background(), j.ID); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return handled == 1
	})
}

func TestPoolStopWaitsForInFlight(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	started := make(chan struct{})
	job.RegisterDefinition(env.registry, job.NewDefinition("video:encode",
		func(_ context.Context, _ struct{}) error {
			close(started)
			time.Sleep(100 * time.Millisecond)
			return nil
		}))

	j := env.createJob(t, "video:encode", nil)
	if err := env.queue.Enqueue(context.Background(), j.ID); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	p := newTestPool(env, WithPoolConcurrency(1))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	<-started
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// Graceful stop lets the in-flight attempt finish.
	stored, err := env.store.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if stored.Status != job.StatusCompleted {
		t.Errorf("status = %q, want %q", stored.Status, job.StatusCompleted)
	}
}
