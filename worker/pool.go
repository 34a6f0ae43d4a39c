package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/backoff"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/queue"
)

// Pool manages a set of concurrent worker goroutines that consume job
// ids from the queue and execute them through the Executor.
type Pool struct {
	queue          queue.Queue
	executor       *Executor
	concurrency    int
	dequeueTimeout time.Duration
	backoff        backoff.Strategy
	workerID       id.WorkerID
	logger         *slog.Logger

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithDequeueTimeout bounds each blocking dequeue so workers can
// re-check the stop signal.
func WithDequeueTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.dequeueTimeout = d }
}

// WithBackoff sets the strategy used to delay the dequeue loop after
// infrastructure errors.
func WithBackoff(s backoff.Strategy) PoolOption {
	return func(p *Pool) { p.backoff = s }
}

// NewPool creates a worker pool.
func NewPool(q queue.Queue, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:          q,
		executor:       executor,
		concurrency:    4,
		dequeueTimeout: 5 * time.Second,
		backoff:        backoff.DefaultStrategy(),
		workerID:       id.NewWorkerID(),
		logger:         logger,
		stopCh:         make(chan struct{}),
		activeJobs:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop()
	}
	return nil
}

// Stop signals all workers to stop and waits for them to finish their
// in-flight jobs. If the context has a deadline, active jobs are
// cancelled when time runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// dequeueLoop is run by each worker goroutine. One job's failure never
// kills the loop; infrastructure errors delay it via the backoff
// strategy and the counter resets on the next healthy iteration.
func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	infraFailures := 0
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		jobID, err := p.queue.Dequeue(context.Background(), p.dequeueTimeout)
		if err != nil {
			switch {
			case errors.Is(err, conveyor.ErrQueueEmpty):
				infraFailures = 0
			case errors.Is(err, conveyor.ErrQueueClosed):
				return
			default:
				infraFailures++
				p.logger.Error("dequeue error",
					slog.String("error", err.Error()),
					slog.Int("consecutive_failures", infraFailures),
				)
				p.sleep(p.backoff.Delay(infraFailures))
			}
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		p.trackJob(jobID.String(), cancel)

		execErr := p.executor.Execute(ctx, jobID)

		p.untrackJob(jobID.String())
		cancel()

		switch {
		case execErr == nil:
			infraFailures = 0
		case errors.Is(execErr, conveyor.ErrRateLimited):
			// The id went back to the queue; yield briefly so this
			// worker does not spin on a throttled tenant.
			p.sleep(p.backoff.Delay(1))
		default:
			infraFailures++
			p.logger.Error("job execution infrastructure error",
				slog.String("job_id", jobID.String()),
				slog.String("error", execErr.Error()),
				slog.Int("consecutive_failures", infraFailures),
			)
			p.sleep(p.backoff.Delay(infraFailures))
		}
	}
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
