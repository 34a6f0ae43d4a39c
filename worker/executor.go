// Package worker provides the job execution engine: an Executor that
// drives a single job through its lifecycle state machine, and a Pool
// that manages concurrent worker goroutines consuming the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/hook"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/middleware"
	"github.com/conveyorhq/conveyor/queue"
)

// Limiter controls per-tenant rate limiting and concurrency. The
// executor calls Acquire before claiming a dequeued job and Release
// after execution completes.
type Limiter interface {
	// Acquire returns true if a job for the tenant may proceed.
	Acquire(tenantID string) bool
	// Release decrements the active count for the tenant.
	Release(tenantID string)
}

// Executor runs a single dequeued job through the lifecycle state
// machine: claim, execute through middleware, then record the outcome
// and requeue or finalize.
type Executor struct {
	registry    *job.Registry
	hooks       *hook.Registry
	store       job.Store
	queue       queue.Queue
	limiter     Limiter
	maxAttempts int
	mw          middleware.Middleware
	logger      *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMaxAttempts sets the inclusive attempt ceiling per job.
func WithMaxAttempts(n int) ExecutorOption {
	return func(e *Executor) { e.maxAttempts = n }
}

// WithLimiter sets the per-tenant limiter. Nil disables limiting.
func WithLimiter(l Limiter) ExecutorOption {
	return func(e *Executor) { e.limiter = l }
}

// WithMiddleware sets the middleware chain applied around each attempt.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	hooks *hook.Registry,
	store job.Store,
	q queue.Queue,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		registry:    registry,
		hooks:       hooks,
		store:       store,
		queue:       q,
		maxAttempts: conveyor.DefaultMaxAttempts,
		mw:          middleware.Chain(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute drives one dequeued job ID through the state machine.
//
// A missing or already-terminal job is a silent no-op: duplicate queue
// entries are possible under at-least-once delivery and must not fail.
// A job whose attempt budget is already spent is finalized as failed
// without running the handler.
//
// Handler outcomes (success, retryable failure, terminal failure) are
// absorbed here and never propagate. The returned error is reserved
// for infrastructure failures (store or queue unavailable), which the
// pool responds to by backing off.
func (e *Executor) Execute(ctx context.Context, jobID id.JobID) error {
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, conveyor.ErrJobNotFound) {
			e.logger.Debug("dequeued unknown job id, skipping",
				slog.String("job_id", jobID.String()),
			)
			return nil
		}
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	if j.Status.Terminal() {
		e.logger.Debug("dequeued terminal job, skipping",
			slog.String("job_id", j.ID.String()),
			slog.String("status", string(j.Status)),
		)
		return nil
	}

	if e.limiter != nil && !e.limiter.Acquire(j.TenantID) {
		// Return the id to the queue without spending an attempt.
		if enqErr := e.queue.Enqueue(ctx, j.ID); enqErr != nil {
			return fmt.Errorf("requeue rate-limited job %s: %w", j.ID, enqErr)
		}
		return conveyor.ErrRateLimited
	}
	if e.limiter != nil {
		defer e.limiter.Release(j.TenantID)
	}

	if j.Attempts >= e.maxAttempts {
		// Attempt budget already spent, typically an id redelivered
		// after a crash mid-update. Finalize without executing.
		return e.finalizeFailed(ctx, j, conveyor.ErrMaxAttemptsExceeded)
	}

	// Claim: RUNNING, attempts counts started attempts.
	j.Status = job.StatusRunning
	j.Attempts++
	j.Touch()
	if err := e.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("claim job %s: %w", j.ID, err)
	}
	e.hooks.EmitJobStarted(ctx, j)

	start := time.Now()
	execErr := e.runHandler(ctx, j)
	elapsed := time.Since(start)

	if execErr == nil {
		return e.finalizeCompleted(ctx, j, elapsed)
	}

	if j.Attempts >= e.maxAttempts {
		return e.finalizeFailed(ctx, j, execErr)
	}
	return e.scheduleRetry(ctx, j, execErr)
}

// runHandler dispatches the job through the middleware chain to its
// registered handler. An unregistered type is a failure, not a crash.
func (e *Executor) runHandler(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Type)
	if !ok {
		return fmt.Errorf("no handler registered for job type %q", j.Type)
	}

	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	}
	return e.mw(ctx, j, terminal)
}

// finalizeCompleted marks the job completed and publishes the update.
func (e *Executor) finalizeCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	j.Status = job.StatusCompleted
	j.LastError = ""
	j.Touch()
	if err := e.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("finalize completed job %s: %w", j.ID, err)
	}

	e.hooks.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// finalizeFailed marks the job terminally failed and publishes the update.
func (e *Executor) finalizeFailed(ctx context.Context, j *job.Job, jobErr error) error {
	j.Status = job.StatusFailed
	j.LastError = jobErr.Error()
	j.Touch()
	if err := e.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("finalize failed job %s: %w", j.ID, err)
	}

	e.hooks.EmitJobFailed(ctx, j, jobErr)

	e.logger.Warn("job failed after exhausting attempts",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("tenant_id", j.TenantID),
		slog.Int("attempts", j.Attempts),
		slog.String("error", jobErr.Error()),
	)
	return nil
}

// scheduleRetry returns the job to pending and requeues its id. The
// retry is immediate: there is no delay between attempts, ordering
// comes from the queue itself.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, attemptErr error) error {
	j.Status = job.StatusPending
	j.LastError = attemptErr.Error()
	j.Touch()
	if err := e.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("record retry for job %s: %w", j.ID, err)
	}

	if err := e.queue.Enqueue(ctx, j.ID); err != nil {
		// The job stays pending without a queue entry. A stale-pending
		// sweep can requeue it; losing the update here would be worse.
		e.logger.Error("failed to requeue job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("requeue job %s: %w", j.ID, err)
	}

	e.hooks.EmitJobRetrying(ctx, j, j.Attempts, attemptErr)

	e.logger.Info("job requeued for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", e.maxAttempts),
		slog.String("error", attemptErr.Error()),
	)
	return nil
}
