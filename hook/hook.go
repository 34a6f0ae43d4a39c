// Package hook defines the lifecycle hook system for Conveyor.
// Hooks are notified of job lifecycle events (submitted, started,
// completed, etc.) and can react to them.
//
// Each lifecycle event is a separate interface so hooks opt in only
// to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/conveyorhq/conveyor/job"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// JobSubmitted is called after a job is accepted and enqueued.
type JobSubmitted interface {
	OnJobSubmitted(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally (no more retries).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a job attempt fails and the job is
// requeued for another attempt.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, attemptErr error) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
