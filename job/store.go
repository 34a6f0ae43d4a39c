package job

import (
	"context"
	"time"

	"github.com/conveyorhq/conveyor/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Status filters by job status. Empty means all statuses.
	Status Status
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Store defines the persistence contract for jobs. The store is the source
// of truth for job status; the queue only carries IDs. Implementations must
// be safe for concurrent use.
type Store interface {
	// CreateJob persists a new job. The job arrives in pending status with
	// zero attempts.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID. Returns conveyor.ErrJobNotFound if no
	// such job exists.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// ListJobs returns the tenant's jobs matching opts, newest first, plus
	// the total count before limit/offset.
	ListJobs(ctx context.Context, tenantID string, opts ListOpts) ([]*Job, int, error)

	// ListStaleRunning returns running jobs whose last update is older than
	// the given threshold. The core never resets these itself; the query
	// exists so an external sweep can reconcile workers that died mid-job.
	ListStaleRunning(ctx context.Context, threshold time.Duration) ([]*Job, error)
}
