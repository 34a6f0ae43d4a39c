package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// CreateJob stores the job as a Hash and indexes it globally and per tenant.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	// Check for duplicate.
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: create check exists: %w", err)
	}
	if exists > 0 {
		return conveyor.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	pipe.SAdd(ctx, tenantJobsKey(j.TenantID), jID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	key := jobKey(j.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return conveyor.ErrJobNotFound
	}

	fields := jobToMap(j)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := s.client.HSet(ctx, key, fields).Result(); err != nil {
		return fmt.Errorf("conveyor/redis: update job: %w", err)
	}
	return nil
}

// ListJobs returns the tenant's jobs matching opts, newest first, plus
// the total count before limit/offset.
func (s *Store) ListJobs(ctx context.Context, tenantID string, opts job.ListOpts) ([]*job.Job, int, error) {
	ids, err := s.client.SMembers(ctx, tenantJobsKey(tenantID)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("conveyor/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})

	total := len(jobs)

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, total, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, total, nil
}

// ListStaleRunning returns running jobs whose last update is older than
// the threshold.
func (s *Store) ListStaleRunning(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: stale smembers: %w", err)
	}

	var stale []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.Status != job.StatusRunning {
			continue
		}
		if j.UpdatedAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

func jobToMap(j *job.Job) map[string]any {
	return map[string]any{
		"id":         j.ID.String(),
		"tenant_id":  j.TenantID,
		"type":       j.Type,
		"payload":    string(j.Payload),
		"status":     string(j.Status),
		"attempts":   strconv.Itoa(j.Attempts),
		"last_error": j.LastError,
		"created_at": j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": j.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, conveyor.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: parse job id: %w", err)
	}

	attempts, _ := strconv.Atoi(m["attempts"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		ID:        jID,
		TenantID:  m["tenant_id"],
		Type:      m["type"],
		Payload:   []byte(m["payload"]),
		Status:    job.Status(m["status"]),
		Attempts:  attempts,
		LastError: m["last_error"],
	}
	if t, tErr := time.Parse(time.RFC3339Nano, m["created_at"]); tErr == nil {
		j.CreatedAt = t
	}
	if t, tErr := time.Parse(time.RFC3339Nano, m["updated_at"]); tErr == nil {
		j.UpdatedAt = t
	}
	return j, nil
}
