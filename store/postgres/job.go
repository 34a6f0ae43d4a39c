package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

const jobColumns = `id, tenant_id, type, payload, status, attempts, last_error, created_at, updated_at`

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_jobs (
			id, tenant_id, type, payload, status, attempts, last_error,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		j.ID.String(), j.TenantID, j.Type, []byte(j.Payload), string(j.Status),
		j.Attempts, j.LastError, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conveyor/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM conveyor_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs SET
			tenant_id = $2, type = $3, payload = $4, status = $5,
			attempts = $6, last_error = $7, updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.TenantID, j.Type, []byte(j.Payload), string(j.Status),
		j.Attempts, j.LastError,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// ListJobs returns the tenant's jobs matching opts, newest first, plus
// the total count before limit/offset.
func (s *Store) ListJobs(ctx context.Context, tenantID string, opts job.ListOpts) ([]*job.Job, int, error) {
	countQuery := `SELECT COUNT(*) FROM conveyor_jobs WHERE tenant_id = $1`
	countArgs := []any{tenantID}
	if opts.Status != "" {
		countQuery += ` AND status = $2`
		countArgs = append(countArgs, string(opts.Status))
	}

	var total int
	if err := s.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("conveyor/postgres: count jobs: %w", err)
	}

	query := `SELECT ` + jobColumns + ` FROM conveyor_jobs WHERE tenant_id = $1`
	args := []any{tenantID}
	argIdx := 2

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("conveyor/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// ListStaleRunning returns running jobs whose last update is older than
// the given threshold.
func (s *Store) ListStaleRunning(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM conveyor_jobs
		WHERE status = 'running'
		  AND updated_at < NOW() - $1::interval`,
		threshold.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list stale running: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// scanJob scans a single row into a Job.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		rawID     string
		payload   []byte
		status    string
		lastError *string
		j         job.Job
	)
	err := row.Scan(
		&rawID, &j.TenantID, &j.Type, &payload, &status,
		&j.Attempts, &lastError, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseJobID(rawID)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: parse job id %q: %w", rawID, err)
	}
	j.ID = parsedID
	j.Payload = payload
	j.Status = job.Status(status)
	if lastError != nil {
		j.LastError = *lastError
	}
	return &j, nil
}

// collectJobs drains rows into a slice of jobs.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate jobs: %w", err)
	}
	return jobs, nil
}
