package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
)

// JobRepository handles job-related database operations.
type JobRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const jobColumns = `id, workflow_id, patient_id, appointment_id, context, priority, status,
	retry_count, max_retries, timeout_ms, created_at, scheduled_for, started_at, finished_at, tags, last_error`

// Save inserts or updates a job.
func (r *JobRepository) Save(ctx context.Context, job *models.Job) error {
	contextJSON, err := json.Marshal(job.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal job context: %w", err)
	}

	tagsJSON, err := json.Marshal(job.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal job tags: %w", err)
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			scheduled_for = EXCLUDED.scheduled_for,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			last_error = EXCLUDED.last_error
	`

	_, err = r.db.ExecContext(ctx, query,
		job.ID,
		job.WorkflowID,
		job.PatientID,
		job.AppointmentID,
		contextJSON,
		job.Priority,
		job.Status,
		job.RetryCount,
		job.MaxRetries,
		job.Timeout.Milliseconds(),
		job.CreatedAt,
		job.ScheduledFor,
		job.StartedAt,
		job.FinishedAt,
		tagsJSON,
		job.LastError,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to save job", "job_id", job.ID, "error", err)

		return persistence.NewStoreError("SaveJob", job.ID, err)
	}

	return nil
}

// ByID retrieves a job by its id.
func (r *JobRepository) ByID(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrJobNotFound
		}

		return nil, persistence.NewStoreError("JobByID", id, err)
	}

	return job, nil
}

// ClaimDue atomically claims up to limit due jobs, marking them processing.
// SKIP LOCKED makes concurrent claims disjoint: two overlapping scheduler
// invocations never receive the same job.
func (r *JobRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	query := `
		UPDATE jobs SET status = 'processing', started_at = $1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'queued' AND (scheduled_for IS NULL OR scheduled_for <= $1)
			ORDER BY
				CASE priority
					WHEN 'critical' THEN 0
					WHEN 'high' THEN 1
					WHEN 'normal' THEN 2
					ELSE 3
				END,
				created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to claim due jobs", "error", err)

		return nil, persistence.NewStoreError("ClaimDue", "", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "Failed to close rows", "error", closeErr)
		}
	}()

	jobs, err := scanJobRows(rows)
	if err != nil {
		return nil, persistence.NewStoreError("ClaimDue", "", err)
	}

	r.logger.DebugContext(ctx, "Claimed due jobs", "count", len(jobs))

	return jobs, nil
}

// MarkStatus transitions a job, stamping finished_at for terminal statuses.
func (r *JobRepository) MarkStatus(ctx context.Context, id string, status models.JobStatus, lastError string) error {
	var finishedAt *time.Time

	if status.IsTerminal() {
		now := time.Now().UTC()
		finishedAt = &now
	}

	query := `UPDATE jobs SET status = $2, last_error = $3, finished_at = $4 WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, status, lastError, finishedAt)
	if err != nil {
		return persistence.NewStoreError("MarkStatus", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("MarkStatus", id, err)
	}

	if affected == 0 {
		return persistence.ErrJobNotFound
	}

	return nil
}

// QueuedWithTag returns non-terminal jobs carrying the given tag.
func (r *JobRepository) QueuedWithTag(ctx context.Context, tag string) ([]*models.Job, error) {
	tagJSON, err := json.Marshal([]string{tag})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tag: %w", err)
	}

	query := `
		SELECT ` + jobColumns + ` FROM jobs
		WHERE tags @> $1 AND status IN ('queued', 'processing')
	`

	rows, err := r.db.QueryContext(ctx, query, tagJSON)
	if err != nil {
		return nil, persistence.NewStoreError("QueuedWithTag", tag, err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "Failed to close rows", "error", closeErr)
		}
	}()

	jobs, err := scanJobRows(rows)
	if err != nil {
		return nil, persistence.NewStoreError("QueuedWithTag", tag, err)
	}

	return jobs, nil
}

// ReleaseOrphans requeues processing jobs whose claim predates the cutoff.
// A processing row older than the staleness threshold belongs to a worker
// that died without reporting back.
func (r *JobRepository) ReleaseOrphans(ctx context.Context, olderThan time.Time) (int, error) {
	query := `
		UPDATE jobs SET status = 'queued', started_at = NULL
		WHERE status = 'processing' AND started_at < $1
	`

	result, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, persistence.NewStoreError("ReleaseOrphans", "", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, persistence.NewStoreError("ReleaseOrphans", "", err)
	}

	if affected > 0 {
		r.logger.InfoContext(ctx, "Released orphaned jobs", "count", affected)
	}

	return int(affected), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job         models.Job
		contextJSON []byte
		tagsJSON    []byte
		timeoutMs   int64
	)

	err := row.Scan(
		&job.ID,
		&job.WorkflowID,
		&job.PatientID,
		&job.AppointmentID,
		&contextJSON,
		&job.Priority,
		&job.Status,
		&job.RetryCount,
		&job.MaxRetries,
		&timeoutMs,
		&job.CreatedAt,
		&job.ScheduledFor,
		&job.StartedAt,
		&job.FinishedAt,
		&tagsJSON,
		&job.LastError,
	)
	if err != nil {
		return nil, err
	}

	job.Timeout = time.Duration(timeoutMs) * time.Millisecond

	if err := json.Unmarshal(contextJSON, &job.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job context: %w", err)
	}

	if err := json.Unmarshal(tagsJSON, &job.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job tags: %w", err)
	}

	return &job, nil
}

func scanJobRows(rows *sql.Rows) ([]*models.Job, error) {
	var jobs []*models.Job

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}

	return jobs, nil
}
