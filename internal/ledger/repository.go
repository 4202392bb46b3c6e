// Package ledger implements the durable job ledger: one row per (symbol, date)
// unit of work with a monotonic status state machine. The unique key on
// (symbol, date) is the pipeline's sole mutual-exclusion primitive.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tickerbrief/internal/domain"
)

// DefaultStaleClaimWindow is how long an in_progress claim is honored before
// another attempt may re-take it. It must exceed the worker timeout so a live
// worker is never raced by its own redelivery.
const DefaultStaleClaimWindow = 15 * time.Minute

// Repository provides ledger operations over the jobs table.
type Repository struct {
	db         *sql.DB
	staleClaim time.Duration
	log        zerolog.Logger
}

// NewRepository creates a new ledger repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:         db,
		staleClaim: DefaultStaleClaimWindow,
		log:        log.With().Str("component", "ledger").Logger(),
	}
}

// SetStaleClaimWindow overrides the stale-claim window. Used by tests.
func (r *Repository) SetStaleClaimWindow(d time.Duration) {
	r.staleClaim = d
}

// CreateJob inserts a pending row for (symbol, date) and returns its id.
// Re-creating an existing row is a no-op returning the existing id - the
// duplicate-key violation is the idempotency mechanism, not an error.
func (r *Repository) CreateJob(ctx context.Context, symbol, date string) (int64, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (symbol, date, status, created_at)
		VALUES (?, ?, 'pending', ?)
		ON CONFLICT(symbol, date) DO NOTHING
	`, symbol, date, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to create job for %s/%s: %w", symbol, date, err)
	}

	// Reselect unconditionally: LastInsertId is meaningless after DO NOTHING.
	var id int64
	err = r.db.QueryRowContext(ctx,
		"SELECT id FROM jobs WHERE symbol = ? AND date = ?", symbol, date,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to reselect job for %s/%s: %w", symbol, date, err)
	}
	return id, nil
}

// MarkInProgress atomically claims a job for one attempt. The conditional
// UPDATE is the race arbiter: of two workers claiming the same row, exactly
// one sees a row affected; the other gets ErrLedgerConflict. A stale
// in_progress claim (older than the stale-claim window) may be re-taken.
func (r *Repository) MarkInProgress(ctx context.Context, id int64, attempt int) error {
	now := time.Now().Unix()
	staleCutoff := now - int64(r.staleClaim.Seconds())

	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'in_progress', attempt_count = ?, started_at = ?, error = NULL
		WHERE id = ?
		  AND (status = 'pending' OR (status = 'in_progress' AND started_at < ?))
	`, attempt, now, id, staleCutoff)
	if err != nil {
		return fmt.Errorf("failed to mark job %d in progress: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for job %d: %w", id, err)
	}
	if affected == 0 {
		r.log.Debug().Int64("job_id", id).Int("attempt", attempt).Msg("Claim rejected, job not claimable")
		return domain.ErrLedgerConflict
	}
	return nil
}

// MarkCompleted transitions in_progress -> completed.
func (r *Repository) MarkCompleted(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'completed', completed_at = ?, error = NULL
		WHERE id = ? AND status = 'in_progress'
	`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job %d completed: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for job %d: %w", id, err)
	}
	if affected == 0 {
		r.log.Warn().Int64("job_id", id).Msg("Completed transition rejected")
		return domain.ErrLedgerConflict
	}
	return nil
}

// MarkFailed transitions pending|in_progress -> failed, recording error detail.
// A completed job is never demoted; that write loses and is discarded.
func (r *Repository) MarkFailed(ctx context.Context, id int64, detail string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', completed_at = ?, error = ?
		WHERE id = ? AND status IN ('pending', 'in_progress')
	`, time.Now().Unix(), detail, id)
	if err != nil {
		return fmt.Errorf("failed to mark job %d failed: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for job %d: %w", id, err)
	}
	if affected == 0 {
		r.log.Warn().Int64("job_id", id).Msg("Failed transition rejected")
		return domain.ErrLedgerConflict
	}
	return nil
}

// RetryFailed resets a failed job to pending (explicit manual re-trigger,
// the only backward transition the state machine allows).
func (r *Repository) RetryFailed(ctx context.Context, symbol, date string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', error = NULL, started_at = NULL, completed_at = NULL
		WHERE symbol = ? AND date = ? AND status = 'failed'
	`, symbol, date)
	if err != nil {
		return false, fmt.Errorf("failed to retry job %s/%s: %w", symbol, date, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RetryAllFailed resets every failed job for a date to pending.
// Returns the symbols that were reset.
func (r *Repository) RetryAllFailed(ctx context.Context, date string) ([]string, error) {
	jobs, err := r.ListByDate(ctx, date)
	if err != nil {
		return nil, err
	}

	var reset []string
	for _, job := range jobs {
		if job.Status != domain.JobFailed {
			continue
		}
		ok, err := r.RetryFailed(ctx, job.Symbol, date)
		if err != nil {
			return reset, err
		}
		if ok {
			reset = append(reset, job.Symbol)
		}
	}
	return reset, nil
}

// GetJob returns the job for (symbol, date), or nil, nil if none exists.
func (r *Repository) GetJob(ctx context.Context, symbol, date string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, symbol, date, status, attempt_count, COALESCE(error, ''),
		       created_at, started_at, completed_at
		FROM jobs WHERE symbol = ? AND date = ?
	`, symbol, date)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job for %s/%s: %w", symbol, date, err)
	}
	return job, nil
}

// ListByDate returns all jobs for a date, ordered by symbol.
// Used for run-completeness checks.
func (r *Repository) ListByDate(ctx context.Context, date string) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, symbol, date, status, attempt_count, COALESCE(error, ''),
		       created_at, started_at, completed_at
		FROM jobs WHERE date = ? ORDER BY symbol
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs for %s: %w", date, err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// CountByDate returns how many ledger rows exist for a date.
// The scheduler uses this as its same-date refire guard.
func (r *Repository) CountByDate(ctx context.Context, date string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM jobs WHERE date = ?", date,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs for %s: %w", date, err)
	}
	return count, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(s scanner) (*domain.Job, error) {
	var job domain.Job
	var status string
	var createdAt int64
	var startedAt, completedAt sql.NullInt64

	err := s.Scan(&job.ID, &job.Symbol, &job.Date, &status, &job.AttemptCount,
		&job.Error, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	job.Status = domain.JobStatus(status)
	job.CreatedAt = time.Unix(createdAt, 0).UTC()
	if startedAt.Valid {
		ts := time.Unix(startedAt.Int64, 0).UTC()
		job.StartedAt = &ts
	}
	if completedAt.Valid {
		ts := time.Unix(completedAt.Int64, 0).UTC()
		job.CompletedAt = &ts
	}
	return &job, nil
}
