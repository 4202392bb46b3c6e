// Package snapshots provides read access to the raw market-data snapshots
// written by the upstream fetch step. Snapshots are created once per symbol
// per day and never mutated; the next day's snapshot supersedes them.
package snapshots

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/tickerbrief/internal/domain"
)

// Repository reads raw snapshots. It also exposes a write path used by tests
// and by operators backfilling a missed day; the production writer is the
// upstream fetcher, outside this service.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new snapshot repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Get returns the snapshot for (symbol, date), or nil, nil if none exists.
func (r *Repository) Get(ctx context.Context, symbol, date string) (*domain.RawSnapshot, error) {
	var fetchedAt int64
	snap := &domain.RawSnapshot{Symbol: symbol, Date: date}

	err := r.db.QueryRowContext(ctx,
		"SELECT fetched_at, payload FROM raw_snapshots WHERE symbol = ? AND date = ?",
		symbol, date,
	).Scan(&fetchedAt, &snap.Payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot for %s/%s: %w", symbol, date, err)
	}

	snap.FetchedAt = time.Unix(fetchedAt, 0).UTC()
	return snap, nil
}

// CountForDate returns how many snapshots exist for a date. The scheduler uses
// this as the upstream-readiness signal before triggering a run.
func (r *Repository) CountForDate(ctx context.Context, date string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM raw_snapshots WHERE date = ?", date,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshots for %s: %w", date, err)
	}
	return count, nil
}

// ReadyForDate reports whether the upstream fetch looks complete for a date.
func (r *Repository) ReadyForDate(ctx context.Context, date string, universeSize int) (bool, error) {
	count, err := r.CountForDate(ctx, date)
	if err != nil {
		return false, err
	}
	return universeSize > 0 && count >= universeSize, nil
}

// Store inserts a snapshot. Re-storing the same (symbol, date) replaces the
// payload; this only happens on operator backfill.
func (r *Repository) Store(ctx context.Context, snap *domain.RawSnapshot) error {
	fetchedAt := snap.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO raw_snapshots (symbol, date, fetched_at, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			fetched_at = excluded.fetched_at,
			payload = excluded.payload
	`, snap.Symbol, snap.Date, fetchedAt.Unix(), snap.Payload)
	if err != nil {
		return fmt.Errorf("failed to store snapshot for %s/%s: %w", snap.Symbol, snap.Date, err)
	}
	return nil
}
