// Package artifacts is the durable store for computed briefs. A row here is
// the authoritative copy of an artifact; the cache tiers only ever hold
// re-derivable projections of it.
package artifacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/tickerbrief/internal/domain"
)

// Repository persists artifacts keyed by (symbol, date).
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new artifact repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save writes an artifact. Writing the same (symbol, date) again replaces the
// previous row; this happens when a failed job is retried after a partial run.
func (r *Repository) Save(ctx context.Context, a *domain.Artifact) error {
	data, err := json.Marshal(a.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact data for %s/%s: %w", a.Symbol, a.Date, err)
	}

	generatedAt := a.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO artifacts (symbol, date, narrative, data, chart, generated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			narrative = excluded.narrative,
			data = excluded.data,
			chart = excluded.chart,
			generated_at = excluded.generated_at
	`, a.Symbol, a.Date, a.Narrative, string(data), a.Chart, generatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save artifact for %s/%s: %w", a.Symbol, a.Date, err)
	}
	return nil
}

// Get returns the artifact for (symbol, date), or nil, nil if none exists.
func (r *Repository) Get(ctx context.Context, symbol, date string) (*domain.Artifact, error) {
	var (
		dataJSON    string
		generatedAt int64
	)
	a := &domain.Artifact{Symbol: symbol, Date: date}

	err := r.db.QueryRowContext(ctx,
		"SELECT narrative, data, chart, generated_at FROM artifacts WHERE symbol = ? AND date = ?",
		symbol, date,
	).Scan(&a.Narrative, &dataJSON, &a.Chart, &generatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact for %s/%s: %w", symbol, date, err)
	}

	if err := json.Unmarshal([]byte(dataJSON), &a.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact data for %s/%s: %w", symbol, date, err)
	}
	a.GeneratedAt = time.Unix(generatedAt, 0).UTC()
	return a, nil
}

// CountForDate returns how many artifacts exist for a date.
func (r *Repository) CountForDate(ctx context.Context, date string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM artifacts WHERE date = ?", date,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count artifacts for %s: %w", date, err)
	}
	return count, nil
}
