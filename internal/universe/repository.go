// Package universe manages the fixed daily processing universe of tickers.
package universe

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/tickerbrief/internal/domain"
)

// Repository provides access to the ticker universe.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new universe repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ActiveSymbols returns the symbols of all active tickers, ordered by symbol.
// The fan-out controller reloads this once per run; the list is treated as
// immutable within a run.
func (r *Repository) ActiveSymbols() ([]string, error) {
	rows, err := r.db.Query("SELECT symbol FROM tickers WHERE active = 1 ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to query active tickers: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("failed to scan ticker symbol: %w", err)
		}
		symbols = append(symbols, symbol)
	}
	return symbols, rows.Err()
}

// All returns every ticker in the universe, active or not.
func (r *Repository) All() ([]domain.Ticker, error) {
	rows, err := r.db.Query("SELECT symbol, name, exchange, active FROM tickers ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to query tickers: %w", err)
	}
	defer rows.Close()

	var tickers []domain.Ticker
	for rows.Next() {
		var t domain.Ticker
		var active int
		if err := rows.Scan(&t.Symbol, &t.Name, &t.Exchange, &active); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		t.Active = active == 1
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// Upsert adds or updates a ticker.
func (r *Repository) Upsert(t domain.Ticker) error {
	active := 0
	if t.Active {
		active = 1
	}
	_, err := r.db.Exec(`
		INSERT INTO tickers (symbol, name, exchange, active, added_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			name = excluded.name,
			exchange = excluded.exchange,
			active = excluded.active
	`, t.Symbol, t.Name, t.Exchange, active, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert ticker %s: %w", t.Symbol, err)
	}
	return nil
}

// Count returns the number of active tickers.
func (r *Repository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM tickers WHERE active = 1").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tickers: %w", err)
	}
	return count, nil
}
