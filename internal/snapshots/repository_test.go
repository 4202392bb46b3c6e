package snapshots

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tickerbrief/internal/domain"
)

const testSchema = `
CREATE TABLE raw_snapshots (
    symbol TEXT NOT NULL,
    date TEXT NOT NULL,
    fetched_at INTEGER NOT NULL,
    payload BLOB NOT NULL,
    PRIMARY KEY (symbol, date)
);
`

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestGetMissingReturnsNil(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	snap, err := repo.Get(context.Background(), "NVDA", "2025-12-28")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestStoreAndGet(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	payload := []byte(`{"symbol":"NVDA","candles":[{"date":"2025-12-28","close":100}]}`)
	err := repo.Store(ctx, &domain.RawSnapshot{Symbol: "NVDA", Date: "2025-12-28", Payload: payload})
	require.NoError(t, err)

	snap, err := repo.Get(ctx, "NVDA", "2025-12-28")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, payload, snap.Payload)
	assert.False(t, snap.FetchedAt.IsZero())
}

func TestReadyForDate(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	ready, err := repo.ReadyForDate(ctx, "2025-12-28", 3)
	require.NoError(t, err)
	assert.False(t, ready)

	for _, symbol := range []string{"NVDA", "DBS19", "0700.HK"} {
		require.NoError(t, repo.Store(ctx, &domain.RawSnapshot{
			Symbol: symbol, Date: "2025-12-28", Payload: []byte(`{}`),
		}))
	}

	ready, err = repo.ReadyForDate(ctx, "2025-12-28", 3)
	require.NoError(t, err)
	assert.True(t, ready)

	count, err := repo.CountForDate(ctx, "2025-12-28")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
