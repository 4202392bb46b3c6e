package artifacts

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tickerbrief/internal/domain"
)

const testSchema = `
CREATE TABLE artifacts (
    symbol TEXT NOT NULL,
    date TEXT NOT NULL,
    narrative TEXT NOT NULL,
    data TEXT NOT NULL,
    chart BLOB,
    generated_at INTEGER NOT NULL,
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

func sampleArtifact(symbol, date string) *domain.Artifact {
	rsi := 61.4
	return &domain.Artifact{
		Symbol:    symbol,
		Date:      date,
		Narrative: symbol + " closed up 1.2% on above-average volume.",
		Data: domain.BriefData{
			Close:      184.25,
			ChangePct:  1.2,
			RSI14:      &rsi,
			PeriodDays: 60,
		},
		Chart:       []byte("<svg></svg>"),
		GeneratedAt: time.Date(2025, 12, 28, 21, 45, 0, 0, time.UTC),
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	a, err := repo.Get(context.Background(), "NVDA", "2025-12-28")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	want := sampleArtifact("NVDA", "2025-12-28")
	require.NoError(t, repo.Save(ctx, want))

	got, err := repo.Get(ctx, "NVDA", "2025-12-28")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Narrative, got.Narrative)
	assert.Equal(t, want.Data.Close, got.Data.Close)
	require.NotNil(t, got.Data.RSI14)
	assert.InDelta(t, 61.4, *got.Data.RSI14, 1e-9)
	assert.Equal(t, want.Chart, got.Chart)
	assert.Equal(t, want.GeneratedAt, got.GeneratedAt)
}

func TestSaveReplacesExisting(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	first := sampleArtifact("DBS19", "2025-12-28")
	require.NoError(t, repo.Save(ctx, first))

	second := sampleArtifact("DBS19", "2025-12-28")
	second.Narrative = "DBS19 was flat after a choppy session."
	second.Data.ChangePct = 0.0
	require.NoError(t, repo.Save(ctx, second))

	got, err := repo.Get(ctx, "DBS19", "2025-12-28")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.Narrative, got.Narrative)
	assert.Equal(t, 0.0, got.Data.ChangePct)

	count, err := repo.CountForDate(ctx, "2025-12-28")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCountForDate(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	for _, symbol := range []string{"NVDA", "DBS19", "0700.HK"} {
		require.NoError(t, repo.Save(ctx, sampleArtifact(symbol, "2025-12-28")))
	}
	require.NoError(t, repo.Save(ctx, sampleArtifact("NVDA", "2025-12-29")))

	count, err := repo.CountForDate(ctx, "2025-12-28")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
