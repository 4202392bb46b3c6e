package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tickerbrief/internal/domain"
)

// snapshotWithCloses builds a snapshot payload from a close series.
func snapshotWithCloses(t *testing.T, symbol, date string, closes []float64) *domain.RawSnapshot {
	t.Helper()
	candles := make([]domain.Candle, len(closes))
	for i, c := range closes {
		candles[i] = domain.Candle{
			Date:  fmt.Sprintf("2025-10-%02d", i%28+1),
			Open:  c, High: c, Low: c, Close: c,
			Volume: 1000,
		}
	}
	payload, err := json.Marshal(domain.SnapshotData{Symbol: symbol, Candles: candles})
	require.NoError(t, err)
	return &domain.RawSnapshot{Symbol: symbol, Date: date, Payload: payload}
}

// trendingCloses returns n closes drifting from start by step per day.
func trendingCloses(start, step float64, n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start + step*float64(i)
	}
	return closes
}

func TestComputeArtifactFullSeries(t *testing.T) {
	c := NewTechnicalComputer(zerolog.Nop())

	closes := trendingCloses(100, 0.5, 60)
	snap := snapshotWithCloses(t, "NVDA", "2025-12-28", closes)

	artifact, err := c.ComputeArtifact(context.Background(), "NVDA", "2025-12-28", snap)
	require.NoError(t, err)
	require.NotNil(t, artifact)

	assert.Equal(t, "NVDA", artifact.Symbol)
	assert.Equal(t, "2025-12-28", artifact.Date)
	assert.Equal(t, closes[len(closes)-1], artifact.Data.Close)
	assert.InDelta(t, 0.5/129*100, artifact.Data.ChangePct, 1e-6)
	assert.Equal(t, 60, artifact.Data.PeriodDays)

	require.NotNil(t, artifact.Data.RSI14)
	assert.Greater(t, *artifact.Data.RSI14, 50.0, "steady uptrend reads as strong RSI")
	require.NotNil(t, artifact.Data.SMA20)
	require.NotNil(t, artifact.Data.SMA50)
	assert.Greater(t, *artifact.Data.SMA20, *artifact.Data.SMA50)
	require.NotNil(t, artifact.Data.AnnualizedVol)
	require.NotNil(t, artifact.Data.MaxDrawdown)
	assert.Equal(t, 0.0, *artifact.Data.MaxDrawdown, "monotonic rise has no drawdown")

	assert.True(t, strings.HasPrefix(artifact.Narrative, "NVDA gained"))
	assert.Contains(t, string(artifact.Chart), "<svg")
	assert.False(t, artifact.GeneratedAt.IsZero())
}

func TestComputeArtifactShortSeriesOmitsIndicators(t *testing.T) {
	c := NewTechnicalComputer(zerolog.Nop())

	snap := snapshotWithCloses(t, "DBS19", "2025-12-28", []float64{40, 41, 40.5})
	artifact, err := c.ComputeArtifact(context.Background(), "DBS19", "2025-12-28", snap)
	require.NoError(t, err)

	assert.Nil(t, artifact.Data.RSI14)
	assert.Nil(t, artifact.Data.SMA20)
	assert.Nil(t, artifact.Data.SMA50)
	assert.NotNil(t, artifact.Data.AnnualizedVol)
	assert.NotEmpty(t, artifact.Narrative)
}

func TestComputeArtifactMissingSnapshot(t *testing.T) {
	c := NewTechnicalComputer(zerolog.Nop())

	_, err := c.ComputeArtifact(context.Background(), "NVDA", "2025-12-28", nil)
	require.Error(t, err)
	assert.True(t, domain.IsMissingInput(err))
}

func TestComputeArtifactMalformedPayload(t *testing.T) {
	c := NewTechnicalComputer(zerolog.Nop())

	snap := &domain.RawSnapshot{Symbol: "NVDA", Date: "2025-12-28", Payload: []byte("not json")}
	_, err := c.ComputeArtifact(context.Background(), "NVDA", "2025-12-28", snap)
	require.Error(t, err)
	assert.True(t, domain.IsPermanent(err))
}

func TestComputeArtifactCancelledContextIsTransient(t *testing.T) {
	c := NewTechnicalComputer(zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap := snapshotWithCloses(t, "NVDA", "2025-12-28", []float64{100, 101})
	_, err := c.ComputeArtifact(ctx, "NVDA", "2025-12-28", snap)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestComputeArtifactDeterministic(t *testing.T) {
	c := NewTechnicalComputer(zerolog.Nop())
	snap := snapshotWithCloses(t, "0700.HK", "2025-12-28", trendingCloses(300, -1, 30))

	a, err := c.ComputeArtifact(context.Background(), "0700.HK", "2025-12-28", snap)
	require.NoError(t, err)
	b, err := c.ComputeArtifact(context.Background(), "0700.HK", "2025-12-28", snap)
	require.NoError(t, err)

	assert.Equal(t, a.Narrative, b.Narrative)
	assert.Equal(t, a.Data, b.Data)
	assert.Equal(t, a.Chart, b.Chart)
}

func TestMaxDrawdown(t *testing.T) {
	dd := MaxDrawdown([]float64{100, 120, 90, 110})
	require.NotNil(t, dd)
	assert.InDelta(t, -0.25, *dd, 1e-9)

	flat := MaxDrawdown([]float64{50, 50, 50})
	require.NotNil(t, flat)
	assert.Equal(t, 0.0, *flat)

	assert.Nil(t, MaxDrawdown(nil))
}

func TestAnnualizedVolatilityFlatSeriesIsZero(t *testing.T) {
	vol := AnnualizedVolatility(CalculateReturns([]float64{50, 50, 50, 50}))
	require.NotNil(t, vol)
	assert.Equal(t, 0.0, *vol)
}

func TestRenderSparklineFlatSeries(t *testing.T) {
	svg := RenderSparkline([]float64{100, 100, 100})
	require.NotEmpty(t, svg)
	assert.NotContains(t, string(svg), "NaN")
}
