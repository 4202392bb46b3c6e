package compute

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tickerbrief/internal/domain"
)

// TechnicalComputer derives a brief from snapshot candles alone: indicators
// via go-talib, risk figures from the return series, a templated narrative,
// and an SVG sparkline. It is deterministic, so at-least-once dispatch can
// recompute a unit without producing a different artifact.
type TechnicalComputer struct {
	log zerolog.Logger
}

var _ domain.ArtifactComputer = (*TechnicalComputer)(nil)

// NewTechnicalComputer creates the default artifact computer.
func NewTechnicalComputer(log zerolog.Logger) *TechnicalComputer {
	return &TechnicalComputer{
		log: log.With().Str("component", "compute").Logger(),
	}
}

// ComputeArtifact builds the artifact for one (symbol, date) from its raw
// snapshot. Input problems surface through the shared error taxonomy:
// a missing or malformed snapshot is not retryable, a cancelled context is.
func (c *TechnicalComputer) ComputeArtifact(ctx context.Context, symbol, date string, snap *domain.RawSnapshot) (*domain.Artifact, error) {
	data, err := domain.ParseSnapshot(snap)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, &domain.TransientComputeError{Op: "compute", Err: err}
	}

	closes := make([]float64, len(data.Candles))
	for i, candle := range data.Candles {
		closes[i] = candle.Close
	}

	last := closes[len(closes)-1]
	changePct := 0.0
	if len(closes) > 1 && closes[len(closes)-2] != 0 {
		changePct = (last - closes[len(closes)-2]) / closes[len(closes)-2] * 100
	}

	brief := domain.BriefData{
		Close:         last,
		ChangePct:     changePct,
		RSI14:         CalculateRSI(closes, 14),
		SMA20:         CalculateSMA(closes, 20),
		SMA50:         CalculateSMA(closes, 50),
		AnnualizedVol: AnnualizedVolatility(CalculateReturns(closes)),
		MaxDrawdown:   MaxDrawdown(closes),
		PeriodDays:    len(data.Candles),
	}

	artifact := &domain.Artifact{
		Symbol:      symbol,
		Date:        date,
		Narrative:   buildNarrative(symbol, brief),
		Data:        brief,
		Chart:       RenderSparkline(closes),
		GeneratedAt: time.Now().UTC(),
	}

	c.log.Debug().
		Str("symbol", symbol).
		Str("date", date).
		Int("candles", len(data.Candles)).
		Msg("Computed artifact")

	return artifact, nil
}

// buildNarrative renders the one-paragraph summary from the computed figures.
func buildNarrative(symbol string, d domain.BriefData) string {
	direction := "closed flat"
	switch {
	case d.ChangePct > 0:
		direction = fmt.Sprintf("gained %.2f%%", d.ChangePct)
	case d.ChangePct < 0:
		direction = fmt.Sprintf("fell %.2f%%", -d.ChangePct)
	}

	narrative := fmt.Sprintf("%s %s to close at %.2f.", symbol, direction, d.Close)

	if d.RSI14 != nil {
		switch {
		case *d.RSI14 >= 70:
			narrative += fmt.Sprintf(" RSI at %.0f signals overbought conditions.", *d.RSI14)
		case *d.RSI14 <= 30:
			narrative += fmt.Sprintf(" RSI at %.0f signals oversold conditions.", *d.RSI14)
		default:
			narrative += fmt.Sprintf(" RSI sits at a neutral %.0f.", *d.RSI14)
		}
	}

	if d.SMA20 != nil && d.SMA50 != nil {
		if *d.SMA20 > *d.SMA50 {
			narrative += " The 20-day average holds above the 50-day."
		} else if *d.SMA20 < *d.SMA50 {
			narrative += " The 20-day average sits below the 50-day."
		}
	}

	if d.AnnualizedVol != nil {
		narrative += fmt.Sprintf(" Annualized volatility over the period is %.1f%%.", *d.AnnualizedVol*100)
	}

	return narrative
}
