// Package compute derives the daily brief for one symbol from its raw
// snapshot: technical indicators, a short narrative, and a sparkline chart.
package compute

import (
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

// tradingDaysPerYear scales daily volatility to an annual figure.
const tradingDaysPerYear = 252

// CalculateRSI returns the current Relative Strength Index, or nil if there
// is not enough history for the requested period.
func CalculateRSI(closes []float64, length int) *float64 {
	if len(closes) < length+1 {
		return nil
	}

	rsi := talib.Rsi(closes, length)
	if len(rsi) == 0 || isNaN(rsi[len(rsi)-1]) {
		return nil
	}

	result := rsi[len(rsi)-1]
	return &result
}

// CalculateSMA returns the current simple moving average, or nil if there is
// not enough history for the requested period.
func CalculateSMA(closes []float64, length int) *float64 {
	if len(closes) < length {
		return nil
	}

	sma := talib.Sma(closes, length)
	if len(sma) == 0 || isNaN(sma[len(sma)-1]) {
		return nil
	}

	result := sma[len(sma)-1]
	return &result
}

// CalculateReturns converts prices to daily percentage returns.
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}
	return returns
}

// AnnualizedVolatility returns the annualized standard deviation of daily
// returns, or nil when fewer than two returns are available.
func AnnualizedVolatility(dailyReturns []float64) *float64 {
	if len(dailyReturns) < 2 {
		return nil
	}

	result := stat.StdDev(dailyReturns, nil) * math.Sqrt(tradingDaysPerYear)
	if isNaN(result) {
		return nil
	}
	return &result
}

// MaxDrawdown returns the largest peak-to-trough decline over the price
// series as a negative fraction (e.g. -0.18 for an 18% drawdown), or nil
// when the series is empty.
func MaxDrawdown(prices []float64) *float64 {
	if len(prices) == 0 {
		return nil
	}

	peak := prices[0]
	maxDD := 0.0
	for _, p := range prices {
		if p > peak {
			peak = p
		}
		if peak > 0 {
			dd := (p - peak) / peak
			if dd < maxDD {
				maxDD = dd
			}
		}
	}
	return &maxDD
}

func isNaN(f float64) bool {
	return f != f
}
