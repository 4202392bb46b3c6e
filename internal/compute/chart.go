package compute

import (
	"fmt"
	"strings"
)

const (
	chartWidth  = 240
	chartHeight = 60
	chartPad    = 4
)

// RenderSparkline renders the close series as a small SVG polyline. The
// output is deterministic for a given series so artifact writes stay
// byte-stable across retries.
func RenderSparkline(closes []float64) []byte {
	if len(closes) < 2 {
		return nil
	}

	lo, hi := closes[0], closes[0]
	for _, c := range closes {
		if c < lo {
			lo = c
		}
		if c > hi {
			hi = c
		}
	}
	span := hi - lo
	if span == 0 {
		span = 1 // flat series renders as a horizontal line
	}

	var points strings.Builder
	stepX := float64(chartWidth-2*chartPad) / float64(len(closes)-1)
	for i, c := range closes {
		x := chartPad + stepX*float64(i)
		y := float64(chartHeight-chartPad) - (c-lo)/span*float64(chartHeight-2*chartPad)
		if i > 0 {
			points.WriteByte(' ')
		}
		fmt.Fprintf(&points, "%.1f,%.1f", x, y)
	}

	stroke := "#2e7d32"
	if closes[len(closes)-1] < closes[0] {
		stroke = "#c62828"
	}

	svg := fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d"><polyline fill="none" stroke="%s" stroke-width="1.5" points="%s"/></svg>`,
		chartWidth, chartHeight, chartWidth, chartHeight, stroke, points.String(),
	)
	return []byte(svg)
}
