package metrics

import (
	"math"
	"sort"
)

// HistogramSummary describes a histogram's retained observations.
type HistogramSummary struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Quantiles reported for every histogram.
var Quantiles = []float64{0.5, 0.9, 0.95, 0.99}

// Percentile returns the nearest-rank percentile of ascending values:
// sorted[ceil(n*p)-1], clamped to the first and last elements. It does not
// interpolate. An empty slice yields 0.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(float64(n)*p)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// summarize sorts values in place and derives the summary. sum is the
// histogram's running sum.
func summarize(values []float64, sum float64) HistogramSummary {
	if len(values) == 0 {
		return HistogramSummary{}
	}
	sort.Float64s(values)

	return HistogramSummary{
		Count: len(values),
		Sum:   sum,
		Avg:   sum / float64(len(values)),
		Min:   values[0],
		Max:   values[len(values)-1],
		P50:   Percentile(values, 0.5),
		P90:   Percentile(values, 0.9),
		P95:   Percentile(values, 0.95),
		P99:   Percentile(values, 0.99),
	}
}
