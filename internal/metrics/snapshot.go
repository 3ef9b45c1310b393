package metrics

import (
	"github.com/montanaflynn/stats"
)

// Percentiles reported for every distribution, in output order.
var Percentiles = []float64{50, 90, 99}

// Summary is a distribution reduced to percentile, count and sum values.
type Summary struct {
	P50   float64
	P90   float64
	P99   float64
	Count uint64
	Sum   float64
}

// Entry is one metric value captured in a snapshot. Value is set for
// counters and gauges, Summary for distributions.
type Entry struct {
	Metric  Metric
	Value   float64
	Summary Summary
}

// Snapshot is the ordered set of values captured for one publish cycle.
type Snapshot []Entry

// Summarize reduces samples to a Summary using nearest-rank percentiles.
func Summarize(samples []float64) Summary {
	if len(samples) == 0 {
		return Summary{}
	}

	data := stats.Float64Data(samples)

	// Errors only occur for empty input or out-of-range percents.
	p50, _ := data.PercentileNearestRank(Percentiles[0])
	p90, _ := data.PercentileNearestRank(Percentiles[1])
	p99, _ := data.PercentileNearestRank(Percentiles[2])
	sum, _ := data.Sum()

	return Summary{
		P50:   p50,
		P90:   p90,
		P99:   p99,
		Count: uint64(len(samples)),
		Sum:   sum,
	}
}
