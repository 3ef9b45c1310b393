package graphite

import (
	"strconv"
	"strings"

	"github.com/ethpandaops/graphite-exporter/internal/metrics"
)

// PercentileTag is the tag key distributions are expanded under.
const PercentileTag = "p"

// FormatOptions controls path rendering.
type FormatOptions struct {
	// Prefix is prepended to every path, joined with a dot.
	Prefix string
	// TagDivider is written before each tag.
	TagDivider string
	// TagSeparator is written between a tag key and its value.
	TagSeparator string
}

// Format renders a snapshot as Graphite plaintext. Every line carries the
// same timestamp and the output always ends with a newline, so an empty
// snapshot renders as "\n".
func Format(snap metrics.Snapshot, timestamp int64, opts FormatOptions) string {
	ts := strconv.FormatInt(timestamp, 10)
	lines := make([]string, 0, len(snap)+1)

	for _, e := range snap {
		switch e.Metric.Kind {
		case metrics.KindDistribution:
			for _, pv := range distributionValues(e.Summary) {
				tags := make([]metrics.Tag, 0, len(e.Metric.Tags)+1)
				tags = append(tags, e.Metric.Tags...)
				tags = append(tags, metrics.NewTag(PercentileTag, pv.suffix))

				lines = append(lines, line(opts.path(e.Metric.Name, tags), pv.value, ts))
			}
		default:
			lines = append(lines, line(opts.path(e.Metric.Name, e.Metric.Tags), e.Value, ts))
		}
	}

	return strings.Join(lines, "\n") + "\n"
}

// Lines reports how many lines Format produces for snap.
func Lines(snap metrics.Snapshot) int {
	n := 0

	for _, e := range snap {
		if e.Metric.Kind == metrics.KindDistribution {
			n += len(distributionValues(e.Summary))
		} else {
			n++
		}
	}

	return n
}

func (o FormatOptions) path(name string, tags []metrics.Tag) string {
	path := EncodePath(name, tags, o.TagDivider, o.TagSeparator)
	if o.Prefix == "" {
		return path
	}

	return o.Prefix + "." + path
}

type percentileValue struct {
	suffix string
	value  float64
}

// distributionValues lists a summary's values in wire order.
func distributionValues(s metrics.Summary) [5]percentileValue {
	return [5]percentileValue{
		{suffix: "50", value: s.P50},
		{suffix: "90", value: s.P90},
		{suffix: "99", value: s.P99},
		{suffix: "count", value: float64(s.Count)},
		{suffix: "sum", value: s.Sum},
	}
}

func line(path string, value float64, ts string) string {
	return path + " " + FormatValue(value) + " " + ts
}

// FormatValue renders v in its shortest exact decimal form.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
