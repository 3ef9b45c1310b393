// Package metrics holds the in-process registry that aggregates counters,
// gauges and distributions and publishes them as ordered snapshots.
package metrics

import (
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the aggregation applied to a metric.
type Kind int

const (
	KindCounter Kind = iota
	KindGauge
	KindDistribution
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindGauge:
		return "gauge"
	case KindDistribution:
		return "distribution"
	default:
		return "unknown"
	}
}

// Tag is a single key/value dimension attached to a metric.
type Tag struct {
	Key   string
	Value string
}

// NewTag creates a Tag.
func NewTag(key, value string) Tag {
	return Tag{Key: key, Value: value}
}

// Metric identifies a series by name, tags and kind.
// Tags keep the order they were supplied in.
type Metric struct {
	Name string
	Tags []Tag
	Kind Kind
}

// uniqueTags drops repeated keys. The first position of a key is kept and
// the last supplied value wins.
func uniqueTags(tags []Tag) []Tag {
	if len(tags) == 0 {
		return nil
	}

	out := make([]Tag, 0, len(tags))
	index := make(map[string]int, len(tags))

	for _, t := range tags {
		if i, ok := index[t.Key]; ok {
			out[i].Value = t.Value

			continue
		}

		index[t.Key] = len(out)
		out = append(out, t)
	}

	return out
}

// id returns the registry identity of the metric. Tag order does not
// change identity. Name, keys and values are quoted so no two distinct tag
// sets share an id.
func (m Metric) id() string {
	var b strings.Builder

	b.WriteString(m.Kind.String())
	b.WriteByte(' ')
	b.WriteString(strconv.Quote(m.Name))

	if len(m.Tags) == 0 {
		return b.String()
	}

	sorted := make([]Tag, len(m.Tags))
	copy(sorted, m.Tags)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Key < sorted[j].Key
	})

	for _, t := range sorted {
		b.WriteByte(' ')
		b.WriteString(strconv.Quote(t.Key))
		b.WriteByte('=')
		b.WriteString(strconv.Quote(t.Value))
	}

	return b.String()
}
