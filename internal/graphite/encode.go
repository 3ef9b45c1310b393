// Package graphite renders metric snapshots in the Graphite plaintext
// protocol: one "<path> <value> <timestamp>" line per value.
package graphite

import (
	"strings"

	"github.com/ethpandaops/graphite-exporter/internal/metrics"
)

// EncodePath flattens a metric name and its tags into a Graphite path.
// Tags are appended in the order given as divider+key+separator+value.
// Keys and values are not escaped.
func EncodePath(name string, tags []metrics.Tag, divider, separator string) string {
	if len(tags) == 0 {
		return name
	}

	var b strings.Builder

	b.Grow(len(name) + len(tags)*(len(divider)+len(separator)+16))
	b.WriteString(name)

	for _, t := range tags {
		b.WriteString(divider)
		b.WriteString(t.Key)
		b.WriteString(separator)
		b.WriteString(t.Value)
	}

	return b.String()
}
