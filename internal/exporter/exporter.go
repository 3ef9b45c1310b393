// Package exporter formats published snapshots as Graphite plaintext and
// ships them over TCP or HTTP without blocking the publisher.
package exporter

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/graphite-exporter/internal/export"
	httpexport "github.com/ethpandaops/graphite-exporter/internal/export/http"
	"github.com/ethpandaops/graphite-exporter/internal/export/tcp"
	"github.com/ethpandaops/graphite-exporter/internal/graphite"
	"github.com/ethpandaops/graphite-exporter/internal/metrics"
)

// Exporter is a metrics.Subscriber that delivers each snapshot on its own
// goroutine. Delivery failures are logged and counted, never returned.
type Exporter struct {
	log       logrus.FieldLogger
	cfg       Config
	transport string
	opts      graphite.FormatOptions
	health    *export.HealthMetrics

	tcp    *tcp.Sender
	poster httpexport.Poster
	closer io.Closer

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup

	untaggedWarning sync.Once
}

// compile-time check that Publish has the subscriber shape.
var _ metrics.Subscriber = (*Exporter)(nil).Publish

// New validates cfg and creates an Exporter. health may be nil.
func New(
	log logrus.FieldLogger,
	cfg Config,
	health *export.HealthMetrics,
) (*Exporter, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Exporter{
		cfg:       cfg,
		transport: cfg.Transport(),
		opts:      cfg.FormatOptions(),
		health:    health,
	}

	e.log = log.WithFields(logrus.Fields{
		"component": "exporter",
		"transport": e.transport,
	})

	switch e.transport {
	case TransportTCP:
		e.tcp = tcp.NewSender(log)
	case TransportHTTP:
		e.poster = cfg.HTTPPost

		if e.poster == nil {
			client, err := httpexport.NewClient(log, cfg.HTTP)
			if err != nil {
				return nil, fmt.Errorf("%w: creating http client: %w", ErrConfiguration, err)
			}

			e.poster = client
			e.closer = client
		}
	}

	return e, nil
}

// Publish formats snap and schedules its delivery. It returns before any
// I/O happens. Snapshots published after Stop are dropped.
func (e *Exporter) Publish(snap metrics.Snapshot, at time.Time) {
	e.mu.Lock()

	if e.stopped {
		e.mu.Unlock()
		e.reportDropped()

		return
	}

	e.wg.Add(1)
	e.mu.Unlock()

	if !e.cfg.HasTagEncoding() && hasTags(snap) {
		e.untaggedWarning.Do(func() {
			e.log.Warn("Tagged metrics exported without tag_divider and tag_separator, tags are concatenated into paths")
		})
	}

	text := graphite.Format(snap, at.Unix(), e.opts)
	lines := graphite.Lines(snap)

	if e.health != nil {
		e.health.SnapshotsPublished.Inc()
	}

	go e.deliver(text, lines)
}

// hasTags reports whether any path in snap carries a tag. Distributions
// always do.
func hasTags(snap metrics.Snapshot) bool {
	for _, entry := range snap {
		if len(entry.Metric.Tags) > 0 || entry.Metric.Kind == metrics.KindDistribution {
			return true
		}
	}

	return false
}

// deliver sends text on the configured transport. The transport applies
// the delivery timeout.
func (e *Exporter) deliver(text string, lines int) {
	defer e.wg.Done()

	if e.health != nil {
		e.health.DeliveriesInFlight.Inc()
		defer e.health.DeliveriesInFlight.Dec()
	}

	ctx := context.Background()
	start := time.Now()

	var err error

	switch e.transport {
	case TransportTCP:
		err = e.tcp.Send(ctx, text, e.cfg.Hostname, e.cfg.Timeout)
	case TransportHTTP:
		err = e.poster.Post(ctx, e.cfg.URL, []byte(text), e.cfg.Timeout, e.cfg.Headers)
	}

	e.record(time.Since(start), len(text), lines, err)
}

func (e *Exporter) record(duration time.Duration, size, lines int, err error) {
	fields := logrus.Fields{
		"bytes":    size,
		"lines":    lines,
		"duration": duration,
	}

	if err != nil {
		errorType := export.ErrorType(err)

		e.log.WithFields(fields).
			WithField("error_type", errorType).
			WithError(err).
			Warn("Delivery failed, dropping snapshot")

		if e.health != nil {
			e.health.DeliveriesTotal.WithLabelValues(e.transport, "failure").Inc()
			e.health.DeliveryErrors.WithLabelValues(e.transport, errorType).Inc()
		}

		return
	}

	e.log.WithFields(fields).Debug("Delivered snapshot")

	if e.health != nil {
		e.health.DeliveriesTotal.WithLabelValues(e.transport, "success").Inc()
		e.health.DeliveryDuration.WithLabelValues(e.transport).Observe(duration.Seconds())
		e.health.LinesExported.Add(float64(lines))
		e.health.BytesExported.Add(float64(size))
	}
}

func (e *Exporter) reportDropped() {
	if e.health == nil {
		return
	}

	e.health.SnapshotsDropped.Inc()
}

// Transport returns the active transport name.
func (e *Exporter) Transport() string {
	return e.transport
}

// Wait blocks until every scheduled delivery has finished.
func (e *Exporter) Wait() {
	e.wg.Wait()
}

// Stop refuses further snapshots, waits for in-flight deliveries and
// releases the default HTTP client.
func (e *Exporter) Stop() error {
	e.mu.Lock()
	e.stopped = true
	closer := e.closer
	e.closer = nil
	e.mu.Unlock()

	e.wg.Wait()

	if closer != nil {
		return closer.Close()
	}

	return nil
}
