package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v3"
	"github.com/sirupsen/logrus"
)

// Subscriber receives every published snapshot together with the instant it
// was captured.
type Subscriber func(snap Snapshot, at time.Time)

// Registry aggregates metric values between publish cycles.
//
// Series are reported in the order they were first registered. Counters and
// distributions are reset after every publish, gauges keep their last value.
type Registry struct {
	log logrus.FieldLogger
	now func() time.Time

	mu          sync.Mutex
	series      *orderedmap.OrderedMap[string, *series]
	subscribers []Subscriber
	stopped     bool
}

type series struct {
	metric  Metric
	value   float64
	samples []float64
}

// NewRegistry creates an empty Registry.
func NewRegistry(log logrus.FieldLogger) *Registry {
	return &Registry{
		log:         log.WithField("component", "registry"),
		now:         time.Now,
		series:      orderedmap.NewOrderedMap[string, *series](),
		subscribers: make([]Subscriber, 0, 2),
	}
}

// Counter returns the counter identified by name and tags, registering it on
// first use.
func (r *Registry) Counter(name string, tags ...Tag) *Counter {
	return &Counter{r: r, s: r.lookup(name, tags, KindCounter)}
}

// Gauge returns the gauge identified by name and tags, registering it on
// first use.
func (r *Registry) Gauge(name string, tags ...Tag) *Gauge {
	return &Gauge{r: r, s: r.lookup(name, tags, KindGauge)}
}

// Distribution returns the distribution identified by name and tags,
// registering it on first use.
func (r *Registry) Distribution(name string, tags ...Tag) *Distribution {
	return &Distribution{r: r, s: r.lookup(name, tags, KindDistribution)}
}

func (r *Registry) lookup(name string, tags []Tag, kind Kind) *series {
	m := Metric{Name: name, Tags: uniqueTags(tags), Kind: kind}
	id := m.id()

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.series.Get(id); ok {
		return s
	}

	s := &series{metric: m}
	r.series.Set(id, s)

	return s
}

// Remove unregisters the series with the given name and tags, whatever its
// kind, and returns how many were removed. Handles obtained earlier keep
// accepting values but are no longer reported.
func (r *Registry) Remove(name string, tags ...Tag) int {
	tags = uniqueTags(tags)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0

	for _, kind := range []Kind{KindCounter, KindGauge, KindDistribution} {
		if r.series.Delete(Metric{Name: name, Tags: tags, Kind: kind}.id()) {
			removed++
		}
	}

	return removed
}

// Attach registers a subscriber. Subscribers run in attach order.
func (r *Registry) Attach(fn Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}

	r.subscribers = append(r.subscribers, fn)
}

// Snapshot captures the current values without resetting them.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() Snapshot {
	snap := make(Snapshot, 0, r.series.Len())

	for el := r.series.Front(); el != nil; el = el.Next() {
		s := el.Value

		switch s.metric.Kind {
		case KindDistribution:
			if len(s.samples) == 0 {
				continue
			}

			snap = append(snap, Entry{
				Metric:  s.metric,
				Summary: Summarize(s.samples),
			})
		default:
			snap = append(snap, Entry{
				Metric: s.metric,
				Value:  s.value,
			})
		}
	}

	return snap
}

func (r *Registry) resetLocked() {
	for el := r.series.Front(); el != nil; el = el.Next() {
		s := el.Value

		switch s.metric.Kind {
		case KindCounter:
			s.value = 0
		case KindDistribution:
			s.samples = s.samples[:0]
		}
	}
}

// Publish captures a snapshot, resets counters and distributions and hands
// the snapshot to every subscriber. It is a no-op after Stop.
func (r *Registry) Publish() {
	r.mu.Lock()

	if r.stopped {
		r.mu.Unlock()

		return
	}

	at := r.now()
	snap := r.snapshotLocked()
	r.resetLocked()

	subscribers := make([]Subscriber, len(r.subscribers))
	copy(subscribers, r.subscribers)

	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"entries":     len(snap),
		"subscribers": len(subscribers),
	}).Debug("Publishing snapshot")

	for _, fn := range subscribers {
		fn(snap, at)
	}
}

// Run publishes every interval until ctx is done or the registry is stopped.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.Stopped() {
				return
			}

			r.Publish()
		}
	}
}

// Stop drops all subscribers and prevents further publishes.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	r.subscribers = nil
}

// Stopped reports whether Stop has been called.
func (r *Registry) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.stopped
}

// Counter accumulates a value that resets after each publish.
type Counter struct {
	r *Registry
	s *series
}

// Add increases the counter by delta.
func (c *Counter) Add(delta float64) {
	c.r.mu.Lock()
	c.s.value += delta
	c.r.mu.Unlock()
}

// Inc increases the counter by one.
func (c *Counter) Inc() {
	c.Add(1)
}

// Gauge holds the last value set.
type Gauge struct {
	r *Registry
	s *series
}

// Set replaces the gauge value.
func (g *Gauge) Set(v float64) {
	g.r.mu.Lock()
	g.s.value = v
	g.r.mu.Unlock()
}

// Distribution collects samples that are reduced to percentiles at publish.
type Distribution struct {
	r *Registry
	s *series
}

// Observe records a sample.
func (d *Distribution) Observe(v float64) {
	d.r.mu.Lock()
	d.s.samples = append(d.s.samples, v)
	d.r.mu.Unlock()
}
