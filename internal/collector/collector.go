// Package collector samples the agent's own process and the host it runs on
// into a metrics registry.
package collector

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/graphite-exporter/internal/export"
	"github.com/ethpandaops/graphite-exporter/internal/metrics"
)

// Sampling sources, used as the error label.
const (
	SourceMemory  = "memory"
	SourceCPU     = "cpu"
	SourceFDs     = "fds"
	SourceThreads = "threads"
	SourceLoad    = "load"
	SourceTargets = "targets"
)

// Series reported per discovered process, tagged with process and pid.
const (
	targetRSS     = "target.memory.rss_bytes"
	targetCPU     = "target.cpu.percent"
	targetThreads = "target.threads"
)

var targetSeries = []string{targetRSS, targetCPU, targetThreads}

// ProcessInfo is the subset of *process.Process the collector reads.
type ProcessInfo interface {
	MemoryInfo() (*process.MemoryInfoStat, error)
	Percent(interval time.Duration) (float64, error)
	NumFDs() (int32, error)
	NumThreads() (int32, error)
}

// LoadFunc returns the host load averages.
type LoadFunc func() (*load.AvgStat, error)

// OpenFunc opens a discovered process for sampling.
type OpenFunc func(ctx context.Context, pid int32) (ProcessInfo, error)

var _ ProcessInfo = (*process.Process)(nil)

// Config configures the collector.
type Config struct {
	// Enabled turns sampling on. Defaults to true.
	Enabled *bool `yaml:"enabled"`

	// ProcessNames lists other local processes to sample by name.
	ProcessNames []string `yaml:"process_names"`

	// CgroupPath is a cgroup v2 directory whose processes are sampled.
	CgroupPath string `yaml:"cgroup_path"`
}

// IsEnabled reports whether the collector should run.
func (c *Config) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}

	return *c.Enabled
}

// Collector writes process and host statistics into a registry.
type Collector struct {
	log    logrus.FieldLogger
	health *export.HealthMetrics
	proc   ProcessInfo
	load   LoadFunc
	disc   Discovery
	open   OpenFunc

	// watched keeps discovered processes between samples so CPU percent
	// covers the interval since the previous sample.
	watched map[int32]*watchedTarget
	reg     *metrics.Registry

	rss        *metrics.Gauge
	cpu        *metrics.Distribution
	fds        *metrics.Gauge
	threads    *metrics.Gauge
	goroutines *metrics.Gauge
	load1      *metrics.Gauge
	load5      *metrics.Gauge
	load15     *metrics.Gauge
	samples    *metrics.Counter
	errors     *metrics.Counter
}

type watchedTarget struct {
	proc ProcessInfo
	tags []metrics.Tag
}

// New creates a Collector for the current process.
func New(
	log logrus.FieldLogger,
	reg *metrics.Registry,
	health *export.HealthMetrics,
	cfg Config,
) (*Collector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("opening own process: %w", err)
	}

	c := NewWithSources(log, reg, health, proc, load.Avg)
	c.Watch(NewDiscovery(log, cfg), openProcess)

	return c, nil
}

func openProcess(ctx context.Context, pid int32) (ProcessInfo, error) {
	return process.NewProcessWithContext(ctx, pid)
}

// NewWithSources creates a Collector reading from the given sources.
func NewWithSources(
	log logrus.FieldLogger,
	reg *metrics.Registry,
	health *export.HealthMetrics,
	proc ProcessInfo,
	loadFn LoadFunc,
) *Collector {
	return &Collector{
		log:        log.WithField("component", "collector"),
		health:     health,
		proc:       proc,
		load:       loadFn,
		watched:    make(map[int32]*watchedTarget),
		reg:        reg,
		rss:        reg.Gauge("process.memory.rss_bytes"),
		cpu:        reg.Distribution("process.cpu.percent"),
		fds:        reg.Gauge("process.open_fds"),
		threads:    reg.Gauge("process.threads"),
		goroutines: reg.Gauge("process.goroutines"),
		load1:      reg.Gauge("host.load", metrics.NewTag("window", "1m")),
		load5:      reg.Gauge("host.load", metrics.NewTag("window", "5m")),
		load15:     reg.Gauge("host.load", metrics.NewTag("window", "15m")),
		samples:    reg.Counter("collector.samples"),
		errors:     reg.Counter("collector.errors"),
	}
}

// Watch makes every Collect also sample the processes disc finds. A nil
// disc disables it.
func (c *Collector) Watch(disc Discovery, open OpenFunc) {
	c.disc = disc
	c.open = open
}

// Collect takes one sample. Sources that fail are skipped and counted.
func (c *Collector) Collect(ctx context.Context) {
	start := time.Now()

	if mem, err := c.proc.MemoryInfo(); err != nil {
		c.fail(SourceMemory, err)
	} else {
		c.rss.Set(float64(mem.RSS))
	}

	if pct, err := c.proc.Percent(0); err != nil {
		c.fail(SourceCPU, err)
	} else {
		c.cpu.Observe(pct)
	}

	if n, err := c.proc.NumFDs(); err != nil {
		c.fail(SourceFDs, err)
	} else {
		c.fds.Set(float64(n))
	}

	if n, err := c.proc.NumThreads(); err != nil {
		c.fail(SourceThreads, err)
	} else {
		c.threads.Set(float64(n))
	}

	c.goroutines.Set(float64(runtime.NumGoroutine()))

	if avg, err := c.load(); err != nil {
		c.fail(SourceLoad, err)
	} else {
		c.load1.Set(avg.Load1)
		c.load5.Set(avg.Load5)
		c.load15.Set(avg.Load15)
	}

	if c.disc != nil {
		c.collectTargets(ctx)
	}

	c.samples.Inc()

	if c.health != nil {
		c.health.CollectorDuration.Observe(time.Since(start).Seconds())
	}
}

func (c *Collector) collectTargets(ctx context.Context) {
	targets, err := c.disc.Discover(ctx)
	if err != nil {
		c.fail(SourceTargets, err)

		return
	}

	alive := make(map[int32]struct{}, len(targets))

	for _, t := range targets {
		alive[t.PID] = struct{}{}

		w, ok := c.watched[t.PID]
		if !ok {
			proc, err := c.open(ctx, t.PID)
			if err != nil {
				c.fail(SourceTargets, err)

				continue
			}

			w = &watchedTarget{
				proc: proc,
				tags: []metrics.Tag{
					metrics.NewTag("process", t.Name),
					metrics.NewTag("pid", strconv.FormatInt(int64(t.PID), 10)),
				},
			}
			c.watched[t.PID] = w
		}

		c.sampleTarget(w)
	}

	// Exited processes stop being reported.
	for pid, w := range c.watched {
		if _, ok := alive[pid]; ok {
			continue
		}

		for _, name := range targetSeries {
			c.reg.Remove(name, w.tags...)
		}

		delete(c.watched, pid)
	}
}

func (c *Collector) sampleTarget(w *watchedTarget) {
	if mem, err := w.proc.MemoryInfo(); err != nil {
		c.fail(SourceMemory, err)
	} else {
		c.reg.Gauge(targetRSS, w.tags...).Set(float64(mem.RSS))
	}

	if pct, err := w.proc.Percent(0); err != nil {
		c.fail(SourceCPU, err)
	} else {
		c.reg.Gauge(targetCPU, w.tags...).Set(pct)
	}

	if n, err := w.proc.NumThreads(); err != nil {
		c.fail(SourceThreads, err)
	} else {
		c.reg.Gauge(targetThreads, w.tags...).Set(float64(n))
	}
}

func (c *Collector) fail(source string, err error) {
	c.errors.Inc()

	c.log.WithError(err).WithField("source", source).Debug("Sampling failed")

	if c.health != nil {
		c.health.CollectorErrors.WithLabelValues(source).Inc()
	}
}

// Run samples every interval until ctx is done. The first sample is taken
// immediately.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	c.Collect(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}
