package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Enabled starts the server. Defaults to true.
	Enabled *bool `yaml:"enabled"`

	// Addr is the listen address for the health metrics server.
	// Defaults to ":9090".
	Addr string `yaml:"addr"`
}

// IsEnabled reports whether the server should run.
func (c *HealthConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}

	return *c.Enabled
}

// HealthMetrics exposes Prometheus metrics about the exporter itself.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Publish side.
	SnapshotsPublished prometheus.Counter
	SnapshotsDropped   prometheus.Counter

	// Delivery side.
	DeliveriesTotal    *prometheus.CounterVec   // transport, status
	DeliveryErrors     *prometheus.CounterVec   // transport, error_type
	DeliveryDuration   *prometheus.HistogramVec // transport
	DeliveriesInFlight prometheus.Gauge
	LinesExported      prometheus.Counter
	BytesExported      prometheus.Counter

	// Collector.
	CollectorErrors   *prometheus.CounterVec // source
	CollectorDuration prometheus.Histogram

	running atomic.Bool
}

// NewHealthMetrics creates a new health metrics server.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,

		SnapshotsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphite_exporter",
			Name:      "snapshots_published_total",
			Help:      "Total snapshots handed to the exporter.",
		}),
		SnapshotsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphite_exporter",
			Name:      "snapshots_dropped_total",
			Help:      "Total snapshots ignored because the exporter was stopped.",
		}),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graphite_exporter",
				Name:      "deliveries_total",
				Help:      "Total delivery attempts by transport and status.",
			},
			[]string{"transport", "status"},
		),
		DeliveryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graphite_exporter",
				Name:      "delivery_errors_total",
				Help:      "Total failed deliveries by transport and error type.",
			},
			[]string{"transport", "error_type"},
		),
		DeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "graphite_exporter",
				Name:      "delivery_duration_seconds",
				Help:      "Time to deliver one snapshot by transport.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}, // 1ms-5s
			},
			[]string{"transport"},
		),
		DeliveriesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphite_exporter",
			Name:      "deliveries_in_flight",
			Help:      "Deliveries currently in progress.",
		}),
		LinesExported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphite_exporter",
			Name:      "lines_exported_total",
			Help:      "Total Graphite lines successfully delivered.",
		}),
		BytesExported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphite_exporter",
			Name:      "bytes_exported_total",
			Help:      "Total payload bytes successfully delivered.",
		}),
		CollectorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graphite_exporter",
				Name:      "collector_errors_total",
				Help:      "Total process collector sampling errors by source.",
			},
			[]string{"source"},
		),
		CollectorDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "graphite_exporter",
			Name:      "collector_duration_seconds",
			Help:      "Time to sample process and host statistics.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05}, // 100us-50ms
		}),
	}

	reg.MustRegister(
		h.SnapshotsPublished,
		h.SnapshotsDropped,
		h.DeliveriesTotal,
		h.DeliveryErrors,
		h.DeliveryDuration,
		h.DeliveriesInFlight,
		h.LinesExported,
		h.BytesExported,
		h.CollectorErrors,
		h.CollectorDuration,
	)

	return h
}

// Start begins serving the /metrics endpoint.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		h.addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	h.server = &http.Server{
		Handler: mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop shuts down the health metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}
