package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/graphite-exporter/internal/collector"
	"github.com/ethpandaops/graphite-exporter/internal/export"
	"github.com/ethpandaops/graphite-exporter/internal/exporter"
	"github.com/ethpandaops/graphite-exporter/internal/metrics"
)

// Agent is the top-level orchestrator for graphite-exporter.
type Agent interface {
	// Start launches the health server, the collector and the publish loop.
	Start(ctx context.Context) error
	// Stop flushes one final snapshot and shuts down all components.
	Stop() error
	// Registry returns the registry snapshots are published from.
	Registry() *metrics.Registry
}

type agent struct {
	log       logrus.FieldLogger
	cfg       *Config
	health    *export.HealthMetrics
	registry  *metrics.Registry
	exporter  *exporter.Exporter
	collector *collector.Collector

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Agent.
func New(log logrus.FieldLogger, cfg *Config) (Agent, error) {
	health := export.NewHealthMetrics(log, cfg.Health)
	registry := metrics.NewRegistry(log)

	exp, err := exporter.New(log, cfg.Exporter, health)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	a := &agent{
		log:      log.WithField("component", "agent"),
		cfg:      cfg,
		health:   health,
		registry: registry,
		exporter: exp,
	}

	if cfg.Collector.IsEnabled() {
		a.collector, err = collector.New(log, registry, health, cfg.Collector)
		if err != nil {
			return nil, errors.Join(
				fmt.Errorf("creating collector: %w", err),
				exp.Stop(),
			)
		}
	}

	registry.Attach(exp.Publish)

	return a, nil
}

func (a *agent) Registry() *metrics.Registry {
	return a.registry
}

func (a *agent) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	// 1. Start health metrics server.
	if a.cfg.Health.IsEnabled() {
		if err := a.health.Start(ctx); err != nil {
			return fmt.Errorf("starting health metrics: %w", err)
		}
	}

	// 2. Start process sampling.
	if a.collector != nil {
		a.wg.Add(1)

		go func() {
			defer a.wg.Done()

			a.collector.Run(ctx, a.cfg.Interval)
		}()
	}

	// 3. Start the publish loop.
	a.wg.Add(1)

	go func() {
		defer a.wg.Done()

		a.registry.Run(ctx, a.cfg.Interval)
	}()

	a.log.WithFields(logrus.Fields{
		"transport": a.exporter.Transport(),
		"interval":  a.cfg.Interval,
		"collector": a.collector != nil,
	}).Info("Agent fully started")

	return nil
}

func (a *agent) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}

	a.wg.Wait()

	// Flush what accumulated since the last tick, then stop in reverse
	// order.
	a.registry.Publish()
	a.registry.Stop()

	var errs []error

	if err := a.exporter.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping exporter: %w", err))
	}

	if err := a.health.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping health metrics: %w", err))
	}

	return errors.Join(errs...)
}
