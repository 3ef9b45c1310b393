package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/graphite-exporter/internal/agent"
	"github.com/ethpandaops/graphite-exporter/internal/collector"
	"github.com/ethpandaops/graphite-exporter/internal/graphite"
	"github.com/ethpandaops/graphite-exporter/internal/metrics"
	"github.com/ethpandaops/graphite-exporter/internal/version"
)

var (
	cfgFile  string
	logLevel string
	dryRun   bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graphite-exporter",
		Short: "Ship metrics snapshots to Graphite",
		Long: `graphite-exporter periodically snapshots a metrics registry and
delivers it to a Graphite collector as plaintext lines, over a raw TCP
connection or an HTTP POST.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	cmd.Flags().StringVar(
		&cfgFile, "config", "",
		"path to config file (required)",
	)
	cmd.Flags().StringVar(
		&logLevel, "log-level", "",
		"override log level (debug, info, warn, error)",
	)
	cmd.Flags().BoolVar(
		&dryRun, "dry-run", false,
		"sample once and print the Graphite lines instead of delivering them",
	)

	if err := cmd.MarkFlagRequired("config"); err != nil {
		fmt.Fprintf(os.Stderr, "error marking flag required: %v\n", err)
		os.Exit(1)
	}

	cmd.AddCommand(versionCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.FullWithPlatform())
		},
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := agent.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing log level %q: %w", cfg.LogLevel, err)
	}

	log.SetLevel(level)

	if dryRun {
		return printSample(cmd.Context(), log, cfg, cmd.OutOrStdout())
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	a, err := agent.New(log, cfg)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	log.WithField("version", version.Full()).Info("Starting graphite-exporter")

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}

	<-ctx.Done()

	log.Info("Shutting down graphite-exporter")

	if err := a.Stop(); err != nil {
		log.WithError(err).Error("Error during shutdown")

		return fmt.Errorf("stopping agent: %w", err)
	}

	log.Info("Shutdown complete")

	return nil
}

// printSample writes one snapshot of what the agent would export to w.
// Nothing is delivered.
func printSample(
	ctx context.Context,
	log logrus.FieldLogger,
	cfg *agent.Config,
	w io.Writer,
) error {
	reg := metrics.NewRegistry(log)

	if cfg.Collector.IsEnabled() {
		c, err := collector.New(log, reg, nil, cfg.Collector)
		if err != nil {
			return fmt.Errorf("creating collector: %w", err)
		}

		c.Collect(ctx)
	}

	var text string

	reg.Attach(func(snap metrics.Snapshot, at time.Time) {
		text = graphite.Format(snap, at.Unix(), cfg.Exporter.FormatOptions())
	})
	reg.Publish()

	if _, err := io.WriteString(w, text); err != nil {
		return fmt.Errorf("writing sample: %w", err)
	}

	return nil
}
