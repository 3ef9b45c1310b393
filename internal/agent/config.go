package agent

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/graphite-exporter/internal/collector"
	"github.com/ethpandaops/graphite-exporter/internal/export"
	"github.com/ethpandaops/graphite-exporter/internal/exporter"
)

// Config is the top-level configuration for the graphite-exporter agent.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// EnvFile is a dotenv file loaded before environment variables in the
	// exporter url and headers are expanded.
	EnvFile string `yaml:"env_file"`

	// Interval is how often the registry publishes a snapshot.
	// Defaults to 10s.
	Interval time.Duration `yaml:"interval"`

	// Exporter configures the Graphite destination.
	Exporter exporter.Config `yaml:"exporter"`

	// Collector configures process and host sampling.
	Collector collector.Config `yaml:"collector"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Interval: 10 * time.Second,
		Exporter: exporter.DefaultConfig(),
		Health: export.HealthConfig{
			Addr: ":9090",
		},
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.expandEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnv loads EnvFile, if set, and substitutes ${VAR} references in
// the exporter url and header values.
func (c *Config) expandEnv() error {
	if c.EnvFile != "" {
		if err := godotenv.Load(c.EnvFile); err != nil {
			return fmt.Errorf("loading env file %s: %w", c.EnvFile, err)
		}
	}

	c.Exporter.URL = os.ExpandEnv(c.Exporter.URL)
	c.Exporter.Hostname = os.ExpandEnv(c.Exporter.Hostname)

	for k, v := range c.Exporter.Headers {
		c.Exporter.Headers[k] = os.ExpandEnv(v)
	}

	return nil
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("interval must be positive")
	}

	c.Exporter.ApplyDefaults()

	if err := c.Exporter.Validate(); err != nil {
		return fmt.Errorf("exporter: %w", err)
	}

	return nil
}
