package http

import (
	"errors"

	"github.com/ethpandaops/graphite-exporter/internal/version"
)

// Config configures the production HTTP poster.
type Config struct {
	// Compression specifies the body compression algorithm.
	// Valid values: none, gzip, zstd, zlib, snappy.
	// Defaults to none so the collector receives the text verbatim.
	Compression string `yaml:"compression"`

	// KeepAlive reuses connections between deliveries.
	// Defaults to false: every delivery gets its own connection.
	KeepAlive *bool `yaml:"keep_alive"`

	// UserAgent is sent when the caller's headers do not set one.
	// Defaults to graphite-exporter/<release>.
	UserAgent string `yaml:"user_agent"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	keepAlive := false

	return Config{
		Compression: CompressionNone,
		KeepAlive:   &keepAlive,
		UserAgent:   version.UserAgent(),
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Compression != "" {
		switch c.Compression {
		case CompressionNone, CompressionGzip, CompressionZstd,
			CompressionZlib, CompressionSnappy:
			// Valid.
		default:
			return errors.New("invalid compression type: " + c.Compression)
		}
	}

	return nil
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Compression == "" {
		c.Compression = defaults.Compression
	}

	if c.KeepAlive == nil {
		c.KeepAlive = defaults.KeepAlive
	}

	if c.UserAgent == "" {
		c.UserAgent = defaults.UserAgent
	}
}

// IsKeepAlive returns whether HTTP keep-alive is enabled.
func (c *Config) IsKeepAlive() bool {
	if c.KeepAlive == nil {
		return false
	}

	return *c.KeepAlive
}
