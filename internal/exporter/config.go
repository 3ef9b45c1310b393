package exporter

import (
	"errors"
	"fmt"
	"time"

	httpexport "github.com/ethpandaops/graphite-exporter/internal/export/http"
	"github.com/ethpandaops/graphite-exporter/internal/graphite"
)

// ErrConfiguration is returned by New when the configuration cannot select
// exactly one transport or is otherwise unusable.
var ErrConfiguration = errors.New("invalid exporter configuration")

// Transport names.
const (
	TransportTCP  = "tcp"
	TransportHTTP = "http"
)

// Config describes one export target. Exactly one of Hostname and URL must
// be set.
type Config struct {
	// Hostname selects TCP delivery. It may carry a port ("host:2003");
	// without one the Graphite default 2003 is used.
	Hostname string `yaml:"hostname"`

	// URL selects HTTP delivery.
	URL string `yaml:"url"`

	// Headers are sent as given with every HTTP delivery. HTTP only.
	Headers map[string]string `yaml:"headers"`

	// HTTPPost overrides the HTTP poster. Defaults to a net/http client
	// built from HTTP.
	HTTPPost httpexport.Poster `yaml:"-"`

	// HTTP configures the default HTTP poster.
	HTTP httpexport.Config `yaml:"http"`

	// TagDivider is written before each tag. Set it together with
	// TagSeparator; "." is the usual choice.
	TagDivider string `yaml:"tag_divider"`

	// TagSeparator is written between a tag key and value, e.g. "_".
	TagSeparator string `yaml:"tag_separator"`

	// Prefix is prepended to every metric path.
	Prefix string `yaml:"prefix"`

	// Timeout bounds each delivery, connect and write included.
	// Defaults to 5s.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a Config with sensible defaults. It selects no
// transport and no tag encoding.
func DefaultConfig() Config {
	return Config{
		Timeout: 5 * time.Second,
	}
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Timeout == 0 {
		c.Timeout = defaults.Timeout
	}

	c.HTTP.ApplyDefaults()
}

// Validate checks that exactly one transport is selected.
func (c *Config) Validate() error {
	switch {
	case c.Hostname != "" && c.URL != "":
		return fmt.Errorf("%w: hostname and url are mutually exclusive", ErrConfiguration)
	case c.Hostname == "" && c.URL == "":
		return fmt.Errorf("%w: one of hostname or url is required", ErrConfiguration)
	}

	if c.Hostname != "" && len(c.Headers) > 0 {
		return fmt.Errorf("%w: headers require url", ErrConfiguration)
	}

	if (c.TagDivider == "") != (c.TagSeparator == "") {
		return fmt.Errorf("%w: tag_divider and tag_separator must be set together", ErrConfiguration)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrConfiguration)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("%w: http: %w", ErrConfiguration, err)
	}

	return nil
}

// HasTagEncoding reports whether tags can be written into paths.
func (c *Config) HasTagEncoding() bool {
	return c.TagDivider != "" && c.TagSeparator != ""
}

// FormatOptions returns the formatter settings for this target.
func (c *Config) FormatOptions() graphite.FormatOptions {
	return graphite.FormatOptions{
		Prefix:       c.Prefix,
		TagDivider:   c.TagDivider,
		TagSeparator: c.TagSeparator,
	}
}

// Transport returns the transport the configuration selects.
func (c *Config) Transport() string {
	if c.URL != "" {
		return TransportHTTP
	}

	return TransportTCP
}
