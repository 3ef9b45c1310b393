package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpexport "github.com/ethpandaops/graphite-exporter/internal/export/http"
	"github.com/ethpandaops/graphite-exporter/internal/exporter"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.Health.Addr)
	assert.Equal(t, 10*time.Second, cfg.Interval)
	assert.Empty(t, cfg.Exporter.TagDivider)
	assert.Empty(t, cfg.Exporter.TagSeparator)
	assert.True(t, cfg.Collector.IsEnabled())
}

func TestLoadConfig(t *testing.T) {
	yaml := `
log_level: debug
interval: 15s
exporter:
  hostname: carbon.internal:2003
  tag_divider: ";"
  tag_separator: "="
  prefix: hosts.node1
  timeout: 2s
collector:
  enabled: false
health:
  addr: ":9091"
`
	cfg, err := LoadConfig(writeFile(t, "config.yaml", yaml))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 15*time.Second, cfg.Interval)
	assert.Equal(t, "carbon.internal:2003", cfg.Exporter.Hostname)
	assert.Equal(t, ";", cfg.Exporter.TagDivider)
	assert.Equal(t, "=", cfg.Exporter.TagSeparator)
	assert.Equal(t, "hosts.node1", cfg.Exporter.Prefix)
	assert.Equal(t, 2*time.Second, cfg.Exporter.Timeout)
	assert.Equal(t, exporter.TransportTCP, cfg.Exporter.Transport())
	assert.False(t, cfg.Collector.IsEnabled())
	assert.Equal(t, ":9091", cfg.Health.Addr)
}

func TestLoadConfig_HTTPWithEnvFile(t *testing.T) {
	envPath := writeFile(t, ".env", "GRAPHITE_EXPORTER_TEST_TOKEN=s3cret\n")
	t.Cleanup(func() { os.Unsetenv("GRAPHITE_EXPORTER_TEST_TOKEN") })

	yaml := `
env_file: ` + envPath + `
exporter:
  url: https://graphite.example/api/ingest
  headers:
    Authorization: "Bearer ${GRAPHITE_EXPORTER_TEST_TOKEN}"
  http:
    compression: gzip
`
	cfg, err := LoadConfig(writeFile(t, "config.yaml", yaml))
	require.NoError(t, err)

	assert.Equal(t, exporter.TransportHTTP, cfg.Exporter.Transport())
	assert.Equal(t, "Bearer s3cret", cfg.Exporter.Headers["Authorization"])
	assert.Equal(t, httpexport.CompressionGzip, cfg.Exporter.HTTP.Compression)
	assert.False(t, cfg.Exporter.HasTagEncoding())
	assert.Equal(t, 5*time.Second, cfg.Exporter.Timeout)
}

func TestLoadConfig_MissingEnvFile(t *testing.T) {
	yaml := `
env_file: /nonexistent/.env
exporter:
  hostname: localhost
`
	_, err := LoadConfig(writeFile(t, "config.yaml", yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading env file")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	// A leading tab is invalid YAML indentation.
	_, err := LoadConfig(writeFile(t, "bad.yaml", "\t- bad"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestValidate_NoTransport(t *testing.T) {
	cfg := DefaultConfig()

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, exporter.ErrConfiguration)
}

func TestValidate_BothTransports(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exporter.Hostname = "localhost"
	cfg.Exporter.URL = "http://localhost"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, exporter.ErrConfiguration)
}

func TestLoadConfig_HalfTagEncoding(t *testing.T) {
	yaml := `
exporter:
  hostname: localhost
  tag_divider: "."
`
	_, err := LoadConfig(writeFile(t, "config.yaml", yaml))
	require.Error(t, err)
	assert.ErrorIs(t, err, exporter.ErrConfiguration)
}

func TestValidate_InvalidInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exporter.Hostname = "localhost"
	cfg.Interval = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval must be positive")
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exporter.Hostname = "localhost"

	require.NoError(t, cfg.Validate())
}
