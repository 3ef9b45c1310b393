package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/graphite-exporter/internal/export"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

const payload = "tickets 5 1700000000\nspeed.vessel_sailboat 100 1700000000\n"

func TestClient_Post(t *testing.T) {
	var (
		receivedBody        []byte
		receivedMethod      string
		receivedContentType string
		receivedEncoding    string
		receivedUserAgent   string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedContentType = r.Header.Get("Content-Type")
		receivedEncoding = r.Header.Get("Content-Encoding")
		receivedUserAgent = r.Header.Get("User-Agent")

		body, _ := io.ReadAll(r.Body)
		receivedBody = body

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c, err := NewClient(testLog(), Config{})
	require.NoError(t, err)
	defer c.Close()

	err = c.Post(context.Background(), server.URL, []byte(payload), time.Second, map[string]string{
		"Content-Type": "application/bees",
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, receivedMethod)
	assert.Equal(t, "application/bees", receivedContentType)
	assert.Empty(t, receivedEncoding)
	assert.Equal(t, "graphite-exporter/dev", receivedUserAgent)
	assert.Equal(t, payload, string(receivedBody))
}

func TestClient_CallerUserAgentWins(t *testing.T) {
	var receivedUserAgent string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedUserAgent = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c, err := NewClient(testLog(), Config{})
	require.NoError(t, err)
	defer c.Close()

	err = c.Post(context.Background(), server.URL, []byte(payload), time.Second, map[string]string{
		"User-Agent": "custom/1.0",
	})
	require.NoError(t, err)
	assert.Equal(t, "custom/1.0", receivedUserAgent)
}

func TestClient_Compression(t *testing.T) {
	for _, algorithm := range []string{
		CompressionGzip, CompressionZstd, CompressionZlib, CompressionSnappy,
	} {
		t.Run(algorithm, func(t *testing.T) {
			var (
				receivedBody     []byte
				receivedEncoding string
			)

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				receivedEncoding = r.Header.Get("Content-Encoding")

				body, _ := io.ReadAll(r.Body)
				receivedBody = body

				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			c, err := NewClient(testLog(), Config{Compression: algorithm})
			require.NoError(t, err)
			defer c.Close()

			require.NoError(t, c.Post(context.Background(), server.URL, []byte(payload), time.Second, nil))

			assert.NotEmpty(t, receivedEncoding)

			decoded, err := Decompress(receivedEncoding, receivedBody)
			require.NoError(t, err)
			assert.Equal(t, payload, string(decoded))
		})
	}
}

func TestClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c, err := NewClient(testLog(), Config{})
	require.NoError(t, err)
	defer c.Close()

	err = c.Post(context.Background(), server.URL, []byte(payload), time.Second, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, export.ErrDelivery)
	assert.Contains(t, err.Error(), "unexpected status code: 500")
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c, err := NewClient(testLog(), Config{})
	require.NoError(t, err)
	defer c.Close()

	start := time.Now()
	err = c.Post(context.Background(), server.URL, []byte(payload), 50*time.Millisecond, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, export.ErrDeliveryTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	c, err := NewClient(testLog(), Config{})
	require.NoError(t, err)
	defer c.Close()

	err = c.Post(context.Background(), url, []byte(payload), time.Second, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, export.ErrDelivery)
}

func TestPosterFunc(t *testing.T) {
	var gotURL string

	var p Poster = PosterFunc(func(
		_ context.Context,
		url string,
		_ []byte,
		_ time.Duration,
		_ map[string]string,
	) error {
		gotURL = url

		return nil
	})

	require.NoError(t, p.Post(context.Background(), "x", nil, time.Second, nil))
	assert.Equal(t, "x", gotURL)
}

func TestNewClient_InvalidConfig(t *testing.T) {
	_, err := NewClient(testLog(), Config{Compression: "brotli"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid compression type")
}
