// Package http delivers Graphite plaintext as the body of an HTTP POST.
package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/graphite-exporter/internal/export"
)

// Poster sends a body to a URL. Implementations must honour timeout and
// return export.ErrDeliveryTimeout when it expires.
type Poster interface {
	Post(
		ctx context.Context,
		url string,
		body []byte,
		timeout time.Duration,
		headers map[string]string,
	) error
}

// PosterFunc adapts a function to the Poster interface.
type PosterFunc func(
	ctx context.Context,
	url string,
	body []byte,
	timeout time.Duration,
	headers map[string]string,
) error

// Post calls f.
func (f PosterFunc) Post(
	ctx context.Context,
	url string,
	body []byte,
	timeout time.Duration,
	headers map[string]string,
) error {
	return f(ctx, url, body, timeout, headers)
}

// Client is the net/http backed Poster.
type Client struct {
	cfg        Config
	client     *http.Client
	compressor *Compressor
	log        logrus.FieldLogger
}

// compile-time check that Client implements Poster.
var _ Poster = (*Client)(nil)

// NewClient creates a new HTTP poster.
func NewClient(log logrus.FieldLogger, cfg Config) (*Client, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	compressor, err := NewCompressor(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		IdleConnTimeout:   90 * time.Second,
		DisableKeepAlives: !cfg.IsKeepAlive(),
	}

	return &Client{
		cfg:        cfg,
		client:     &http.Client{Transport: transport},
		compressor: compressor,
		log:        log.WithField("component", "http_poster"),
	}, nil
}

// Post sends body to url with headers as given. A zero timeout disables
// the deadline.
func (c *Client) Post(
	ctx context.Context,
	url string,
	body []byte,
	timeout time.Duration,
	headers map[string]string,
) error {
	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	payload, err := c.compressor.Compress(body)
	if err != nil {
		return fmt.Errorf("compressing body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w: %w", export.ErrDelivery, err)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	if encoding := c.compressor.ContentEncoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if export.IsTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("sending request: %w: %w", export.ErrDeliveryTimeout, err)
		}

		return fmt.Errorf("sending request: %w: %w", export.ErrDelivery, err)
	}

	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: unexpected status code: %d", export.ErrDelivery, resp.StatusCode)
	}

	c.log.WithFields(logrus.Fields{
		"url":        url,
		"bytes":      len(body),
		"compressed": len(payload),
	}).Debug("Posted payload")

	return nil
}

// Close releases compressor resources.
func (c *Client) Close() error {
	if c.compressor != nil {
		return c.compressor.Close()
	}

	return nil
}
