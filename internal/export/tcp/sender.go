// Package tcp delivers Graphite plaintext over a short-lived TCP connection.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/graphite-exporter/internal/export"
)

// DefaultPort is the Graphite plaintext listener port used when the
// hostname carries none.
const DefaultPort = "2003"

// Sender opens one connection per Send, writes the payload, half-closes
// and closes. The plaintext protocol has no response, so nothing is read.
type Sender struct {
	log    logrus.FieldLogger
	dialer *net.Dialer
}

// NewSender creates a Sender.
func NewSender(log logrus.FieldLogger) *Sender {
	return &Sender{
		log:    log.WithField("component", "tcp_sender"),
		dialer: &net.Dialer{},
	}
}

// Address returns hostname as host:port, adding DefaultPort when hostname
// has no port.
func Address(hostname string) string {
	if _, _, err := net.SplitHostPort(hostname); err == nil {
		return hostname
	}

	return net.JoinHostPort(strings.Trim(hostname, "[]"), DefaultPort)
}

// Send writes text to hostname. A connect or write that does not finish
// within timeout fails with export.ErrDeliveryTimeout; other failures wrap
// export.ErrConnection. A zero timeout disables the deadline.
func (s *Sender) Send(
	ctx context.Context,
	text, hostname string,
	timeout time.Duration,
) error {
	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	addr := Address(hostname)

	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return classify(ctx, "connecting to "+addr, err)
	}

	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return classify(ctx, "setting deadline", err)
		}
	}

	// Unblock a pending write when ctx is cancelled before the deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	n, err := io.WriteString(conn, text)
	if err != nil {
		return classify(ctx, fmt.Sprintf("writing to %s after %d bytes", addr, n), err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.CloseWrite(); err != nil {
			return classify(ctx, "closing write side", err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"addr":  addr,
		"bytes": n,
	}).Debug("Wrote payload")

	return nil
}

func classify(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}

	if export.IsTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, export.ErrDeliveryTimeout, err)
	}

	return fmt.Errorf("%s: %w: %w", op, export.ErrConnection, err)
}
