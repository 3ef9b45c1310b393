// Package export holds what the delivery transports share: the error
// taxonomy and the self-metrics server.
package export

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrDeliveryTimeout is returned when a connect, write or POST does not
	// complete within the configured timeout.
	ErrDeliveryTimeout = errors.New("delivery timed out")

	// ErrConnection is returned for TCP connect or write failures other
	// than a timeout.
	ErrConnection = errors.New("connection failed")

	// ErrDelivery is returned when an HTTP POST fails for a reason other
	// than a timeout.
	ErrDelivery = errors.New("delivery failed")
)

// Error type labels used in logs and metrics.
const (
	ErrorTypeTimeout    = "timeout"
	ErrorTypeConnection = "connection"
	ErrorTypeDelivery   = "delivery"
	ErrorTypeOther      = "other"
)

// IsTimeout reports whether err was caused by an expired deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error

	return errors.As(err, &ne) && ne.Timeout()
}

// ErrorType categorizes a delivery error for labelling.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, ErrDeliveryTimeout):
		return ErrorTypeTimeout
	case errors.Is(err, ErrConnection):
		return ErrorTypeConnection
	case errors.Is(err, ErrDelivery):
		return ErrorTypeDelivery
	default:
		return ErrorTypeOther
	}
}
