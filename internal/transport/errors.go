package transport

import (
	"context"
	"errors"
	"net"
)

// Error kinds returned by the transport layer. Callers match them with
// errors.Is; every returned error wraps exactly one kind.
var (
	// ErrTransportUnavailable means neither channel could reach the server.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrUnauthorized means the credential was missing or rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMalformedResponse means a non-data payload arrived where data was expected.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrTimeout means a call exceeded its bound.
	ErrTimeout = errors.New("timeout")

	// ErrNoActiveSession means the server had no session to end.
	ErrNoActiveSession = errors.New("no active session")

	// ErrRejected means the server refused the request for a reason other
	// than authorization.
	ErrRejected = errors.New("request rejected")
)

// classifyCallError maps a low-level call error onto ErrTimeout or
// ErrTransportUnavailable.
func classifyCallError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return ErrTransportUnavailable
}

// IsRetryableByFallback reports whether err should send a stop to the next
// tier. Authorization failures never fall through.
func IsRetryableByFallback(err error) bool {
	if err == nil || errors.Is(err, ErrUnauthorized) {
		return false
	}
	return true
}
