package bridge

import "errors"

// Sentinel errors for bridge operations.
var (
	// ErrConnectionLost is returned for operations outstanding when a
	// bridge connection failed, and for operations on a failed connection.
	ErrConnectionLost = errors.New("bridge: connection lost")

	// ErrOpTimeout is returned when the gateway did not acknowledge in time.
	ErrOpTimeout = errors.New("bridge: operation timed out")

	// ErrRemote wraps an error reported by the gateway.
	ErrRemote = errors.New("bridge: gateway error")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bridge: client closed")

	// ErrTokenInvalid is returned when a bridge token fails validation.
	ErrTokenInvalid = errors.New("bridge: invalid token")

	// ErrNoURL is returned when the bridge URL is not configured.
	ErrNoURL = errors.New("bridge: url not configured")
)
