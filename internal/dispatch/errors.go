package dispatch

import "errors"

// Sentinel errors for dispatch operations.
var (
	// ErrStopped is returned when submitting to a stopped engine or ring.
	ErrStopped = errors.New("dispatch: stopped")

	// ErrShutdownTimeout is returned by Stop when in-flight work did not
	// drain within the grace period.
	ErrShutdownTimeout = errors.New("dispatch: shutdown grace period exceeded")

	// ErrDuplicateHandler is returned when an action already has a handler.
	ErrDuplicateHandler = errors.New("dispatch: handler already registered")
)
