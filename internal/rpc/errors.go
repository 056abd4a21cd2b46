package rpc

import (
	"errors"
	"fmt"
)

// Response error codes.
const (
	CodeBadRequest  = 400
	CodeForbidden   = 403
	CodeNotFound    = 404
	CodeTimeout     = 408
	CodeInternal    = 500
	CodeUnavailable = 503
)

// Sentinel errors for RPC operations.
var (
	// ErrTimeout completes a call whose response did not arrive in time.
	ErrTimeout = errors.New("rpc: call timed out")

	// ErrConnectionLost completes calls outstanding when the transport failed.
	ErrConnectionLost = errors.New("rpc: transport connection lost")

	// ErrPingFailed is returned by Start when no ping attempt succeeded.
	ErrPingFailed = errors.New("rpc: transport unreachable")

	// ErrClosed completes calls outstanding when the client was closed.
	ErrClosed = errors.New("rpc: client closed")

	// ErrNotStarted is returned when calling before Start.
	ErrNotStarted = errors.New("rpc: client not started")

	// ErrMalformed is returned when an envelope cannot be decoded.
	ErrMalformed = errors.New("rpc: malformed envelope")
)

// Error is a failed Response surfaced as a Go error.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewError creates an Error with a formatted message.
func NewError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the response code from err. Errors that are not *Error
// map to CodeInternal, except timeouts and transport loss.
func CodeOf(err error) int {
	var rpcErr *Error
	switch {
	case err == nil:
		return 0
	case errors.As(err, &rpcErr):
		return rpcErr.Code
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrConnectionLost), errors.Is(err, ErrClosed):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}
