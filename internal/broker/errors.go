package broker

import "errors"

// Domain errors for broker operations.
var (
	// ErrClosed is returned when operating on a closed broker.
	ErrClosed = errors.New("broker: closed")

	// ErrInvalidTopic is returned when an empty topic name is provided.
	ErrInvalidTopic = errors.New("broker: topic cannot be empty")

	// ErrNilHandler is returned when subscribing without a handler.
	ErrNilHandler = errors.New("broker: handler cannot be nil")
)
