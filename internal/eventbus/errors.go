package eventbus

import "errors"

// Domain errors for subscription operations.
var (
	// ErrInvalidFilter is returned when a filter field cannot be keyed.
	ErrInvalidFilter = errors.New("eventbus: invalid filter")

	// ErrInvalidSubscriber is returned when a subscriber lacks an id or reply topic.
	ErrInvalidSubscriber = errors.New("eventbus: invalid subscriber")

	// ErrInvalidSync is returned when a sync message is missing fields its action needs.
	ErrInvalidSync = errors.New("eventbus: invalid sync message")

	// ErrNotStarted is returned when proposing before the replicator is subscribed.
	ErrNotStarted = errors.New("eventbus: replicator not started")
)
