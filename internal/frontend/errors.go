package frontend

import "errors"

var (
	// ErrUnknownSubscription is returned when unsubscribing an id this service did not create.
	ErrUnknownSubscription = errors.New("frontend: unknown subscription")

	// ErrUnexpectedResponse is returned when the backend answers with the wrong body type.
	ErrUnexpectedResponse = errors.New("frontend: unexpected response body")
)
