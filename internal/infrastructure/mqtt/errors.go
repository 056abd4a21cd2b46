package mqtt

import "errors"

var (
	// ErrNotConnected is returned while the client has no live connection.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the initial connect fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed wraps publish failures.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps subscribe failures.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed wraps unsubscribe failures.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned for a QoS above 2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")

	// ErrInvalidTopic is returned for an empty topic or filter.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrTimeout marks an operation the broker did not acknowledge in time.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrMalformedFrame is returned when a payload lacks a valid key prefix.
	ErrMalformedFrame = errors.New("mqtt: malformed keyed frame")
)
