package kafka

import "errors"

// Domain-specific errors for Kafka operations.
var (
	// ErrConnectionFailed is returned when the seed brokers cannot be reached.
	ErrConnectionFailed = errors.New("kafka: connection failed")

	// ErrNoBrokers is returned when no seed brokers are configured.
	ErrNoBrokers = errors.New("kafka: no seed brokers configured")

	// ErrInvalidTopic is returned when an empty topic name is provided.
	ErrInvalidTopic = errors.New("kafka: topic cannot be empty")

	// ErrCreateTopicFailed is returned when topic creation is rejected.
	ErrCreateTopicFailed = errors.New("kafka: create topic failed")

	// ErrPublishFailed is returned when a produce request fails.
	ErrPublishFailed = errors.New("kafka: publish failed")

	// ErrClosed is returned when operating on a closed client.
	ErrClosed = errors.New("kafka: client closed")
)
