package broker

import "context"

// Message is a single record moving through a broker.
type Message struct {
	// Topic the message was published to.
	Topic string

	// Key routes the message to a partition. Messages sharing a key are
	// delivered in order. May be empty.
	Key string

	// Value is the opaque payload (JSON-encoded envelopes in practice).
	Value []byte
}

// Handler processes a consumed message.
//
// A returned error is logged by the broker implementation; it does not
// stop the subscription. Handlers may be invoked concurrently for
// messages with different keys.
type Handler func(ctx context.Context, msg Message) error

// Subscription is an active consumer registration.
type Subscription interface {
	// Unsubscribe stops delivery to this subscription. Safe to call twice.
	Unsubscribe() error
}

// Broker is the minimal topic-based messaging contract HiveLink needs.
type Broker interface {
	// CreateTopic ensures a topic exists. Creating an existing topic is not an error.
	CreateTopic(ctx context.Context, name string) error

	// Subscribe registers handler for messages on topic. Subscriptions with
	// the same non-empty group share the topic's traffic; an empty group
	// receives every message.
	Subscribe(ctx context.Context, topic, group string, handler Handler) (Subscription, error)

	// Publish sends payload to topic, routed by key.
	Publish(ctx context.Context, topic, key string, payload []byte) error

	// Close releases all resources. Subscriptions stop receiving.
	Close() error
}

// Logger defines the logging interface used by broker implementations.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NoopLogger discards everything. Exported so sibling packages can share it.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}
