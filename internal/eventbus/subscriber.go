package eventbus

import "fmt"

// Subscriber identifies a listener: the subscription id and the reply
// topic events must be delivered to. Equality is by both fields.
type Subscriber struct {
	ReplyTo string `json:"replyTo"`
	ID      string `json:"id"`
}

// Validate requires both fields.
func (s Subscriber) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: subscription id is required", ErrInvalidSubscriber)
	}
	if s.ReplyTo == "" {
		return fmt.Errorf("%w: reply topic is required", ErrInvalidSubscriber)
	}
	return nil
}

// Registration pairs a subscriber with one of its filters.
type Registration struct {
	Filter     Filter     `json:"filter"`
	Subscriber Subscriber `json:"subscriber"`
}
