package eventbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/hivelink/internal/broker"
	"github.com/nerrad567/hivelink/internal/rpc"
)

// Event is a device event that can be pushed to subscribers.
// EventFilter describes the event concretely: its device, network,
// device type, event name and name.
type Event interface {
	rpc.Body
	EventFilter() Filter
}

// EventBus pushes events to every matching subscriber's reply topic.
type EventBus struct {
	broker   broker.Broker
	registry *Registry
	logger   Logger
}

// NewEventBus creates an event bus publishing over b.
func NewEventBus(b broker.Broker, registry *Registry) *EventBus {
	return &EventBus{
		broker:   b,
		registry: registry,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the event bus.
func (e *EventBus) SetLogger(logger Logger) {
	e.logger = logger
}

// Publish delivers ev to each matching subscriber as a non-terminal
// response carrying the subscription id. Messages are keyed by device id
// so one device's events stay ordered. Returns how many were delivered.
func (e *EventBus) Publish(ctx context.Context, ev Event) (int, error) {
	f := ev.EventFilter()
	subs := e.registry.Match(f)
	if len(subs) == 0 {
		return 0, nil
	}

	var errs []error
	delivered := 0
	for _, s := range subs {
		payload, err := rpc.EncodeResponse(rpc.Event(s.ID, ev))
		if err != nil {
			return delivered, fmt.Errorf("encoding %s event: %w", ev.Action(), err)
		}
		if err := e.broker.Publish(ctx, s.ReplyTo, f.DeviceID, payload); err != nil {
			e.logger.Warn("event delivery failed",
				"subscription_id", s.ID,
				"reply_to", s.ReplyTo,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		delivered++
	}

	e.logger.Debug("event published",
		"action", ev.Action(),
		"device_id", f.DeviceID,
		"subscribers", len(subs),
		"delivered", delivered,
	)
	return delivered, errors.Join(errs...)
}
