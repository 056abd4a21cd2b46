package mqtt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/hivelink/internal/broker"
)

// Broker adapts a connected Client to broker.Broker.
//
// Groups map onto MQTT shared subscriptions. Several local members of the
// same group share one broker-side subscription and split the traffic by
// message key.
type Broker struct {
	client *Client
	qos    byte

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	groups map[string]*localGroup
}

type localGroup struct {
	filter string
	shared bool

	mu      sync.RWMutex
	members []*brokerSubscription
}

type brokerSubscription struct {
	broker  *Broker
	group   *localGroup
	handler broker.Handler
	once    sync.Once
}

// NewBroker wraps client. The client's configured QoS is used for all traffic.
func NewBroker(client *Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		client: client,
		qos:    byte(client.cfg.QoS),
		ctx:    ctx,
		cancel: cancel,
		groups: make(map[string]*localGroup),
	}
}

// SharedFilter returns the subscription filter for topic within group.
// An empty group subscribes to the plain topic.
func SharedFilter(topic, group string) string {
	if group == "" {
		return topic
	}
	return "$share/" + group + "/" + topic
}

// CreateTopic validates the name. MQTT topics exist implicitly.
func (b *Broker) CreateTopic(_ context.Context, name string) error {
	if name == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(name, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in %q", ErrInvalidTopic, name)
	}
	return nil
}

// Subscribe registers handler on topic within group.
func (b *Broker) Subscribe(ctx context.Context, topic, group string, handler broker.Handler) (broker.Subscription, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filter := SharedFilter(topic, group)

	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.groups[filter]
	if !ok {
		g = &localGroup{filter: filter, shared: group != ""}
		if err := b.client.Subscribe(filter, b.qos, b.dispatchTo(g)); err != nil {
			return nil, err
		}
		b.groups[filter] = g
	}

	sub := &brokerSubscription{broker: b, group: g, handler: handler}
	g.mu.Lock()
	g.members = append(g.members, sub)
	g.mu.Unlock()
	return sub, nil
}

// Publish sends payload to topic with key framed in front of it.
func (b *Broker) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.client.Publish(topic, encodeFrame(key, payload), b.qos, false)
}

// Close stops handler contexts and disconnects the client.
func (b *Broker) Close() error {
	b.cancel()
	return b.client.Close()
}

// dispatchTo returns the paho-facing handler for a local group.
func (b *Broker) dispatchTo(g *localGroup) MessageHandler {
	return func(topic string, payload []byte) error {
		key, value, err := decodeFrame(payload)
		if err != nil {
			return fmt.Errorf("topic %s: %w", topic, err)
		}
		msg := broker.Message{Topic: topic, Key: key, Value: value}

		g.mu.RLock()
		members := make([]*brokerSubscription, len(g.members))
		copy(members, g.members)
		g.mu.RUnlock()

		if len(members) == 0 {
			return nil
		}
		if g.shared {
			return members[broker.PartitionFor(key, len(members))].handler(b.ctx, msg)
		}
		for _, m := range members {
			if err := m.handler(b.ctx, msg); err != nil {
				return err
			}
		}
		return nil
	}
}

// Unsubscribe removes this member and drops the broker-side subscription
// once the local group is empty.
func (s *brokerSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		b := s.broker
		b.mu.Lock()
		defer b.mu.Unlock()

		g := s.group
		g.mu.Lock()
		for i, m := range g.members {
			if m == s {
				g.members = append(g.members[:i], g.members[i+1:]...)
				break
			}
		}
		empty := len(g.members) == 0
		g.mu.Unlock()

		if empty && b.groups[g.filter] == g {
			delete(b.groups, g.filter)
			err = b.client.Unsubscribe(g.filter)
		}
	})
	return err
}

// Compile-time interface check.
var _ broker.Broker = (*Broker)(nil)
