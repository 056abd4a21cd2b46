package mqtt

import (
	"fmt"
	"sort"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps a single publish at 1 MB, a common broker default.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic. Only the node status topic is retained;
// RPC traffic never is.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload is %d bytes, limit %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.paho.Publish(topic, qos, retained, payload), defaultOpTimeout, ErrPublishFailed)
}

// Subscribe routes messages matching filter to handler. The filter may
// carry wildcards or a $share/{group}/ prefix. Subscribing the same filter
// again replaces its handler.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := checkTopic(filter, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.routesMu.Lock()
	c.routes[filter] = route{qos: qos, handler: handler}
	c.routesMu.Unlock()

	if err := await(c.paho.Subscribe(filter, qos, c.deliver(handler)), defaultOpTimeout, ErrSubscribeFailed); err != nil {
		c.routesMu.Lock()
		delete(c.routes, filter)
		c.routesMu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe drops filter. Messages already in flight may still arrive.
func (c *Client) Unsubscribe(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.routesMu.Lock()
	delete(c.routes, filter)
	c.routesMu.Unlock()

	return await(c.paho.Unsubscribe(filter), defaultOpTimeout, ErrUnsubscribeFailed)
}

// Subscriptions returns the tracked filters in sorted order.
func (c *Client) Subscriptions() []string {
	c.routesMu.RLock()
	filters := make([]string, 0, len(c.routes))
	for f := range c.routes {
		filters = append(filters, f)
	}
	c.routesMu.RUnlock()
	sort.Strings(filters)
	return filters
}

func checkTopic(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// await waits for token, wrapping a timeout or failure in sentinel.
func await(token pahomqtt.Token, timeout time.Duration, sentinel error) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %w after %v", sentinel, ErrTimeout, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}
