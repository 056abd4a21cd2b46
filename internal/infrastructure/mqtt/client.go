package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/hivelink/internal/broker"
	"github.com/nerrad567/hivelink/internal/infrastructure/config"
)

// Logger is the logging interface used by the client. *logging.Logger
// satisfies it.
type Logger = broker.Logger

// MessageHandler receives raw MQTT payloads.
//
// Handlers run on the paho router goroutine in arrival order and
// should not block for extended periods. A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// route is a tracked subscription, replayed after every reconnect.
type route struct {
	qos     byte
	handler MessageHandler
}

// Client is a paho connection owned by one HiveLink node.
//
// The node announces itself on its retained status topic; the broker
// publishes the will on that topic if the node dies without closing.
//
// Thread Safety: all methods are safe for concurrent use. Routes are
// restored on reconnection.
type Client struct {
	paho   pahomqtt.Client
	cfg    config.MQTTConfig
	nodeID string

	online atomic.Bool

	routesMu sync.RWMutex
	routes   map[string]route

	hooksMu      sync.RWMutex
	logger       Logger
	onConnect    func()
	onDisconnect func(err error)
}

// Connect dials the broker and blocks until the first connection is up
// or defaultConnectTimeout elapses.
func Connect(cfg config.MQTTConfig, nodeID string) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		nodeID: nodeID,
		routes: make(map[string]route),
		logger: broker.NoopLogger{},
	}

	opts := newClientOptions(cfg, nodeID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.disconnected(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Warn("MQTT reconnecting", "node_id", nodeID)
	})

	c.paho = pahomqtt.NewClient(opts)
	if err := await(c.paho.Connect(), defaultConnectTimeout, ErrConnectionFailed); err != nil {
		return nil, err
	}

	// The OnConnect handler runs asynchronously; mark the client usable now.
	c.online.Store(true)
	return c, nil
}

func (c *Client) connected() {
	c.online.Store(true)
	c.restoreRoutes()
	if err := c.publishStatus(statusOnline, ""); err != nil {
		c.log().Warn("MQTT status publish failed", "error", err)
	}

	c.hooksMu.RLock()
	fn := c.onConnect
	c.hooksMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) disconnected(err error) {
	c.online.Store(false)
	c.log().Warn("MQTT connection lost", "node_id", c.nodeID, "error", err)

	c.hooksMu.RLock()
	fn := c.onDisconnect
	c.hooksMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// restoreRoutes re-issues every tracked subscription.
func (c *Client) restoreRoutes() {
	c.routesMu.RLock()
	defer c.routesMu.RUnlock()

	for filter, r := range c.routes {
		token := c.paho.Subscribe(filter, r.qos, c.deliver(r.handler))
		go func() {
			if err := await(token, defaultOpTimeout, ErrSubscribeFailed); err != nil {
				c.log().Error("MQTT resubscribe failed", "filter", filter, "error", err)
			}
		}()
	}
}

// publishStatus writes the retained node status.
func (c *Client) publishStatus(status, reason string) error {
	payload, err := statusPayload(status, c.nodeID, c.cfg.Broker.ClientID, reason)
	if err != nil {
		return err
	}
	topic := broker.Topics{}.NodeStatus(c.nodeID)
	return await(c.paho.Publish(topic, byte(c.cfg.QoS), true, payload), defaultOpTimeout, ErrPublishFailed)
}

// Close announces a graceful shutdown and disconnects.
// Closing a client that never connected is not an error.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		if err := c.publishStatus(statusOffline, "graceful_shutdown"); err != nil {
			c.log().Warn("MQTT offline status publish failed", "error", err)
		}
	}
	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.online.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the connection is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.online.Load() && c.paho.IsConnected()
}

// SetOnConnect sets a callback run after the initial connect and every reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.hooksMu.Lock()
	c.onConnect = fn
	c.hooksMu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.hooksMu.Lock()
	c.onDisconnect = fn
	c.hooksMu.Unlock()
}

// SetLogger sets the logger. A nil logger discards output.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = broker.NoopLogger{}
	}
	c.hooksMu.Lock()
	c.logger = logger
	c.hooksMu.Unlock()
}

func (c *Client) log() Logger {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()
	if c.logger == nil {
		return broker.NoopLogger{}
	}
	return c.logger
}

// deliver adapts a MessageHandler to paho, recovering panics.
func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.log().Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}
