package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/hivelink/internal/broker"
	"github.com/nerrad567/hivelink/internal/infrastructure/config"
)

// Client is a broker.Broker that proxies every operation through a
// Gateway.
//
// Private subscriptions and all topic and publish operations use the
// control connection. Group subscriptions go round-robin to the worker
// connections, so subscribing several consumers under one group fans the
// group's traffic out over several sockets.
//
// When any connection fails, operations on it return ErrConnectionLost
// and the OnDisconnect callback runs once with the cause. The client
// does not reconnect.
type Client struct {
	cfg    config.BridgeConfig
	logger Logger

	control *wsConn
	workers []*wsConn
	next    atomic.Uint64

	mu           sync.Mutex
	closed       bool
	onDisconnect func(error)
	disconnected bool
}

// Dial connects the control connection and cfg.Workers worker
// connections, authenticating each with cfg.Token.
func Dial(ctx context.Context, cfg config.BridgeConfig) (*Client, error) {
	return DialWithLogger(ctx, cfg, broker.NoopLogger{})
}

// DialWithLogger is Dial with a logger attached before any connection opens.
func DialWithLogger(ctx context.Context, cfg config.BridgeConfig, logger Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	c := &Client{cfg: cfg, logger: logger}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	timeout := cfg.OpTimeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	control, err := dialConn(ctx, "control", cfg.URL, header, timeout, logger, c.connLost)
	if err != nil {
		return nil, err
	}
	c.control = control

	for i := 0; i < max(cfg.Workers, 1); i++ {
		w, err := dialConn(ctx, fmt.Sprintf("worker-%d", i), cfg.URL, header, timeout, logger, c.connLost)
		if err != nil {
			c.Close() //nolint:errcheck // already failing
			return nil, err
		}
		c.workers = append(c.workers, w)
	}

	if _, err := c.control.request(ctx, Frame{Op: OpPing}); err != nil {
		c.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("bridge ping: %w", err)
	}

	logger.Info("bridge connected", "url", cfg.URL, "workers", len(c.workers))
	return c, nil
}

// OnDisconnect sets a callback that runs once when a connection is lost.
func (c *Client) OnDisconnect(fn func(error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// CreateTopic asks the gateway to create a topic.
func (c *Client) CreateTopic(ctx context.Context, name string) error {
	if name == "" {
		return broker.ErrInvalidTopic
	}
	if err := c.usable(); err != nil {
		return err
	}
	_, err := c.control.request(ctx, Frame{Op: OpCreateTopic, Topic: name})
	return err
}

// Publish sends payload to topic through the gateway.
func (c *Client) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if topic == "" {
		return broker.ErrInvalidTopic
	}
	if err := c.usable(); err != nil {
		return err
	}
	_, err := c.control.request(ctx, Frame{Op: OpPublish, Topic: topic, Key: key, Payload: payload})
	return err
}

// Subscribe subscribes through the gateway. Group subscriptions use the
// next worker connection.
func (c *Client) Subscribe(ctx context.Context, topic, group string, handler broker.Handler) (broker.Subscription, error) {
	if topic == "" {
		return nil, broker.ErrInvalidTopic
	}
	if handler == nil {
		return nil, broker.ErrNilHandler
	}
	if err := c.usable(); err != nil {
		return nil, err
	}

	conn := c.control
	if group != "" && len(c.workers) > 0 {
		conn = c.workers[(c.next.Add(1)-1)%uint64(len(c.workers))]
	}
	sub, err := conn.subscribe(ctx, topic, group, handler)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("bridge subscribed", "topic", topic, "group", group, "conn", conn.name)
	return &subscription{conn: conn, id: sub.id, timeout: conn.opTimeout}, nil
}

// Close closes every connection. It does not trigger OnDisconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.control != nil {
		c.control.close()
	}
	for _, w := range c.workers {
		w.close()
	}
	return nil
}

func (c *Client) usable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// connLost tears the remaining connections down and notifies the owner once.
func (c *Client) connLost(conn *wsConn, cause error) {
	c.mu.Lock()
	if c.closed || c.disconnected {
		c.mu.Unlock()
		return
	}
	c.disconnected = true
	fn := c.onDisconnect
	c.mu.Unlock()

	c.logger.Warn("bridge connection lost", "conn", conn.name, "error", cause)

	for _, other := range append([]*wsConn{c.control}, c.workers...) {
		if other != nil && other != conn {
			other.fail(errors.New("sibling connection lost"))
		}
	}
	if fn != nil {
		fn(cause)
	}
}

type subscription struct {
	conn    *wsConn
	id      string
	timeout time.Duration
	once    sync.Once
	err     error
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.err = s.conn.unsubscribe(ctx, s.id)
	})
	return s.err
}
