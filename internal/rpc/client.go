package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/hivelink/internal/broker"
	"github.com/nerrad567/hivelink/internal/infrastructure/config"
	"github.com/nerrad567/hivelink/internal/infrastructure/metrics"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Client sends requests over a broker and correlates the replies.
//
// Every client owns a private reply topic. ReplyWorkers subscriptions
// consume it under one group, so replies are handled in parallel while
// responses sharing a key stay ordered.
//
// Thread Safety: all methods are safe for concurrent use after Start.
type Client struct {
	broker     broker.Broker
	cfg        config.RPCConfig
	matcher    *Matcher
	logger     Logger
	replyTopic string

	mu      sync.Mutex
	subs    []broker.Subscription
	started bool
}

// NewClient creates a client for cfg over b. Call Start before use.
func NewClient(b broker.Broker, cfg config.RPCConfig) *Client {
	return &Client{
		broker:     b,
		cfg:        cfg,
		matcher:    NewMatcher(),
		logger:     broker.NoopLogger{},
		replyTopic: cfg.ReplyTopicPrefix + "/" + uuid.NewString(),
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// SetMetrics attaches collectors to the client's matcher.
func (c *Client) SetMetrics(m *metrics.Metrics) {
	c.matcher.SetMetrics(m)
}

// ReplyTopic returns the topic this client receives responses on.
func (c *Client) ReplyTopic() string {
	return c.replyTopic
}

// Start creates the topics, subscribes the reply workers, and pings
// the backends until one answers or the attempts run out.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	for _, topic := range []string{c.cfg.RequestTopic, c.replyTopic} {
		if err := c.broker.CreateTopic(ctx, topic); err != nil {
			return fmt.Errorf("creating topic %s: %w", topic, err)
		}
	}

	workers := max(c.cfg.ReplyWorkers, 1)
	group := "reply-" + c.replyTopic[len(c.cfg.ReplyTopicPrefix)+1:]
	subs := make([]broker.Subscription, 0, workers)
	for range workers {
		sub, err := c.broker.Subscribe(ctx, c.replyTopic, group, c.onReply)
		if err != nil {
			unsubscribeAll(subs)
			return fmt.Errorf("subscribing reply topic: %w", err)
		}
		subs = append(subs, sub)
	}

	c.mu.Lock()
	c.subs = subs
	c.started = true
	c.mu.Unlock()

	if err := c.ping(ctx); err != nil {
		c.Close() //nolint:errcheck // already failing
		return err
	}

	c.logger.Info("rpc client started",
		"request_topic", c.cfg.RequestTopic,
		"reply_topic", c.replyTopic,
		"reply_workers", workers,
	)
	return nil
}

// ping sends ping requests until one is answered.
func (c *Client) ping(ctx context.Context) error {
	attempts := max(c.cfg.PingAttempts, 1)
	timeout := c.cfg.PingTimeout()
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		_, err := c.call(ctx, Request{Type: TypePing, SingleReplyExpected: true}, timeout, nil)
		if err == nil {
			c.logger.Debug("ping answered", "attempt", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrPingFailed, ctx.Err())
		}
		lastErr = err
		c.logger.Warn("ping unanswered", "attempt", attempt, "of", attempts, "error", err)
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrPingFailed, attempts, lastErr)
}

// Call sends req and delivers every response for it to cb. The call
// completes on its terminal response or after the configured timeout.
// The correlation id is generated when req has none.
func (c *Client) Call(ctx context.Context, req Request, cb Callback) error {
	return c.send(ctx, &req, c.cfg.CallTimeout(), cb)
}

// CallSync sends req and waits for its terminal response. Intermediate
// responses are discarded. A failed response is returned with its *Error.
func (c *Client) CallSync(ctx context.Context, req Request) (Response, error) {
	return c.call(ctx, req, c.cfg.CallTimeout(), nil)
}

// CallStream is CallSync with onPartial receiving non-terminal responses.
func (c *Client) CallStream(ctx context.Context, req Request, onPartial func(Response)) (Response, error) {
	return c.call(ctx, req, c.cfg.CallTimeout(), onPartial)
}

type callResult struct {
	resp Response
	err  error
}

func (c *Client) call(ctx context.Context, req Request, timeout time.Duration, onPartial func(Response)) (Response, error) {
	done := make(chan callResult, 1)
	cb := func(resp Response, err error) {
		if err == nil && !resp.Last {
			if onPartial != nil {
				onPartial(resp)
			}
			return
		}
		done <- callResult{resp: resp, err: err}
	}
	if err := c.send(ctx, &req, timeout, cb); err != nil {
		return Response{}, err
	}

	select {
	case r := <-done:
		if r.err != nil {
			return r.resp, r.err
		}
		return r.resp, r.resp.Err()
	case <-ctx.Done():
		c.matcher.Cancel(req.CorrelationID)
		return Response{}, ctx.Err()
	}
}

func (c *Client) send(ctx context.Context, req *Request, timeout time.Duration, cb Callback) error {
	if !c.isStarted() {
		return ErrNotStarted
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	req.ReplyTo = c.replyTopic
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	payload, err := EncodeRequest(*req)
	if err != nil {
		return err
	}

	c.matcher.Add(req.CorrelationID, cb, timeout)
	if err := c.broker.Publish(ctx, c.cfg.RequestTopic, req.PartitionKey, payload); err != nil {
		c.matcher.Cancel(req.CorrelationID)
		return fmt.Errorf("publishing request: %w", err)
	}
	return nil
}

// Push sends req without awaiting a reply. The server still handles it
// but has no reply topic to answer on.
func (c *Client) Push(ctx context.Context, req Request) error {
	if !c.isStarted() {
		return ErrNotStarted
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	req.ReplyTo = ""
	payload, err := EncodeRequest(req)
	if err != nil {
		return err
	}
	if err := c.broker.Publish(ctx, c.cfg.RequestTopic, req.PartitionKey, payload); err != nil {
		return fmt.Errorf("publishing request: %w", err)
	}
	return nil
}

// Listen routes pushes for subscriptionID to cb.
func (c *Client) Listen(subscriptionID string, cb Callback) {
	c.matcher.Listen(subscriptionID, cb)
}

// StopListening stops routing pushes for subscriptionID.
func (c *Client) StopListening(subscriptionID string) {
	c.matcher.StopListening(subscriptionID)
}

// Pending returns the number of outstanding calls.
func (c *Client) Pending() int {
	return c.matcher.Pending()
}

// ConnectionLost fails every outstanding call with ErrConnectionLost.
// Transports that detect a dropped connection call it.
func (c *Client) ConnectionLost(cause error) {
	err := ErrConnectionLost
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionLost, cause)
	}
	if n := c.matcher.FailAll(err); n > 0 {
		c.logger.Warn("failed pending calls after connection loss", "calls", n, "error", cause)
	}
}

// Close unsubscribes the reply workers and fails outstanding calls.
func (c *Client) Close() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.started = false
	c.mu.Unlock()

	err := unsubscribeAll(subs)
	c.matcher.FailAll(ErrClosed)
	return err
}

func (c *Client) isStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *Client) onReply(_ context.Context, msg broker.Message) error {
	resp, err := DecodeResponse(msg.Value)
	if err != nil {
		c.logger.Warn("dropping malformed response", "topic", msg.Topic, "error", err)
		return nil
	}
	if !c.matcher.Offer(resp) {
		c.logger.Debug("dropping response with unknown correlation id", "correlation_id", resp.CorrelationID)
	}
	return nil
}

func unsubscribeAll(subs []broker.Subscription) error {
	var errs []error
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
