package bridge

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/hivelink/internal/broker"
)

// backlogWarning is the queued delivery count at which a subscription
// logs that its handler is falling behind. The queue itself is unbounded
// so the read loop never waits on a handler.
const backlogWarning = 256

// wsConn is one client-side bridge connection. A single read loop routes
// acks to waiting operations and deliveries to subscription queues.
type wsConn struct {
	name      string
	ws        *websocket.Conn
	opTimeout time.Duration
	logger    Logger
	onLost    func(*wsConn, error)

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Frame
	subs    map[string]*clientSub
	lost    error

	done chan struct{}
}

// clientSub runs one subscription's handler in delivery order.
type clientSub struct {
	id      string
	topic   string
	handler broker.Handler
	stop    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	queue  []broker.Message
	ready  chan struct{}
	warned bool
}

// enqueue appends msg without blocking and wakes the handler goroutine.
// It reports the backlog once per crossing of backlogWarning.
func (s *clientSub) enqueue(msg broker.Message) (backlog int, warn bool) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	backlog = len(s.queue)
	if backlog >= backlogWarning && !s.warned {
		s.warned, warn = true, true
	}
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return backlog, warn
}

// drain takes every queued message.
func (s *clientSub) drain() []broker.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.queue
	s.queue = nil
	s.warned = false
	return batch
}

func dialConn(ctx context.Context, name, url string, header http.Header, opTimeout time.Duration, logger Logger, onLost func(*wsConn, error)) (*wsConn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialling bridge %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialling bridge %s: %w", url, err)
	}

	c := &wsConn{
		name:      name,
		ws:        ws,
		opTimeout: opTimeout,
		logger:    logger,
		onLost:    onLost,
		pending:   make(map[string]chan Frame),
		subs:      make(map[string]*clientSub),
		done:      make(chan struct{}),
	}
	ws.SetPingHandler(func(data string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	go c.readLoop()
	return c, nil
}

// request sends f with a fresh id (unless it has one) and waits for the ack.
func (c *wsConn) request(ctx context.Context, f Frame) (Frame, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	wait := make(chan Frame, 1)

	c.mu.Lock()
	if c.lost != nil {
		err := c.lost
		c.mu.Unlock()
		return Frame{}, err
	}
	c.pending[f.ID] = wait
	c.mu.Unlock()
	defer c.forget(f.ID)

	if err := c.write(f); err != nil {
		c.fail(err)
		return Frame{}, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}

	timer := time.NewTimer(c.opTimeout)
	defer timer.Stop()

	select {
	case a := <-wait:
		if a.Error != "" {
			return a, fmt.Errorf("%w: %s %s: %s", ErrRemote, f.Op, f.Topic, a.Error)
		}
		return a, nil
	case <-c.done:
		return Frame{}, c.lostErr()
	case <-timer.C:
		return Frame{}, fmt.Errorf("%w: %s %s", ErrOpTimeout, f.Op, f.Topic)
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *wsConn) write(f Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	//nolint:errcheck // Best-effort deadline; write error returned below
	c.ws.SetWriteDeadline(time.Now().Add(c.opTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *wsConn) lostErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lost == nil {
		return ErrConnectionLost
	}
	return c.lost
}

// subscribe registers a delivery queue then asks the gateway to subscribe.
func (c *wsConn) subscribe(ctx context.Context, topic, group string, handler broker.Handler) (*clientSub, error) {
	sub := &clientSub{
		id:      uuid.NewString(),
		topic:   topic,
		handler: handler,
		stop:    make(chan struct{}),
		ready:   make(chan struct{}, 1),
	}

	c.mu.Lock()
	c.subs[sub.id] = sub
	c.mu.Unlock()
	go c.runSub(sub)

	if _, err := c.request(ctx, Frame{ID: sub.id, Op: OpSubscribe, Topic: topic, Group: group}); err != nil {
		c.dropSub(sub.id)
		return nil, err
	}
	return sub, nil
}

func (c *wsConn) unsubscribe(ctx context.Context, subID string) error {
	if !c.dropSub(subID) {
		return nil
	}
	select {
	case <-c.done:
		// The gateway dropped the subscription with the connection.
		return nil
	default:
	}
	_, err := c.request(ctx, Frame{Op: OpUnsubscribe, Sub: subID})
	return err
}

func (c *wsConn) dropSub(id string) bool {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		sub.once.Do(func() { close(sub.stop) })
	}
	return ok
}

func (c *wsConn) runSub(sub *clientSub) {
	for {
		select {
		case <-sub.stop:
			return
		case <-sub.ready:
			for _, msg := range sub.drain() {
				select {
				case <-sub.stop:
					return
				default:
				}
				c.deliver(sub, msg)
			}
		}
	}
}

// deliver runs the handler, recovering from panics so one bad message
// cannot stop the subscription.
func (c *wsConn) deliver(sub *clientSub, msg broker.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in bridge subscription handler", "topic", msg.Topic, "panic", r)
		}
	}()
	if err := sub.handler(context.Background(), msg); err != nil {
		c.logger.Warn("bridge subscription handler failed", "topic", msg.Topic, "error", err)
	}
}

func (c *wsConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		f, err := decodeFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed bridge frame", "conn", c.name, "error", err)
			continue
		}

		switch f.Op {
		case OpAck:
			c.mu.Lock()
			wait, ok := c.pending[f.ID]
			c.mu.Unlock()
			if ok {
				select {
				case wait <- f:
				default:
				}
			}
		case OpDeliver:
			c.mu.Lock()
			sub, ok := c.subs[f.ID]
			c.mu.Unlock()
			if !ok {
				continue
			}
			// Never block here: a handler waiting on an ack from this
			// connection would otherwise deadlock the read loop.
			if backlog, warn := sub.enqueue(broker.Message{Topic: f.Topic, Key: f.Key, Value: f.Payload}); warn {
				c.logger.Warn("bridge subscription handler is falling behind",
					"conn", c.name, "topic", sub.topic, "backlog", backlog)
			}
		default:
			c.logger.Debug("ignoring bridge frame", "conn", c.name, "op", f.Op)
		}
	}
}

// fail marks the connection lost and notifies the owner.
func (c *wsConn) fail(cause error) {
	c.teardown(fmt.Errorf("%w: %w", ErrConnectionLost, cause), true)
}

// close shuts the connection down without reporting it as lost.
func (c *wsConn) close() {
	c.writeMu.Lock()
	//nolint:errcheck // Best-effort close message
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.teardown(ErrClosed, false)
}

// teardown runs once: it records err, releases waiters and stops every
// subscription queue.
func (c *wsConn) teardown(err error, notify bool) {
	c.mu.Lock()
	if c.lost != nil {
		c.mu.Unlock()
		return
	}
	c.lost = err
	subs := c.subs
	c.subs = make(map[string]*clientSub)
	onLost := c.onLost
	c.mu.Unlock()

	close(c.done)
	c.ws.Close()
	for _, sub := range subs {
		sub.once.Do(func() { close(sub.stop) })
	}
	if notify && onLost != nil {
		onLost(c, err)
	}
}
