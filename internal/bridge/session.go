package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/hivelink/internal/broker"
)

// session proxies one bridge connection to the backend broker.
type session struct {
	gw     *Gateway
	conn   *websocket.Conn
	peer   string
	send   chan Frame
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]broker.Subscription

	closeOnce sync.Once
}

func newSession(ctx context.Context, gw *Gateway, conn *websocket.Conn, peer string) *session {
	s := &session{
		gw:   gw,
		conn: conn,
		peer: peer,
		send: make(chan Frame, sessionSendBuffer),
		subs: make(map[string]broker.Subscription),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	return s
}

// run pumps frames until the connection fails or the session is closed.
func (s *session) run() {
	defer s.cancel()

	s.gw.logger.Info("bridge session opened", "peer", s.peer)

	g, gctx := errgroup.WithContext(s.ctx)
	g.Go(func() error { return s.readPump(gctx) })
	g.Go(func() error { return s.writePump(gctx) })
	err := g.Wait()

	s.close()
	s.unsubscribeAll()
	s.gw.logger.Info("bridge session closed", "peer", s.peer, "reason", err)
}

// close tears the connection down, unblocking both pumps.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close()
	})
}

func (s *session) readPump(ctx context.Context) error {
	if limit := s.gw.cfg.MaxMessageSize; limit > 0 {
		s.conn.SetReadLimit(int64(limit))
	}
	wait := 2 * gatewayPingInterval
	//nolint:errcheck // Best-effort deadline on connection setup
	s.conn.SetReadDeadline(time.Now().Add(wait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading frame: %w", err)
		}
		//nolint:errcheck // Best-effort deadline reset
		s.conn.SetReadDeadline(time.Now().Add(wait))

		f, err := decodeFrame(data)
		if err != nil {
			s.gw.logger.Warn("dropping malformed bridge frame", "peer", s.peer, "error", err)
			continue
		}
		if err := s.enqueue(ctx, ack(f, s.handle(ctx, f))); err != nil {
			return err
		}
	}
}

func (s *session) writePump(ctx context.Context) error {
	ticker := time.NewTicker(gatewayPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			//nolint:errcheck // Best-effort close message
			s.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(time.Second))
			return ctx.Err()
		case f := <-s.send:
			data, err := encodeFrame(f)
			if err != nil {
				s.gw.logger.Error("encoding bridge frame", "error", err)
				continue
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			s.conn.SetWriteDeadline(time.Now().Add(gatewayWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("writing frame: %w", err)
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			s.conn.SetWriteDeadline(time.Now().Add(gatewayWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("writing ping: %w", err)
			}
		}
	}
}

// enqueue blocks until the write pump accepts f, applying backpressure
// to whoever produced it.
func (s *session) enqueue(ctx context.Context, f Frame) error {
	select {
	case s.send <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handle performs one operation against the broker.
func (s *session) handle(ctx context.Context, f Frame) error {
	switch f.Op {
	case OpPing:
		return nil
	case OpCreateTopic:
		return s.gw.broker.CreateTopic(ctx, f.Topic)
	case OpPublish:
		return s.gw.broker.Publish(ctx, f.Topic, f.Key, f.Payload)
	case OpSubscribe:
		return s.subscribe(ctx, f)
	case OpUnsubscribe:
		return s.unsubscribe(f.Sub)
	default:
		return fmt.Errorf("unsupported op %q", f.Op)
	}
}

func (s *session) subscribe(ctx context.Context, f Frame) error {
	if f.ID == "" {
		return fmt.Errorf("subscribe needs an id")
	}
	s.mu.Lock()
	_, dup := s.subs[f.ID]
	s.mu.Unlock()
	if dup {
		return fmt.Errorf("subscription %s already exists", f.ID)
	}

	subID := f.ID
	sub, err := s.gw.broker.Subscribe(ctx, f.Topic, f.Group, func(_ context.Context, msg broker.Message) error {
		return s.enqueue(ctx, Frame{ID: subID, Op: OpDeliver, Topic: msg.Topic, Key: msg.Key, Payload: msg.Value})
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.subs[subID] = sub
	s.mu.Unlock()
	s.gw.logger.Debug("bridge subscription added", "peer", s.peer, "topic", f.Topic, "group", f.Group, "sub", subID)
	return nil
}

func (s *session) unsubscribe(subID string) error {
	s.mu.Lock()
	sub, ok := s.subs[subID]
	delete(s.subs, subID)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

func (s *session) unsubscribeAll() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]broker.Subscription)
	s.mu.Unlock()

	for id, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			s.gw.logger.Warn("bridge unsubscribe failed", "peer", s.peer, "sub", id, "error", err)
		}
	}
}
