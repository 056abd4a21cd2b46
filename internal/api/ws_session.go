package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/hivelink/internal/infrastructure/config"
	"github.com/nerrad567/hivelink/internal/infrastructure/logging"
)

// wsSendBufferSize is the per-session outbound queue length.
const wsSendBufferSize = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The cors middleware already vetted the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// keepalive holds the ping schedule derived from config.
type keepalive struct {
	ping  time.Duration
	wait  time.Duration
	limit int64
}

func newKeepalive(cfg config.WebSocketConfig) keepalive {
	return keepalive{
		ping:  time.Duration(cfg.PingInterval) * time.Second,
		wait:  time.Duration(cfg.PongTimeout) * time.Second,
		limit: int64(cfg.MaxMessageSize),
	}
}

// readDeadline is how long a silent peer is tolerated.
func (k keepalive) readDeadline() time.Time { return time.Now().Add(k.ping + k.wait) }

func (k keepalive) writeDeadline() time.Time { return time.Now().Add(k.wait) }

// Hub tracks open WebSocket sessions.
type Hub struct {
	alive  keepalive
	logger *logging.Logger

	mu       sync.RWMutex
	sessions map[*wsSession]struct{}
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		alive:    newKeepalive(cfg),
		logger:   logger,
		sessions: make(map[*wsSession]struct{}),
	}
}

// Run waits for ctx to end, then closes every session.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[*wsSession]struct{})
	h.mu.Unlock()

	for s := range sessions {
		s.close()
	}
}

func (h *Hub) add(s *wsSession) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	n := len(h.sessions)
	h.mu.Unlock()
	h.logger.Debug("websocket session opened", "sessions", n)
}

func (h *Hub) remove(s *wsSession) {
	h.mu.Lock()
	delete(h.sessions, s)
	n := len(h.sessions)
	h.mu.Unlock()
	s.close()
	h.logger.Debug("websocket session closed", "sessions", n)
}

// ClientCount returns the number of open sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// wsSession is one WebSocket connection. It owns the backend
// subscriptions it opened and releases them when the peer goes away.
type wsSession struct {
	hub     *Hub
	conn    *websocket.Conn
	service Service
	ctx     context.Context

	out  chan []byte
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	subs map[string]struct{}
}

// newSession binds a connection to svc. ctx parents every backend call
// the session makes.
func newSession(ctx context.Context, h *Hub, conn *websocket.Conn, svc Service) *wsSession {
	return &wsSession{
		hub:     h,
		conn:    conn,
		service: svc,
		ctx:     ctx,
		out:     make(chan []byte, wsSendBufferSize),
		done:    make(chan struct{}),
		subs:    make(map[string]struct{}),
	}
}

// handleWebSocket upgrades the request and starts the session pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", requestID(r))
		return
	}

	sess := newSession(s.ctx, s.hub, conn, s.service)
	s.hub.add(sess)
	go sess.writeLoop()
	go sess.readLoop()
}

// close stops the writer and drops the connection. Safe to call twice.
func (ss *wsSession) close() {
	ss.once.Do(func() {
		close(ss.done)
		if ss.conn != nil {
			ss.conn.Close()
		}
	})
}

// enqueue queues data for the writer. It reports false when the session
// is closed or its queue is full; a full queue drops the message.
func (ss *wsSession) enqueue(data []byte) bool {
	select {
	case <-ss.done:
		return false
	default:
	}
	select {
	case ss.out <- data:
		return true
	case <-ss.done:
		return false
	default:
		ss.hub.logger.Warn("websocket queue full, dropping message")
		return false
	}
}

func (ss *wsSession) readLoop() {
	defer func() {
		ss.hub.remove(ss)
		ss.releaseSubscriptions()
	}()

	alive := ss.hub.alive
	ss.conn.SetReadLimit(alive.limit)
	//nolint:errcheck // a failed deadline surfaces as a read error
	ss.conn.SetReadDeadline(alive.readDeadline())
	ss.conn.SetPongHandler(func(string) error {
		return ss.conn.SetReadDeadline(alive.readDeadline())
	})

	for {
		_, data, err := ss.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ss.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		//nolint:errcheck // a failed deadline surfaces as a read error
		ss.conn.SetReadDeadline(alive.readDeadline())
		ss.dispatch(data)
	}
}

func (ss *wsSession) writeLoop() {
	alive := ss.hub.alive
	ticker := time.NewTicker(alive.ping)
	defer ticker.Stop()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // a failed deadline surfaces as a write error
		ss.conn.SetWriteDeadline(alive.writeDeadline())
		return ss.conn.WriteMessage(kind, data)
	}

	for {
		var err error
		select {
		case <-ss.done:
			return
		case data := <-ss.out:
			err = write(websocket.TextMessage, data)
		case <-ticker.C:
			err = write(websocket.PingMessage, nil)
		}
		if err != nil {
			ss.close()
			return
		}
	}
}
