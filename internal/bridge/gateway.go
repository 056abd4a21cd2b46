package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

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

const (
	// sessionSendBuffer is the per-connection outbound frame buffer.
	sessionSendBuffer = 256

	// gatewayPingInterval is how often idle connections are pinged.
	gatewayPingInterval = 30 * time.Second

	// gatewayWriteWait bounds a single frame write.
	gatewayWriteWait = 10 * time.Second

	// gatewayShutdownTimeout bounds HTTP shutdown.
	gatewayShutdownTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		// Bridge peers are backend processes, not browsers; the token is the gate.
		return true
	},
}

// Gateway accepts bridge connections and proxies their operations to the
// backend broker. It also serves /health and /metrics.
//
// Thread Safety: all methods are safe for concurrent use.
type Gateway struct {
	cfg     config.GatewayConfig
	secret  string
	broker  broker.Broker
	metrics *metrics.Metrics
	logger  Logger

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// NewGateway creates a gateway proxying to b. Tokens are checked against
// secret.
func NewGateway(cfg config.GatewayConfig, secret string, b broker.Broker) *Gateway {
	return &Gateway{
		cfg:      cfg,
		secret:   secret,
		broker:   b,
		logger:   broker.NoopLogger{},
		sessions: make(map[*session]struct{}),
	}
}

// SetLogger sets the logger for the gateway.
func (g *Gateway) SetLogger(logger Logger) {
	g.logger = logger
}

// SetMetrics attaches collectors; /metrics serves their registry.
func (g *Gateway) SetMetrics(m *metrics.Metrics) {
	g.metrics = m
}

// Handler builds the gateway's HTTP routes.
func (g *Gateway) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", g.handleHealth)
	if g.metrics != nil {
		r.Handle("/metrics", g.metrics.Handler())
	}
	path := g.cfg.Path
	if path == "" {
		path = "/bridge"
	}
	r.Get(path, func(w http.ResponseWriter, req *http.Request) {
		g.handleConnect(ctx, w, req)
	})
	return r
}

// Start listens on the configured address and serves in the background.
func (g *Gateway) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, g.cancel = context.WithCancel(ctx)

	addr := fmt.Sprintf("%s:%d", g.cfg.Host, g.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		g.cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	g.listener = ln

	g.server = &http.Server{
		Handler:           g.Handler(srvCtx),
		ReadHeaderTimeout: time.Duration(g.cfg.Timeouts.Read) * time.Second,
		IdleTimeout:       time.Duration(g.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		g.logger.Info("bridge gateway listening", "address", ln.Addr().String(), "path", g.cfg.Path)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("bridge gateway failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the listening address once started.
func (g *Gateway) Addr() string {
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Close stops accepting connections and tears down every session.
func (g *Gateway) Close() error {
	if g.cancel != nil {
		g.cancel()
	}

	g.mu.Lock()
	sessions := make([]*session, 0, len(g.sessions))
	for s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}

	if g.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), gatewayShutdownTimeout)
	defer cancel()
	if err := g.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down bridge gateway: %w", err)
	}
	return nil
}

// SessionCount returns the number of open bridge connections.
func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	//nolint:errcheck // Best-effort write to response
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": g.SessionCount(),
	})
}

// handleConnect authenticates and upgrades a bridge connection.
func (g *Gateway) handleConnect(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing bridge token", http.StatusUnauthorized)
		return
	}
	claims, err := ParseToken(token, g.secret)
	if err != nil {
		g.logger.Warn("bridge connection rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "invalid bridge token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("bridge upgrade failed", "error", err)
		return
	}

	s := newSession(ctx, g, conn, claims.Subject)
	g.mu.Lock()
	g.sessions[s] = struct{}{}
	g.mu.Unlock()
	g.metrics.AddBridgeSessions(1)

	go func() {
		s.run()
		g.mu.Lock()
		delete(g.sessions, s)
		g.mu.Unlock()
		g.metrics.AddBridgeSessions(-1)
	}()
}

// bearerToken reads the token from the Authorization header, falling back
// to the "token" query parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
