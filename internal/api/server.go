package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/hivelink/internal/directory"
	"github.com/nerrad567/hivelink/internal/eventbus"
	"github.com/nerrad567/hivelink/internal/infrastructure/config"
	"github.com/nerrad567/hivelink/internal/infrastructure/logging"
	"github.com/nerrad567/hivelink/internal/infrastructure/metrics"
	"github.com/nerrad567/hivelink/internal/model"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Service is the backend access the API needs. *frontend.Service
// implements it.
type Service interface {
	InsertNotification(ctx context.Context, n model.DeviceNotification) (model.DeviceNotification, error)
	InsertCommand(ctx context.Context, c model.DeviceCommand) (model.DeviceCommand, error)
	UpdateCommand(ctx context.Context, c model.DeviceCommand) error
	SubscribeNotifications(ctx context.Context, params model.SubscribeParams, onEvent func(model.DeviceNotification)) (string, []model.DeviceNotification, error)
	SubscribeCommands(ctx context.Context, params model.SubscribeParams, onEvent func(model.DeviceCommand)) (string, []model.DeviceCommand, error)
	SubscribeCommandUpdates(ctx context.Context, deviceID string, commandID int64, onUpdate func(model.DeviceCommand)) (string, []model.DeviceCommand, error)
	Unsubscribe(ctx context.Context, subscriptionID string) error
	ListSubscriptions(ctx context.Context) ([]eventbus.Registration, error)
	SaveNetwork(ctx context.Context, n directory.Network) error
	SaveDeviceType(ctx context.Context, t directory.DeviceType) error
	SaveDevice(ctx context.Context, d directory.Device) error
	DeleteDevice(ctx context.Context, deviceID string) error
	DeleteNetwork(ctx context.Context, networkID int64) ([]string, error)
	DeleteDeviceType(ctx context.Context, deviceTypeID int64) ([]string, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Service Service
	Metrics *metrics.Metrics // optional: exposes GET /metrics when set
	Version string
}

// Server is the frontend HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	service  Service
	metrics  *metrics.Metrics
	version  string
	server   *http.Server
	listener net.Listener
	hub      *Hub
	ctx      context.Context    // parent of WebSocket request contexts
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, service)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("service is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		service: deps.Service,
		metrics: deps.Metrics,
		version: deps.Version,
		ctx:     context.Background(),
	}, nil
}

// Handler builds the router without starting a listener. Start uses it;
// tests serve it through httptest.
func (s *Server) Handler(ctx context.Context) http.Handler {
	s.ctx, s.cancel = context.WithCancel(ctx)
	if s.hub == nil {
		s.hub = NewHub(s.cfg.WebSocket, s.logger)
		go s.hub.Run(s.ctx)
	}
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// The listener is bound before Start returns, so a port conflict is
// reported here rather than from the background goroutine.
//
// Parameters:
//   - ctx: Context for background goroutines (not the listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	handler := s.Handler(ctx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           handler,
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		s.logger.Info("API server starting", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// WebSocket clients are disconnected first so their subscriptions are
// released, then in-flight requests get up to 10 seconds to complete.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
