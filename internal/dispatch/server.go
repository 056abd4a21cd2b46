package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/hivelink/internal/broker"
	"github.com/nerrad567/hivelink/internal/infrastructure/config"
	"github.com/nerrad567/hivelink/internal/rpc"
)

// Server consumes the request topic and feeds an Engine.
//
// All servers subscribe under the same group, so each request is handled
// by exactly one backend. Because the broker delivers a partition to one
// consumer in order, requests sharing a partition key reach the ring in
// the order they were published.
type Server struct {
	broker broker.Broker
	cfg    config.RPCConfig
	engine *Engine
	logger Logger

	mu  sync.Mutex
	sub broker.Subscription
}

// NewServer creates a server whose engine dispatches through router.
func NewServer(b broker.Broker, rpcCfg config.RPCConfig, dispatchCfg config.DispatchConfig, router *Router) *Server {
	s := &Server{
		broker: b,
		cfg:    rpcCfg,
		logger: broker.NoopLogger{},
	}
	s.engine = NewEngine(dispatchCfg, router, s.publishReply)
	return s
}

// SetLogger sets the logger for the server and its engine.
func (s *Server) SetLogger(logger Logger) {
	s.logger = logger
	s.engine.SetLogger(logger)
}

// Engine returns the server's dispatch engine.
func (s *Server) Engine() *Engine {
	return s.engine
}

// Start launches the workers and subscribes to the request topic.
// The engine outlives ctx so that Stop can drain it after the caller's
// context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.broker.CreateTopic(ctx, s.cfg.RequestTopic); err != nil {
		return fmt.Errorf("creating request topic: %w", err)
	}
	s.engine.Start(context.WithoutCancel(ctx))

	sub, err := s.broker.Subscribe(ctx, s.cfg.RequestTopic, s.cfg.Group, s.onRequest)
	if err != nil {
		s.engine.Stop(0) //nolint:errcheck // already failing
		return fmt.Errorf("subscribing to request topic: %w", err)
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	s.logger.Info("rpc server started", "request_topic", s.cfg.RequestTopic, "group", s.cfg.Group)
	return nil
}

// Stop stops consuming, then drains the engine within grace.
func (s *Server) Stop(grace time.Duration) error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("request topic unsubscribe failed", "error", err)
		}
	}
	return s.engine.Stop(grace)
}

func (s *Server) onRequest(ctx context.Context, msg broker.Message) error {
	req, err := rpc.DecodeRequest(msg.Value)
	if err != nil {
		if req.CorrelationID == "" || req.ReplyTo == "" {
			s.logger.Warn("dropping malformed request", "key", msg.Key, "error", err)
			return nil
		}
		s.logger.Warn("rejecting malformed request body", "correlation_id", req.CorrelationID, "error", err)
		return s.publishReply(ctx, req, rpc.Failure(req, rpc.CodeBadRequest, err.Error()))
	}

	if req.Type == rpc.TypePing {
		return s.publishReply(ctx, req, rpc.Reply(req, nil))
	}

	// Blocks while the ring is full, holding back this partition.
	if err := s.engine.Submit(ctx, req); err != nil {
		s.logger.Warn("request rejected", "action", req.Action(), "correlation_id", req.CorrelationID, "error", err)
		return s.publishReply(ctx, req, rpc.Failure(req, rpc.CodeUnavailable, "server shutting down"))
	}
	return nil
}

// replyKey is the broker key for every response to req. All responses of
// one call must share a partition so partials arrive before the terminal
// response; without a partition key the correlation id pins them.
func replyKey(req rpc.Request) string {
	if req.PartitionKey != "" {
		return req.PartitionKey
	}
	return req.CorrelationID
}

// publishReply sends resp to the request's reply topic. Requests without
// a reply topic are push-only.
func (s *Server) publishReply(ctx context.Context, req rpc.Request, resp rpc.Response) error {
	if req.ReplyTo == "" {
		return nil
	}
	payload, err := rpc.EncodeResponse(resp)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	if err := s.broker.Publish(ctx, req.ReplyTo, replyKey(req), payload); err != nil {
		return fmt.Errorf("publishing response: %w", err)
	}
	return nil
}
