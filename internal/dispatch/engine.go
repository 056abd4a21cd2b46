package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/hivelink/internal/broker"
	"github.com/nerrad567/hivelink/internal/infrastructure/config"
	"github.com/nerrad567/hivelink/internal/infrastructure/metrics"
	"github.com/nerrad567/hivelink/internal/rpc"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ReplyFunc delivers a response for req. The engine calls it for every
// intermediate and terminal response.
type ReplyFunc func(ctx context.Context, req rpc.Request, resp rpc.Response) error

type job struct {
	req      rpc.Request
	received time.Time
}

// Engine drains a bounded ring of requests with a fixed worker pool.
type Engine struct {
	ring    *Ring[job]
	router  *Router
	reply   ReplyFunc
	workers int
	logger  Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

// NewEngine creates an engine for router. reply receives every response.
func NewEngine(cfg config.DispatchConfig, router *Router, reply ReplyFunc) *Engine {
	return &Engine{
		ring:    NewRing[job](cfg.QueueSize),
		router:  router,
		reply:   reply,
		workers: max(cfg.Workers, 1),
		logger:  broker.NoopLogger{},
		done:    make(chan struct{}),
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// SetMetrics attaches collectors. Nil disables them.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// Start launches the workers. ctx bounds the engine's lifetime: when it is
// cancelled, handlers see a cancelled context and queued work is dropped.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.work(i)
	}
	go func() {
		e.wg.Wait()
		close(e.done)
	}()

	e.logger.Info("dispatch engine started", "workers", e.workers, "queue_size", e.ring.Cap())
}

// Submit queues req, blocking while the queue is full.
func (e *Engine) Submit(ctx context.Context, req rpc.Request) error {
	if err := e.ring.Put(ctx, job{req: req, received: time.Now()}); err != nil {
		if errors.Is(err, ErrStopped) {
			e.metrics.IncRejected()
		}
		return err
	}
	e.metrics.SetQueueDepth(e.ring.Len())
	return nil
}

// QueueLen returns the number of requests waiting for a worker.
func (e *Engine) QueueLen() int {
	return e.ring.Len()
}

// Stop rejects new requests and lets the workers drain the queue. If they
// have not finished within grace, their context is cancelled and
// ErrShutdownTimeout is returned.
func (e *Engine) Stop(grace time.Duration) error {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()

	e.ring.Close()
	if !started {
		return nil
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-e.done:
		e.cancel()
		e.logger.Info("dispatch engine stopped")
		return nil
	case <-timer.C:
		e.cancel()
		<-e.done
		e.logger.Warn("dispatch engine force-stopped", "grace", grace)
		return fmt.Errorf("%w (%s)", ErrShutdownTimeout, grace)
	}
}

func (e *Engine) work(id int) {
	defer e.wg.Done()
	dropped := 0
	for j := range e.ring.C() {
		if e.ctx.Err() != nil {
			dropped++
			continue
		}
		e.metrics.SetQueueDepth(e.ring.Len())
		e.process(j)
	}
	if dropped > 0 {
		e.logger.Warn("dropped queued requests on forced stop", "worker", id, "dropped", dropped)
	}
}

// process runs one request to its terminal response.
func (e *Engine) process(j job) {
	req := j.req
	action := req.Action()

	resp := e.invoke(req)
	resp.CorrelationID = req.CorrelationID
	resp.Last = true

	e.metrics.ObserveHandled(action, resp.ErrorCode, time.Since(j.received))
	if err := e.reply(e.ctx, req, resp); err != nil {
		e.logger.Warn("failed to send response",
			"action", action,
			"correlation_id", req.CorrelationID,
			"error", err,
		)
	}
}

// invoke calls the handler, converting errors and panics to failed responses.
func (e *Engine) invoke(req rpc.Request) (resp rpc.Response) {
	action := req.Action()
	h, ok := e.router.Lookup(action)
	if !ok {
		e.logger.Warn("no handler for action", "action", action, "correlation_id", req.CorrelationID)
		return rpc.Failure(req, rpc.CodeNotFound, fmt.Sprintf("unknown action %q", action))
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in request handler",
				"action", action,
				"correlation_id", req.CorrelationID,
				"panic", r,
			)
			resp = rpc.Failure(req, rpc.CodeInternal, "internal error")
		}
	}()

	out, err := h.Handle(e.ctx, req, &stream{engine: e, req: req})
	if err != nil {
		code := rpc.CodeOf(err)
		msg := err.Error()
		var rpcErr *rpc.Error
		if errors.As(err, &rpcErr) {
			msg = rpcErr.Message
		}
		if code == rpc.CodeInternal {
			e.logger.Error("request handler failed",
				"action", action,
				"correlation_id", req.CorrelationID,
				"error", err,
			)
			msg = "internal error"
		}
		return rpc.Failure(req, code, msg)
	}
	return out
}

type stream struct {
	engine *Engine
	req    rpc.Request
}

func (s *stream) Send(ctx context.Context, resp rpc.Response) error {
	resp.CorrelationID = s.req.CorrelationID
	resp.Last = false
	return s.engine.reply(ctx, s.req, resp)
}
