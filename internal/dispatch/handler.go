package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/hivelink/internal/rpc"
)

// Stream sends intermediate (Last=false) responses for the request being
// handled. The correlation id is filled in by the engine.
type Stream interface {
	Send(ctx context.Context, resp rpc.Response) error
}

// Handler handles one action. The returned response is the terminal one;
// returning an error instead produces a failed response whose code comes
// from rpc.CodeOf.
type Handler interface {
	Handle(ctx context.Context, req rpc.Request, stream Stream) (rpc.Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req rpc.Request, stream Stream) (rpc.Response, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req rpc.Request, stream Stream) (rpc.Response, error) {
	return f(ctx, req, stream)
}

// Router maps actions to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Handle registers h for action.
func (r *Router) Handle(action string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[action]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, action)
	}
	r.handlers[action] = h
	return nil
}

// HandleFunc registers f for action.
func (r *Router) HandleFunc(action string, f HandlerFunc) error {
	return r.Handle(action, f)
}

// Lookup returns the handler for action.
func (r *Router) Lookup(action string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[action]
	return h, ok
}

// Actions returns the registered actions in sorted order.
func (r *Router) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for a := range r.handlers {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
