package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hivelink/internal/infrastructure/config"
	"github.com/nerrad567/hivelink/internal/rpc"
)

type testBody struct {
	Op string `json:"op"`
}

func (b *testBody) Action() string { return b.Op }

func request(id, action string) rpc.Request {
	return rpc.Request{CorrelationID: id, ReplyTo: "reply", Body: &testBody{Op: action}}
}

// recorder collects every response the engine replies with.
type recorder struct {
	mu    sync.Mutex
	resps []rpc.Response
}

func (r *recorder) reply(_ context.Context, _ rpc.Request, resp rpc.Response) error {
	r.mu.Lock()
	r.resps = append(r.resps, resp)
	r.mu.Unlock()
	return nil
}

func (r *recorder) snapshot() []rpc.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rpc.Response(nil), r.resps...)
}

func (r *recorder) byID(id string) []rpc.Response {
	var out []rpc.Response
	for _, resp := range r.snapshot() {
		if resp.CorrelationID == id {
			out = append(out, resp)
		}
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func newTestEngine(t *testing.T, workers, queue int, router *Router) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	e := NewEngine(config.DispatchConfig{Workers: workers, QueueSize: queue}, router, rec.reply)
	e.Start(context.Background())
	t.Cleanup(func() { _ = e.Stop(time.Second) })
	return e, rec
}

func TestEngine_HandlesRequest(t *testing.T) {
	router := NewRouter()
	_ = router.HandleFunc("echo", func(_ context.Context, req rpc.Request, _ Stream) (rpc.Response, error) {
		return rpc.Reply(req, req.Body), nil
	})
	e, rec := newTestEngine(t, 2, 8, router)

	if err := e.Submit(context.Background(), request("c1", "echo")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return len(rec.byID("c1")) == 1 })

	resp := rec.byID("c1")[0]
	if !resp.Last || resp.Failed() {
		t.Errorf("response = %+v, want successful terminal", resp)
	}
}

func TestEngine_UnknownAction(t *testing.T) {
	e, rec := newTestEngine(t, 1, 4, NewRouter())
	_ = e.Submit(context.Background(), request("c1", "missing"))

	waitFor(t, time.Second, func() bool { return len(rec.byID("c1")) == 1 })
	resp := rec.byID("c1")[0]
	if resp.ErrorCode != rpc.CodeNotFound || !resp.Last {
		t.Errorf("response = %+v, want terminal 404", resp)
	}
}

func TestEngine_FailuresBecomeResponses(t *testing.T) {
	router := NewRouter()
	_ = router.HandleFunc("boom", func(context.Context, rpc.Request, Stream) (rpc.Response, error) {
		return rpc.Response{}, errors.New("database exploded")
	})
	_ = router.HandleFunc("panic", func(context.Context, rpc.Request, Stream) (rpc.Response, error) {
		panic("nil map")
	})
	_ = router.HandleFunc("invalid", func(context.Context, rpc.Request, Stream) (rpc.Response, error) {
		return rpc.Response{}, rpc.NewError(rpc.CodeBadRequest, "filter is required")
	})
	_ = router.HandleFunc("ok", func(_ context.Context, req rpc.Request, _ Stream) (rpc.Response, error) {
		return rpc.Reply(req, nil), nil
	})
	e, rec := newTestEngine(t, 1, 8, router)

	ctx := context.Background()
	_ = e.Submit(ctx, request("c-boom", "boom"))
	_ = e.Submit(ctx, request("c-panic", "panic"))
	_ = e.Submit(ctx, request("c-invalid", "invalid"))
	_ = e.Submit(ctx, request("c-ok", "ok"))

	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 4 })

	tests := []struct {
		id      string
		code    int
		message string
	}{
		{"c-boom", rpc.CodeInternal, "internal error"},
		{"c-panic", rpc.CodeInternal, "internal error"},
		{"c-invalid", rpc.CodeBadRequest, "filter is required"},
		{"c-ok", 0, ""},
	}
	for _, tt := range tests {
		got := rec.byID(tt.id)
		if len(got) != 1 {
			t.Errorf("%s: %d responses, want 1", tt.id, len(got))
			continue
		}
		if got[0].ErrorCode != tt.code || got[0].ErrorMessage != tt.message || !got[0].Last {
			t.Errorf("%s: response = %+v", tt.id, got[0])
		}
	}
}

func TestEngine_StampsCorrelationID(t *testing.T) {
	router := NewRouter()
	_ = router.HandleFunc("sloppy", func(context.Context, rpc.Request, Stream) (rpc.Response, error) {
		return rpc.Response{CorrelationID: "wrong"}, nil
	})
	e, rec := newTestEngine(t, 1, 4, router)
	_ = e.Submit(context.Background(), request("c1", "sloppy"))

	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 1 })
	resp := rec.snapshot()[0]
	if resp.CorrelationID != "c1" || !resp.Last {
		t.Errorf("response = %+v, want correlation id c1 and Last", resp)
	}
}

func TestEngine_Stream(t *testing.T) {
	router := NewRouter()
	_ = router.HandleFunc("snapshot", func(ctx context.Context, req rpc.Request, s Stream) (rpc.Response, error) {
		for i := 0; i < 2; i++ {
			if err := s.Send(ctx, rpc.Response{Last: true}); err != nil {
				return rpc.Response{}, err
			}
		}
		return rpc.Reply(req, nil), nil
	})
	e, rec := newTestEngine(t, 1, 4, router)
	_ = e.Submit(context.Background(), request("c1", "snapshot"))

	waitFor(t, time.Second, func() bool { return len(rec.byID("c1")) == 3 })
	got := rec.byID("c1")
	if got[0].Last || got[1].Last || !got[2].Last {
		t.Errorf("Last flags = %v %v %v, want false false true", got[0].Last, got[1].Last, got[2].Last)
	}
}

func TestEngine_Backpressure(t *testing.T) {
	release := make(chan struct{})
	router := NewRouter()
	_ = router.HandleFunc("block", func(_ context.Context, req rpc.Request, _ Stream) (rpc.Response, error) {
		<-release
		return rpc.Reply(req, nil), nil
	})
	e, rec := newTestEngine(t, 1, 1, router)
	defer close(release)

	ctx := context.Background()
	_ = e.Submit(ctx, request("c1", "block"))
	waitFor(t, time.Second, func() bool { return e.QueueLen() == 0 })
	_ = e.Submit(ctx, request("c2", "block"))

	tctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if err := e.Submit(tctx, request("c3", "block")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Submit() on full queue error = %v, want DeadlineExceeded", err)
	}
	if len(rec.snapshot()) != 0 {
		t.Error("blocked handler produced a response")
	}
}

func TestEngine_StopDrainsQueue(t *testing.T) {
	router := NewRouter()
	_ = router.HandleFunc("slow", func(_ context.Context, req rpc.Request, _ Stream) (rpc.Response, error) {
		time.Sleep(10 * time.Millisecond)
		return rpc.Reply(req, nil), nil
	})
	rec := &recorder{}
	e := NewEngine(config.DispatchConfig{Workers: 2, QueueSize: 16}, router, rec.reply)
	e.Start(context.Background())

	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		_ = e.Submit(context.Background(), request(id, "slow"))
	}
	if err := e.Stop(time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if n := len(rec.snapshot()); n != 6 {
		t.Errorf("responses after drain = %d, want 6", n)
	}
	if err := e.Submit(context.Background(), request("late", "slow")); !errors.Is(err, ErrStopped) {
		t.Errorf("Submit() after Stop() error = %v, want ErrStopped", err)
	}
}

func TestEngine_StopForcesAfterGrace(t *testing.T) {
	router := NewRouter()
	_ = router.HandleFunc("stuck", func(ctx context.Context, req rpc.Request, _ Stream) (rpc.Response, error) {
		<-ctx.Done()
		return rpc.Response{}, ctx.Err()
	})
	rec := &recorder{}
	e := NewEngine(config.DispatchConfig{Workers: 1, QueueSize: 4}, router, rec.reply)
	e.Start(context.Background())

	_ = e.Submit(context.Background(), request("a", "stuck"))
	_ = e.Submit(context.Background(), request("b", "stuck"))

	err := e.Stop(30 * time.Millisecond)
	if !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("Stop() error = %v, want ErrShutdownTimeout", err)
	}
	if len(rec.byID("b")) != 0 {
		t.Error("queued request processed after forced stop")
	}
}

func TestRouter_Duplicate(t *testing.T) {
	r := NewRouter()
	h := HandlerFunc(func(context.Context, rpc.Request, Stream) (rpc.Response, error) { return rpc.Response{}, nil })
	if err := r.Handle("a", h); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if err := r.Handle("a", h); !errors.Is(err, ErrDuplicateHandler) {
		t.Errorf("Handle() error = %v, want ErrDuplicateHandler", err)
	}
	_ = r.Handle("b", h)
	if got := r.Actions(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Actions() = %v", got)
	}
}
