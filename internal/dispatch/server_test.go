package dispatch

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/hivelink/internal/broker"
	"github.com/nerrad567/hivelink/internal/infrastructure/config"
	"github.com/nerrad567/hivelink/internal/rpc"
)

type echoBody struct {
	Text string `json:"text"`
}

func (*echoBody) Action() string { return "dispatch_test_echo" }

func init() {
	rpc.RegisterBody("dispatch_test_echo", func() rpc.Body { return &echoBody{} })
}

func rpcConfig() config.RPCConfig {
	return config.RPCConfig{
		RequestTopic:     "hivelink/rpc/request",
		ReplyTopicPrefix: "hivelink/rpc/reply",
		Group:            "backend",
		CallTimeoutMS:    1000,
		PingAttempts:     3,
		PingTimeoutMS:    200,
		ReplyWorkers:     2,
	}
}

func TestServer_EndToEnd(t *testing.T) {
	b := broker.NewMemory(4)
	defer b.Close()
	ctx := context.Background()

	var pushed atomic.Int32
	router := NewRouter()
	_ = router.HandleFunc("dispatch_test_echo", func(_ context.Context, req rpc.Request, _ Stream) (rpc.Response, error) {
		body := req.Body.(*echoBody)
		if req.ReplyTo == "" {
			pushed.Add(1)
		}
		return rpc.Reply(req, &echoBody{Text: "re: " + body.Text}), nil
	})

	srv := NewServer(b, rpcConfig(), config.DispatchConfig{Workers: 4, QueueSize: 32}, router)
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Stop(time.Second) //nolint:errcheck

	client := rpc.NewClient(b, rpcConfig())
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client Start() error = %v", err)
	}
	defer client.Close()

	resp, err := client.CallSync(ctx, rpc.Request{PartitionKey: "dev1", Body: &echoBody{Text: "hi"}})
	if err != nil {
		t.Fatalf("CallSync() error = %v", err)
	}
	if body, ok := resp.Body.(*echoBody); !ok || body.Text != "re: hi" {
		t.Errorf("Body = %#v", resp.Body)
	}

	_, err = client.CallSync(ctx, rpc.Request{Body: &rpc.RawBody{Name: "nope"}})
	var rpcErr *rpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != rpc.CodeNotFound {
		t.Errorf("CallSync(unknown) error = %v, want 404", err)
	}

	if err := client.Push(ctx, rpc.Request{Body: &echoBody{Text: "fire"}}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return pushed.Load() == 1 })
}

func TestServer_DropsUnreadableRequests(t *testing.T) {
	b := broker.NewMemory(2)
	defer b.Close()
	ctx := context.Background()

	srv := NewServer(b, rpcConfig(), config.DispatchConfig{Workers: 1, QueueSize: 4}, NewRouter())
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Stop(time.Second) //nolint:errcheck

	if err := b.Publish(ctx, rpcConfig().RequestTopic, "", []byte("{broken")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	client := rpc.NewClient(b, rpcConfig())
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client Start() after malformed request error = %v", err)
	}
	_ = client.Close()
}

func TestServer_RejectsMalformedBody(t *testing.T) {
	b := broker.NewMemory(2)
	defer b.Close()
	ctx := context.Background()

	var handled atomic.Int32
	router := NewRouter()
	_ = router.HandleFunc("dispatch_test_echo", func(_ context.Context, req rpc.Request, _ Stream) (rpc.Response, error) {
		handled.Add(1)
		return rpc.Reply(req, nil), nil
	})

	srv := NewServer(b, rpcConfig(), config.DispatchConfig{Workers: 1, QueueSize: 4}, router)
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Stop(time.Second) //nolint:errcheck

	client := rpc.NewClient(b, rpcConfig())
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client Start() error = %v", err)
	}
	defer client.Close()

	// "text" must be a string for the registered echo body.
	body := &rpc.RawBody{Name: "dispatch_test_echo", Data: []byte(`{"text":5}`)}
	_, err := client.CallSync(ctx, rpc.Request{Body: body})
	var rpcErr *rpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != rpc.CodeBadRequest {
		t.Fatalf("CallSync(bad body) error = %v, want 400", err)
	}
	if !strings.Contains(rpcErr.Message, "dispatch_test_echo") {
		t.Errorf("error message = %q, want it to name the action", rpcErr.Message)
	}
	if n := handled.Load(); n != 0 {
		t.Errorf("handler ran %d times for a malformed body", n)
	}
}

func TestServer_StreamPartialsPrecedeTerminal(t *testing.T) {
	b := broker.NewMemory(8)
	defer b.Close()
	ctx := context.Background()

	const partials = 3
	router := NewRouter()
	_ = router.HandleFunc("dispatch_test_echo", func(ctx context.Context, req rpc.Request, stream Stream) (rpc.Response, error) {
		for i := range partials {
			if err := stream.Send(ctx, rpc.Reply(req, &echoBody{Text: strconv.Itoa(i)})); err != nil {
				return rpc.Response{}, err
			}
		}
		return rpc.Reply(req, &echoBody{Text: "done"}), nil
	})

	srv := NewServer(b, rpcConfig(), config.DispatchConfig{Workers: 4, QueueSize: 32}, router)
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Stop(time.Second) //nolint:errcheck

	client := rpc.NewClient(b, rpcConfig())
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client Start() error = %v", err)
	}
	defer client.Close()

	// No partition key: the replies must still share one partition.
	for call := range 20 {
		var got []string
		resp, err := client.CallStream(ctx, rpc.Request{Body: &echoBody{Text: "go"}}, func(r rpc.Response) {
			got = append(got, r.Body.(*echoBody).Text)
		})
		if err != nil {
			t.Fatalf("call %d: CallStream() error = %v", call, err)
		}
		if body := resp.Body.(*echoBody); body.Text != "done" {
			t.Fatalf("call %d: terminal Body = %#v", call, body)
		}
		if want := []string{"0", "1", "2"}; !slices.Equal(got, want) {
			t.Fatalf("call %d: partials = %v, want %v before the terminal response", call, got, want)
		}
	}
}

func TestReplyKey(t *testing.T) {
	tests := []struct {
		name string
		req  rpc.Request
		want string
	}{
		{"partition key wins", rpc.Request{CorrelationID: "c1", PartitionKey: "dev1"}, "dev1"},
		{"falls back to correlation id", rpc.Request{CorrelationID: "c1"}, "c1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := replyKey(tt.req); got != tt.want {
				t.Errorf("replyKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServer_StopRejectsNewWork(t *testing.T) {
	b := broker.NewMemory(2)
	defer b.Close()

	srv := NewServer(b, rpcConfig(), config.DispatchConfig{Workers: 1, QueueSize: 4}, NewRouter())
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.Stop(time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := srv.Engine().Submit(context.Background(), request("c", "x")); !errors.Is(err, ErrStopped) {
		t.Errorf("Submit() after Stop() error = %v, want ErrStopped", err)
	}
}
