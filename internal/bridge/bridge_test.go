package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/hivelink/internal/broker"
	"github.com/nerrad567/hivelink/internal/dispatch"
	"github.com/nerrad567/hivelink/internal/infrastructure/config"
	"github.com/nerrad567/hivelink/internal/rpc"
)

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

type testGateway struct {
	gw      *Gateway
	backend *broker.Memory
	server  *httptest.Server
}

func (tg *testGateway) url() string {
	return "ws" + strings.TrimPrefix(tg.server.URL, "http") + "/bridge"
}

func startGateway(t *testing.T) *testGateway {
	t.Helper()
	backend := broker.NewMemory(4)
	gw := NewGateway(config.GatewayConfig{Path: "/bridge", MaxMessageSize: 1 << 20}, testSecret, backend)
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(gw.Handler(ctx))
	t.Cleanup(func() {
		cancel()
		_ = gw.Close()
		srv.Close()
		_ = backend.Close()
	})
	return &testGateway{gw: gw, backend: backend, server: srv}
}

func dialTest(t *testing.T, tg *testGateway, workers int) *Client {
	t.Helper()
	token, err := IssueToken("frontend-test", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	c, err := Dial(context.Background(), config.BridgeConfig{
		URL:         tg.url(),
		Token:       token,
		Workers:     workers,
		OpTimeoutMS: 2000,
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGateway_RejectsMissingToken(t *testing.T) {
	tg := startGateway(t)

	resp, err := http.Get(tg.server.URL + "/bridge")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	_, err = Dial(context.Background(), config.BridgeConfig{URL: tg.url(), Token: "bogus", Workers: 1, OpTimeoutMS: 500})
	if err == nil {
		t.Error("Dial() with bad token succeeded")
	}
}

func TestGateway_Health(t *testing.T) {
	tg := startGateway(t)
	resp, err := http.Get(tg.server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestClient_PublishSubscribe(t *testing.T) {
	tg := startGateway(t)
	c := dialTest(t, tg, 1)
	ctx := context.Background()

	if err := c.CreateTopic(ctx, "events"); err != nil {
		t.Fatalf("CreateTopic() error = %v", err)
	}
	got := make(chan broker.Message, 1)
	sub, err := c.Subscribe(ctx, "events", "", func(_ context.Context, msg broker.Message) error {
		got <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// Publish on the backend side; the delivery crosses the bridge.
	if err := tg.backend.Publish(ctx, "events", "dev1", []byte("hello")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	select {
	case msg := <-got:
		if msg.Key != "dev1" || string(msg.Value) != "hello" {
			t.Errorf("delivered = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
}

func TestClient_GroupSubscriptionsSpreadAcrossWorkers(t *testing.T) {
	tg := startGateway(t)
	c := dialTest(t, tg, 3)
	ctx := context.Background()

	var total atomic.Int32
	var perSub [3]atomic.Int32
	for i := 0; i < 3; i++ {
		i := i
		if _, err := c.Subscribe(ctx, "replies", "reply-group", func(context.Context, broker.Message) error {
			perSub[i].Add(1)
			total.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
	}

	const n = 60
	for i := 0; i < n; i++ {
		if err := c.Publish(ctx, "replies", fmt.Sprintf("k%d", i), []byte("x")); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	waitFor(t, 2*time.Second, func() bool { return total.Load() == n })

	time.Sleep(50 * time.Millisecond)
	if total.Load() != n {
		t.Errorf("delivered %d, want exactly %d", total.Load(), n)
	}
}

func TestClient_RemoteError(t *testing.T) {
	tg := startGateway(t)
	c := dialTest(t, tg, 1)

	_ = tg.backend.Close()
	err := c.Publish(context.Background(), "t", "", []byte("x"))
	if !errors.Is(err, ErrRemote) {
		t.Errorf("Publish() error = %v, want ErrRemote", err)
	}
}

func TestClient_Validation(t *testing.T) {
	tg := startGateway(t)
	c := dialTest(t, tg, 1)
	ctx := context.Background()

	if err := c.Publish(ctx, "", "", nil); !errors.Is(err, broker.ErrInvalidTopic) {
		t.Errorf("Publish() error = %v, want ErrInvalidTopic", err)
	}
	if _, err := c.Subscribe(ctx, "t", "", nil); !errors.Is(err, broker.ErrNilHandler) {
		t.Errorf("Subscribe() error = %v, want ErrNilHandler", err)
	}

	_ = c.Close()
	if err := c.CreateTopic(ctx, "t"); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateTopic() after Close() error = %v, want ErrClosed", err)
	}
}

func TestClient_ConnectionLoss(t *testing.T) {
	tg := startGateway(t)
	c := dialTest(t, tg, 2)

	lost := make(chan error, 1)
	c.OnDisconnect(func(err error) { lost <- err })

	_ = tg.gw.Close()

	select {
	case err := <-lost:
		if !errors.Is(err, ErrConnectionLost) {
			t.Errorf("OnDisconnect error = %v, want ErrConnectionLost", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnect not called")
	}

	if err := c.Publish(context.Background(), "t", "", nil); !errors.Is(err, ErrConnectionLost) {
		t.Errorf("Publish() after loss error = %v, want ErrConnectionLost", err)
	}
}

func TestBridge_RPCRoundTrip(t *testing.T) {
	tg := startGateway(t)
	ctx := context.Background()

	rpcCfg := config.RPCConfig{
		RequestTopic:     "hivelink/rpc/request",
		ReplyTopicPrefix: "hivelink/rpc/reply",
		Group:            "backend",
		CallTimeoutMS:    2000,
		PingAttempts:     3,
		PingTimeoutMS:    500,
		ReplyWorkers:     2,
	}

	srv := dispatch.NewServer(tg.backend, rpcCfg, config.DispatchConfig{Workers: 2, QueueSize: 16}, dispatch.NewRouter())
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("server Start() error = %v", err)
	}
	defer srv.Stop(time.Second) //nolint:errcheck

	c := dialTest(t, tg, 2)
	client := rpc.NewClient(c, rpcCfg)
	c.OnDisconnect(client.ConnectionLost)

	// Start pings the backend through the bridge.
	if err := client.Start(ctx); err != nil {
		t.Fatalf("rpc Start() over bridge error = %v", err)
	}
	defer client.Close()

	_, err := client.CallSync(ctx, rpc.Request{Body: &rpc.RawBody{Name: "missing"}})
	var rpcErr *rpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != rpc.CodeNotFound {
		t.Errorf("CallSync() error = %v, want 404", err)
	}
}

// queued returns how many deliveries wait for subID's handler on conn.
func queued(conn *wsConn, subID string) int {
	conn.mu.Lock()
	sub, ok := conn.subs[subID]
	conn.mu.Unlock()
	if !ok {
		return 0
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return len(sub.queue)
}

func TestClient_SlowHandlerDoesNotStallAcks(t *testing.T) {
	tg := startGateway(t)
	c := dialTest(t, tg, 1)
	ctx := context.Background()

	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)
	var (
		mu  sync.Mutex
		got []string
	)
	s, err := c.Subscribe(ctx, "events", "", func(_ context.Context, msg broker.Message) error {
		<-release
		mu.Lock()
		got = append(got, string(msg.Value))
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	subID := s.(*subscription).id

	n := 2 * backlogWarning
	for i := range n {
		if err := tg.backend.Publish(ctx, "events", "k", []byte(strconv.Itoa(i))); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	// The handler holds the first delivery; the read loop keeps queueing
	// well past the warning threshold.
	waitFor(t, 5*time.Second, func() bool { return queued(c.control, subID) >= backlogWarning })

	opCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Publish(opCtx, "other", "", []byte("x")); err != nil {
		t.Fatalf("Publish() with a blocked handler error = %v", err)
	}

	unblock()
	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	})
	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != strconv.Itoa(i) {
			t.Fatalf("delivery %d = %q, want in-order %d", i, v, i)
		}
	}
}
