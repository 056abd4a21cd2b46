package backend

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/hivelink/internal/broker"
	"github.com/nerrad567/hivelink/internal/directory"
	"github.com/nerrad567/hivelink/internal/dispatch"
	"github.com/nerrad567/hivelink/internal/eventbus"
	"github.com/nerrad567/hivelink/internal/infrastructure/config"
	"github.com/nerrad567/hivelink/internal/infrastructure/database"
	"github.com/nerrad567/hivelink/internal/infrastructure/influxdb"
	"github.com/nerrad567/hivelink/internal/model"
	"github.com/nerrad567/hivelink/internal/rpc"
	_ "github.com/nerrad567/hivelink/migrations"
)

// waitFor polls cond until it holds or the deadline passes.
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

type recordingArchive struct {
	mu     sync.Mutex
	events []influxdb.DeviceEvent
}

func (a *recordingArchive) WriteDeviceEvent(ev influxdb.DeviceEvent) {
	a.mu.Lock()
	a.events = append(a.events, ev)
	a.mu.Unlock()
}

func (a *recordingArchive) kinds() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, ev := range a.events {
		out[i] = ev.Kind
	}
	return out
}

// stream collects events pushed for one subscription.
type stream struct {
	mu     sync.Mutex
	bodies []rpc.Body
}

func (s *stream) callback(resp rpc.Response, err error) {
	if err != nil {
		return
	}
	s.mu.Lock()
	s.bodies = append(s.bodies, resp.Body)
	s.mu.Unlock()
}

func (s *stream) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

func (s *stream) at(i int) rpc.Body {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bodies[i]
}

type fixture struct {
	client     *rpc.Client
	replicator *eventbus.Replicator
	archive    *recordingArchive
}

func rpcConfig() config.RPCConfig {
	return config.RPCConfig{
		RequestTopic:     "hivelink/rpc/request",
		ReplyTopicPrefix: "hivelink/rpc/reply",
		Group:            "backend",
		CallTimeoutMS:    2000,
		PingAttempts:     3,
		PingTimeoutMS:    200,
		ReplyWorkers:     2,
	}
}

// setupBackend runs a backend on a memory broker with a directory holding
// network 1, device type 10, devices d1 and d2 (1/10) and blocked d3.
func setupBackend(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	b := broker.NewMemory(4)
	t.Cleanup(func() { _ = b.Close() })

	db, err := database.Open(ctx, config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "backend.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repo := directory.NewSQLiteRepository(db)
	mustSave(t, repo.SaveNetwork(ctx, &directory.Network{ID: 1, Name: "home"}))
	mustSave(t, repo.SaveDeviceType(ctx, &directory.DeviceType{ID: 10, Name: "sensor"}))
	mustSave(t, repo.SaveDevice(ctx, &directory.Device{ID: "d1", Name: "Hall", NetworkID: 1, DeviceTypeID: 10}))
	mustSave(t, repo.SaveDevice(ctx, &directory.Device{ID: "d2", Name: "Kitchen", NetworkID: 1, DeviceTypeID: 10}))
	mustSave(t, repo.SaveDevice(ctx, &directory.Device{ID: "d3", Name: "Garage", NetworkID: 1, Blocked: true}))

	repl := eventbus.NewReplicator(b, eventbus.NewRegistry(), "node-a")
	if err := repl.Start(ctx); err != nil {
		t.Fatalf("replicator Start() error = %v", err)
	}
	t.Cleanup(func() { _ = repl.Stop() })

	archive := &recordingArchive{}
	h := NewHandlers(repl, eventbus.NewEventBus(b, repl.Registry()), repo, 10)
	h.SetArchive(archive)

	router := dispatch.NewRouter()
	if err := h.Register(router); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	srv := dispatch.NewServer(b, rpcConfig(), config.DispatchConfig{Workers: 4, QueueSize: 64}, router)
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("server Start() error = %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop(time.Second) })

	client := rpc.NewClient(b, rpcConfig())
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client Start() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return &fixture{client: client, replicator: repl, archive: archive}
}

func mustSave(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("save error = %v", err)
	}
}

func (f *fixture) call(t *testing.T, body rpc.Body) (rpc.Response, error) {
	t.Helper()
	return f.client.CallSync(context.Background(), rpc.Request{Body: body})
}

func (f *fixture) mustCall(t *testing.T, body rpc.Body) rpc.Response {
	t.Helper()
	resp, err := f.call(t, body)
	if err != nil {
		t.Fatalf("CallSync(%s) error = %v", body.Action(), err)
	}
	return resp
}

// subscribe registers a listener, then subscribes. It returns the stream
// of pushed events and the snapshot response.
func (f *fixture) subscribe(t *testing.T, body rpc.Body, id string) (*stream, *model.SubscribeResponse) {
	t.Helper()
	s := &stream{}
	f.client.Listen(id, s.callback)

	var snapshot *model.SubscribeResponse
	resp, err := f.client.CallStream(context.Background(), rpc.Request{Body: body}, func(partial rpc.Response) {
		snapshot, _ = partial.Body.(*model.SubscribeResponse)
	})
	if err != nil {
		t.Fatalf("CallStream(%s) error = %v", body.Action(), err)
	}
	ack, ok := resp.Body.(*model.SubscribeResponse)
	if !ok || ack.SubscriptionID != id {
		t.Fatalf("subscribe ack = %#v", resp.Body)
	}
	if snapshot == nil {
		t.Fatal("no snapshot response before the acknowledgement")
	}
	return s, snapshot
}

func wantCode(t *testing.T, err error, code int) {
	t.Helper()
	if got := rpc.CodeOf(err); got != code {
		t.Errorf("error = %v (code %d), want code %d", err, got, code)
	}
}

func TestCommandInsert_DeliveredOnlyToMatchingSubscriber(t *testing.T) {
	f := setupBackend(t)

	a, _ := f.subscribe(t, &model.CommandSubscribeRequest{SubscribeParams: model.SubscribeParams{
		SubscriptionID: "sub-a", Filter: eventbus.Filter{DeviceID: "d1"},
	}}, "sub-a")
	b, _ := f.subscribe(t, &model.CommandSubscribeRequest{SubscribeParams: model.SubscribeParams{
		SubscriptionID: "sub-b", Filter: eventbus.Filter{DeviceID: "d2"},
	}}, "sub-b")

	resp := f.mustCall(t, &model.CommandInsertRequest{Command: model.DeviceCommand{DeviceID: "d1", Command: "reboot"}})
	inserted := resp.Body.(*model.CommandInsertResponse).Command
	if inserted.ID == 0 || inserted.NetworkID != 1 || inserted.DeviceTypeID != 10 || inserted.Status != model.StatusPending {
		t.Errorf("inserted command = %+v", inserted)
	}

	waitFor(t, 2*time.Second, func() bool { return a.len() == 1 })
	time.Sleep(50 * time.Millisecond)
	if a.len() != 1 {
		t.Errorf("subscriber A got %d events, want 1", a.len())
	}
	if b.len() != 0 {
		t.Errorf("subscriber B got %d events, want 0", b.len())
	}
	ev, ok := a.at(0).(*model.CommandEvent)
	if !ok || ev.Command.ID != inserted.ID {
		t.Errorf("event = %#v", a.at(0))
	}
}

func TestNotificationSubscribe_NetworkScopeAndSnapshot(t *testing.T) {
	f := setupBackend(t)

	f.mustCall(t, &model.NotificationInsertRequest{Notification: model.DeviceNotification{DeviceID: "d1", Notification: "temperature"}})
	f.mustCall(t, &model.NotificationInsertRequest{Notification: model.DeviceNotification{DeviceID: "d2", Notification: "humidity"}})

	s, snapshot := f.subscribe(t, &model.NotificationSubscribeRequest{SubscribeParams: model.SubscribeParams{
		SubscriptionID: "sub-net",
		Filter:         eventbus.Filter{NetworkID: 1},
		Names:          []string{"temperature"},
	}}, "sub-net")
	if len(snapshot.Notifications) != 1 || snapshot.Notifications[0].DeviceID != "d1" {
		t.Errorf("snapshot = %+v, want the d1 temperature notification", snapshot.Notifications)
	}

	f.mustCall(t, &model.NotificationInsertRequest{Notification: model.DeviceNotification{
		DeviceID:     "d2",
		Notification: "temperature",
		Parameters:   json.RawMessage(`{"celsius":21.5}`),
	}})
	f.mustCall(t, &model.NotificationInsertRequest{Notification: model.DeviceNotification{DeviceID: "d2", Notification: "humidity"}})

	waitFor(t, 2*time.Second, func() bool { return s.len() == 1 })
	ev := s.at(0).(*model.NotificationEvent)
	if ev.Notification.DeviceID != "d2" || string(ev.Notification.Parameters) != `{"celsius":21.5}` {
		t.Errorf("event = %+v", ev.Notification)
	}

	kinds := f.archive.kinds()
	if len(kinds) != 4 || kinds[0] != influxdb.KindNotification {
		t.Errorf("archived kinds = %v, want 4 notifications", kinds)
	}
}

func TestCommandUpdate_Subscription(t *testing.T) {
	f := setupBackend(t)

	resp := f.mustCall(t, &model.CommandInsertRequest{Command: model.DeviceCommand{DeviceID: "d1", Command: "reboot"}})
	cmd := resp.Body.(*model.CommandInsertResponse).Command

	s, snapshot := f.subscribe(t, &model.CommandUpdateSubscribeRequest{
		SubscriptionID: "sub-upd", DeviceID: "d1", CommandID: cmd.ID,
	}, "sub-upd")
	if len(snapshot.Commands) != 0 {
		t.Errorf("snapshot of a not yet updated command = %+v", snapshot.Commands)
	}

	f.mustCall(t, &model.CommandUpdateRequest{Command: model.DeviceCommand{
		ID: cmd.ID, DeviceID: "d1", Status: "done", Result: json.RawMessage(`"ok"`),
	}})

	waitFor(t, 2*time.Second, func() bool { return s.len() == 1 })
	ev := s.at(0).(*model.CommandUpdateEvent)
	if ev.Command.Status != "done" || !ev.Command.IsUpdated || string(ev.Command.Result) != `"ok"` {
		t.Errorf("update event = %+v", ev.Command)
	}
	if kinds := f.archive.kinds(); !slices.Equal(kinds, []string{influxdb.KindCommand, influxdb.KindCommand}) {
		t.Errorf("archived kinds = %v", kinds)
	}
}

func TestErrors(t *testing.T) {
	f := setupBackend(t)

	tests := []struct {
		name string
		body rpc.Body
		code int
	}{
		{"invalid notification", &model.NotificationInsertRequest{Notification: model.DeviceNotification{DeviceID: "d1"}}, rpc.CodeBadRequest},
		{"unknown device", &model.NotificationInsertRequest{Notification: model.DeviceNotification{DeviceID: "nope", Notification: "x"}}, rpc.CodeNotFound},
		{"blocked device", &model.CommandInsertRequest{Command: model.DeviceCommand{DeviceID: "d3", Command: "open"}}, rpc.CodeForbidden},
		{"missing subscription id", &model.NotificationSubscribeRequest{}, rpc.CodeBadRequest},
		{"scope mismatch", &model.NotificationSubscribeRequest{SubscribeParams: model.SubscribeParams{
			SubscriptionID: "s", Filter: eventbus.Filter{NetworkID: 2, DeviceID: "d1"},
		}}, rpc.CodeForbidden},
		{"unknown network", &model.CommandSubscribeRequest{SubscribeParams: model.SubscribeParams{
			SubscriptionID: "s", Filter: eventbus.Filter{NetworkID: 99},
		}}, rpc.CodeNotFound},
		{"unknown command", &model.CommandUpdateRequest{Command: model.DeviceCommand{ID: 1, DeviceID: "d1", Status: "done"}}, rpc.CodeNotFound},
		{"invalid device", &model.DeviceSaveRequest{Device: directory.Device{ID: "a,b", Name: "x", NetworkID: 1}}, rpc.CodeBadRequest},
		{"device in unknown network", &model.DeviceSaveRequest{Device: directory.Device{ID: "d9", Name: "x", NetworkID: 7}}, rpc.CodeNotFound},
		{"delete unknown device", &model.DeviceDeleteRequest{DeviceID: "nope"}, rpc.CodeNotFound},
		{"empty unsubscribe", &model.NotificationUnsubscribeRequest{}, rpc.CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.call(t, tt.body)
			wantCode(t, err, tt.code)
		})
	}

	if n := f.replicator.Registry().Len(); n != 0 {
		t.Errorf("registry holds %d registrations after rejected requests", n)
	}
}

func TestUnsubscribeAndList(t *testing.T) {
	f := setupBackend(t)

	f.subscribe(t, &model.NotificationSubscribeRequest{SubscribeParams: model.SubscribeParams{
		SubscriptionID: "sub-1", Filter: eventbus.Filter{DeviceID: "d1"}, Names: []string{"a", "b"},
	}}, "sub-1")
	f.subscribe(t, &model.CommandSubscribeRequest{SubscribeParams: model.SubscribeParams{
		SubscriptionID: "sub-2",
	}}, "sub-2")

	list := f.mustCall(t, &model.SubscriptionListRequest{}).Body.(*model.SubscriptionListResponse)
	if len(list.Subscriptions) != 3 {
		t.Fatalf("subscriptions = %+v, want 3 registrations", list.Subscriptions)
	}
	one := f.mustCall(t, &model.SubscriptionListRequest{SubscriptionID: "sub-2"}).Body.(*model.SubscriptionListResponse)
	if len(one.Subscriptions) != 1 || !one.Subscriptions[0].Filter.IsGlobal() {
		t.Errorf("sub-2 registrations = %+v", one.Subscriptions)
	}

	f.mustCall(t, &model.NotificationUnsubscribeRequest{UnsubscribeParams: model.UnsubscribeParams{SubscriptionIDs: []string{"sub-1"}}})
	list = f.mustCall(t, &model.SubscriptionListRequest{}).Body.(*model.SubscriptionListResponse)
	if len(list.Subscriptions) != 1 || list.Subscriptions[0].Subscriber.ID != "sub-2" {
		t.Errorf("subscriptions after unsubscribe = %+v", list.Subscriptions)
	}
}

func TestDeleteNetwork_Cascades(t *testing.T) {
	f := setupBackend(t)

	f.subscribe(t, &model.NotificationSubscribeRequest{SubscribeParams: model.SubscribeParams{
		SubscriptionID: "sub-d1", Filter: eventbus.Filter{DeviceID: "d1"},
	}}, "sub-d1")
	f.subscribe(t, &model.NotificationSubscribeRequest{SubscribeParams: model.SubscribeParams{
		SubscriptionID: "sub-net", Filter: eventbus.Filter{NetworkID: 1},
	}}, "sub-net")
	f.subscribe(t, &model.NotificationSubscribeRequest{SubscribeParams: model.SubscribeParams{
		SubscriptionID: "sub-all",
	}}, "sub-all")

	resp := f.mustCall(t, &model.NetworkDeleteRequest{NetworkID: 1})
	deleted := resp.Body.(*model.DeleteResponse)
	if !slices.Equal(deleted.Devices, []string{"d1", "d2", "d3"}) {
		t.Errorf("deleted devices = %v", deleted.Devices)
	}

	regs := f.replicator.Registry().Registrations(nil)
	if len(regs) != 1 || regs[0].Subscriber.ID != "sub-all" {
		t.Errorf("registrations after cascade = %+v, want only the global one", regs)
	}

	_, err := f.call(t, &model.NotificationInsertRequest{Notification: model.DeviceNotification{DeviceID: "d1", Notification: "x"}})
	wantCode(t, err, rpc.CodeNotFound)
}

func TestSaveAndDeleteDevice(t *testing.T) {
	f := setupBackend(t)

	f.mustCall(t, &model.DeviceSaveRequest{Device: directory.Device{ID: "d4", Name: "Porch", NetworkID: 1}})
	f.mustCall(t, &model.NotificationInsertRequest{Notification: model.DeviceNotification{DeviceID: "d4", Notification: "motion"}})

	f.subscribe(t, &model.NotificationSubscribeRequest{SubscribeParams: model.SubscribeParams{
		SubscriptionID: "sub-d4", Filter: eventbus.Filter{DeviceID: "d4"},
	}}, "sub-d4")

	resp := f.mustCall(t, &model.DeviceDeleteRequest{DeviceID: "d4"})
	if got := resp.Body.(*model.DeleteResponse).Devices; !slices.Equal(got, []string{"d4"}) {
		t.Errorf("deleted = %v", got)
	}
	if n := f.replicator.Registry().Len(); n != 0 {
		t.Errorf("registry holds %d registrations after device delete", n)
	}
}

// flakySyncBroker fails the nth publish on the registry sync topic.
type flakySyncBroker struct {
	broker.Broker
	failOn int32
	seen   atomic.Int32
}

func (b *flakySyncBroker) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if topic == (broker.Topics{}).RegistrySync() && b.seen.Add(1) == b.failOn {
		return errors.New("sync topic unavailable")
	}
	return b.Broker.Publish(ctx, topic, key, payload)
}

func TestSubscribe_RollsBackPartialRegistration(t *testing.T) {
	ctx := context.Background()
	mem := broker.NewMemory(2)
	t.Cleanup(func() { _ = mem.Close() })
	b := &flakySyncBroker{Broker: mem, failOn: 2}

	repl := eventbus.NewReplicator(b, eventbus.NewRegistry(), "node-a")
	if err := repl.Start(ctx); err != nil {
		t.Fatalf("replicator Start() error = %v", err)
	}
	t.Cleanup(func() { _ = repl.Stop() })
	h := NewHandlers(repl, eventbus.NewEventBus(b, repl.Registry()), nil, 10)

	params := &model.SubscribeParams{SubscriptionID: "sub-partial", Names: []string{"a", "b", "c"}}
	req := rpc.Request{CorrelationID: "c1", ReplyTo: "hivelink/rpc/reply/x"}
	if _, err := h.subscribe(ctx, req, params, model.EventNotification); err == nil {
		t.Fatal("subscribe() error = nil, want the sync publish failure")
	}
	if n := repl.Registry().Len(); n != 0 {
		t.Errorf("registry Len() = %d after a failed subscribe, want 0", n)
	}
}
