package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hivelink/internal/broker"
	"github.com/nerrad567/hivelink/internal/rpc"
)

type insertCommand struct {
	DeviceID string `json:"deviceId"`
	Command  string `json:"command"`
}

func (*insertCommand) Action() string { return "test_command_insert" }

func (c *insertCommand) EventFilter() Filter {
	return Filter{DeviceID: c.DeviceID, EventName: "command", Name: c.Command}
}

func init() {
	rpc.RegisterBody("test_command_insert", func() rpc.Body { return &insertCommand{} })
}

type inbox struct {
	mu        sync.Mutex
	responses []rpc.Response
}

func (i *inbox) handler(_ context.Context, msg broker.Message) error {
	resp, err := rpc.DecodeResponse(msg.Value)
	if err != nil {
		return err
	}
	i.mu.Lock()
	i.responses = append(i.responses, resp)
	i.mu.Unlock()
	return nil
}

func (i *inbox) len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.responses)
}

func TestEventBus_DeliversOnlyToMatchingSubscribers(t *testing.T) {
	b := broker.NewMemory(4)
	defer b.Close()
	ctx := context.Background()

	subscriberA := Subscriber{ReplyTo: "hivelink/rpc/reply/a", ID: "sub-a"}
	subscriberB := Subscriber{ReplyTo: "hivelink/rpc/reply/b", ID: "sub-b"}

	var boxA, boxB inbox
	if _, err := b.Subscribe(ctx, subscriberA.ReplyTo, "", boxA.handler); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if _, err := b.Subscribe(ctx, subscriberB.ReplyTo, "", boxB.handler); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	registry := NewRegistry()
	mustRegister(t, registry, Filter{DeviceID: "dev1"}, subscriberA)
	mustRegister(t, registry, Filter{DeviceID: "dev2"}, subscriberB)

	bus := NewEventBus(b, registry)
	n, err := bus.Publish(ctx, &insertCommand{DeviceID: "dev1", Command: "reboot"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Publish() delivered = %d, want 1", n)
	}

	waitFor(t, time.Second, func() bool { return boxA.len() == 1 })
	time.Sleep(50 * time.Millisecond)
	if boxA.len() != 1 {
		t.Errorf("subscriber A received %d events, want 1", boxA.len())
	}
	if boxB.len() != 0 {
		t.Errorf("subscriber B received %d events, want 0", boxB.len())
	}

	resp := boxA.responses[0]
	if resp.CorrelationID != "sub-a" || resp.Last {
		t.Errorf("event envelope = %+v, want subscription id and Last=false", resp)
	}
	if body, ok := resp.Body.(*insertCommand); !ok || body.Command != "reboot" {
		t.Errorf("event body = %#v", resp.Body)
	}
}

func TestEventBus_NoSubscribers(t *testing.T) {
	b := broker.NewMemory(1)
	defer b.Close()

	n, err := NewEventBus(b, NewRegistry()).Publish(context.Background(), &insertCommand{DeviceID: "d"})
	if err != nil || n != 0 {
		t.Errorf("Publish() = %d, %v; want 0, nil", n, err)
	}
}
