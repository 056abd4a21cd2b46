package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/hivelink/internal/broker"
)

// syncKey routes every sync message to one partition so all nodes see
// them in the same order.
const syncKey = "registry"

// Replicator keeps the local Registry in step with the cluster.
//
// Proposals are published to the sync topic and applied only when they
// come back, exactly like messages from other nodes. Propose returns once
// its own message has been applied locally.
type Replicator struct {
	broker   broker.Broker
	topic    string
	nodeID   string
	registry *Registry
	logger   Logger

	mu      sync.Mutex
	sub     broker.Subscription
	waiters map[string]chan error
}

// NewReplicator creates a replicator for registry on the standard sync topic.
func NewReplicator(b broker.Broker, registry *Registry, nodeID string) *Replicator {
	return &Replicator{
		broker:   b,
		topic:    broker.Topics{}.RegistrySync(),
		nodeID:   nodeID,
		registry: registry,
		logger:   noopLogger{},
		waiters:  make(map[string]chan error),
	}
}

// SetLogger sets the logger for the replicator.
func (r *Replicator) SetLogger(logger Logger) {
	r.logger = logger
}

// Registry returns the replicated registry.
func (r *Replicator) Registry() *Registry {
	return r.registry
}

// Start creates the sync topic and subscribes without a group, so every
// node receives every message.
func (r *Replicator) Start(ctx context.Context) error {
	if err := r.broker.CreateTopic(ctx, r.topic); err != nil {
		return fmt.Errorf("creating sync topic: %w", err)
	}
	sub, err := r.broker.Subscribe(ctx, r.topic, "", r.handle)
	if err != nil {
		return fmt.Errorf("subscribing to sync topic: %w", err)
	}

	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()

	r.logger.Info("registry replication started", "topic", r.topic, "node_id", r.nodeID)
	return nil
}

// Stop unsubscribes and fails any outstanding proposals.
func (r *Replicator) Stop() error {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	waiters := r.waiters
	r.waiters = make(map[string]chan error)
	r.mu.Unlock()

	for _, ch := range waiters {
		ch <- ErrNotStarted
	}
	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

// Propose publishes m and waits until this node has applied it.
func (r *Replicator) Propose(ctx context.Context, m SyncMessage) error {
	if err := m.Validate(); err != nil {
		return err
	}
	m.ID = uuid.NewString()
	m.Origin = r.nodeID

	payload, err := EncodeSync(m)
	if err != nil {
		return fmt.Errorf("encoding sync message: %w", err)
	}

	done := make(chan error, 1)
	r.mu.Lock()
	if r.sub == nil {
		r.mu.Unlock()
		return ErrNotStarted
	}
	r.waiters[m.ID] = done
	r.mu.Unlock()

	if err := r.broker.Publish(ctx, r.topic, syncKey, payload); err != nil {
		r.forget(m.ID)
		return fmt.Errorf("publishing sync message: %w", err)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		r.forget(m.ID)
		return ctx.Err()
	}
}

// Register replicates a registration.
func (r *Replicator) Register(ctx context.Context, f Filter, s Subscriber) error {
	return r.Propose(ctx, SyncMessage{Action: SyncRegister, Filter: &f, Subscriber: &s})
}

// Unregister replicates removal of s from every cell.
func (r *Replicator) Unregister(ctx context.Context, s Subscriber) error {
	return r.Propose(ctx, SyncMessage{Action: SyncUnregister, Subscriber: &s})
}

// UnregisterDevices replicates a device cascade delete.
func (r *Replicator) UnregisterDevices(ctx context.Context, deviceIDs ...string) error {
	return r.Propose(ctx, SyncMessage{Action: SyncUnregisterDevice, Devices: deviceIDs})
}

// UnregisterNetwork replicates a network cascade delete.
func (r *Replicator) UnregisterNetwork(ctx context.Context, networkID int64, devices []string) error {
	return r.Propose(ctx, SyncMessage{Action: SyncUnregisterNetwork, NetworkID: networkID, Devices: devices})
}

// UnregisterDeviceType replicates a device type cascade delete.
func (r *Replicator) UnregisterDeviceType(ctx context.Context, deviceTypeID int64, devices []string) error {
	return r.Propose(ctx, SyncMessage{Action: SyncUnregisterDeviceType, DeviceTypeID: deviceTypeID, Devices: devices})
}

func (r *Replicator) handle(_ context.Context, msg broker.Message) error {
	m, err := DecodeSync(msg.Value)
	if err != nil {
		return fmt.Errorf("decoding sync message: %w", err)
	}

	applyErr := r.registry.Apply(m)
	if applyErr != nil {
		r.logger.Warn("registry sync rejected", "id", m.ID, "origin", m.Origin, "error", applyErr)
	}

	if m.Origin == r.nodeID {
		r.mu.Lock()
		done, ok := r.waiters[m.ID]
		delete(r.waiters, m.ID)
		r.mu.Unlock()
		if ok {
			done <- applyErr
		}
	}
	return nil
}

func (r *Replicator) forget(id string) {
	r.mu.Lock()
	delete(r.waiters, id)
	r.mu.Unlock()
}
