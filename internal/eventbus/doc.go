// Package eventbus routes device events to subscribers.
//
// Subscriptions are stored in a two-level Table keyed by a Filter's first
// key (network, device type, device) and second key (event, name). An
// event is matched with three lookups: the global row, the row for its
// network and type with any device, and the row for its exact device.
//
// The Registry wraps a Table with a lock. Mutations reach it only through
// SyncMessages: the Replicator publishes them on the registry sync topic
// and every node, the sender included, applies them on receipt. Apply is
// the pure form of that state machine.
//
// EventBus sits on top and pushes matching events to each subscriber's
// reply topic as streaming RPC responses.
package eventbus
