// Package broker defines the message broker contract that the HiveLink RPC
// transport, registry replication and bridge gateway are written against.
//
// Three implementations satisfy Broker:
//   - mqtt.Broker (internal/infrastructure/mqtt) over Mosquitto, using shared
//     subscriptions ($share/{group}/...) for consumer groups
//   - kafka.Client (internal/infrastructure/kafka) with keyed partitions
//   - Memory (this package), an in-process broker with the same partition
//     and group semantics, used for single-node deployments and tests
//
// The bridge.Client (internal/bridge) also implements Broker, multiplexing
// the operations over a websocket to a backend-hosted gateway.
//
// # Semantics
//
//   - Subscriptions sharing (topic, group) split the traffic between them.
//   - An empty group is a private subscription that receives every message.
//   - Messages with the same key are delivered in publish order to a
//     single member of each group.
package broker
