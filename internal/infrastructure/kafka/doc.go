// Package kafka implements broker.Broker on Apache Kafka using franz-go.
//
// Topic names are mapped from HiveLink's "/"-separated form to "."-separated
// Kafka names (hivelink/rpc/request becomes hivelink.rpc.request). Records
// are produced with the routing key as the Kafka key, so the default
// partitioner keeps per-device ordering.
//
// Each Subscribe call owns a dedicated kgo consumer. Grouped subscriptions
// join a Kafka consumer group; private subscriptions read every partition
// directly, starting at the end of the log.
package kafka
