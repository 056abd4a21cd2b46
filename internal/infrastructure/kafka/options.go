package kafka

import (
	"crypto/tls"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/nerrad567/hivelink/internal/infrastructure/config"
)

const (
	// defaultPingTimeout bounds the connectivity check in Connect.
	defaultPingTimeout = 10 * time.Second

	// defaultCreateTopicTimeout is passed to the broker on CreateTopics.
	defaultCreateTopicTimeout = 15 * time.Second

	// defaultPartitions is used when kafka.partitions is unset.
	defaultPartitions = 12

	// defaultReplicationFactor is used when kafka.replication_factor is unset.
	defaultReplicationFactor = 1
)

// TopicName maps a HiveLink topic to a legal Kafka topic name.
func TopicName(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

// baseOpts builds the options shared by producer and consumer clients.
func baseOpts(cfg config.KafkaConfig) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}
	return opts
}

// consumerOpts builds options for a subscription consumer.
// An empty group reads every partition directly.
func consumerOpts(cfg config.KafkaConfig, topic, group string) []kgo.Opt {
	opts := baseOpts(cfg)
	opts = append(opts,
		kgo.ConsumeTopics(TopicName(topic)),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)
	if wait := cfg.FetchMaxWait(); wait > 0 {
		opts = append(opts, kgo.FetchMaxWait(wait))
	}
	if group != "" {
		opts = append(opts, kgo.ConsumerGroup(group))
	}
	return opts
}
