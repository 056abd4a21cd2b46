package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/nerrad567/hivelink/internal/broker"
	"github.com/nerrad567/hivelink/internal/infrastructure/config"
)

// Client is a broker.Broker backed by Kafka.
//
// A single kgo client produces and issues admin requests; each
// subscription runs its own consumer client and poll loop.
type Client struct {
	cfg      config.KafkaConfig
	producer *kgo.Client

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool

	loggerMu sync.RWMutex
	logger   broker.Logger
}

type subscription struct {
	owner   *Client
	topic   string
	group   string
	client  *kgo.Client
	handler broker.Handler
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Connect creates the producer client and verifies the seed brokers respond.
func Connect(ctx context.Context, cfg config.KafkaConfig) (*Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = defaultPartitions
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = defaultReplicationFactor
	}

	producer, err := kgo.NewClient(baseOpts(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := producer.Ping(pingCtx); err != nil {
		producer.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return &Client{
		cfg:      cfg,
		producer: producer,
		subs:     make(map[*subscription]struct{}),
		logger:   broker.NoopLogger{},
	}, nil
}

// SetLogger sets the logger used for poll and handler failures.
func (c *Client) SetLogger(logger broker.Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() broker.Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// CreateTopic creates the topic with the configured partition count and
// replication factor. An existing topic is not an error.
func (c *Client) CreateTopic(ctx context.Context, name string) error {
	if name == "" {
		return ErrInvalidTopic
	}

	req := kmsg.NewPtrCreateTopicsRequest()
	req.TimeoutMillis = int32(defaultCreateTopicTimeout.Milliseconds())
	rt := kmsg.NewCreateTopicsRequestTopic()
	rt.Topic = TopicName(name)
	rt.NumPartitions = int32(c.cfg.Partitions)
	rt.ReplicationFactor = int16(c.cfg.ReplicationFactor)
	req.Topics = append(req.Topics, rt)

	resp, err := req.RequestWith(ctx, c.producer)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCreateTopicFailed, name, err)
	}
	return topicResult(name, resp)
}

// topicResult interprets a CreateTopics response for a single topic.
func topicResult(name string, resp *kmsg.CreateTopicsResponse) error {
	for _, t := range resp.Topics {
		if t.Topic != TopicName(name) {
			continue
		}
		err := kerr.ErrorForCode(t.ErrorCode)
		if err == nil || errors.Is(err, kerr.TopicAlreadyExists) {
			return nil
		}
		return fmt.Errorf("%w: %s: %w", ErrCreateTopicFailed, name, err)
	}
	return fmt.Errorf("%w: %s: missing from response", ErrCreateTopicFailed, name)
}

// Subscribe starts a consumer for topic. A non-empty group joins the Kafka
// consumer group of that name.
func (c *Client) Subscribe(ctx context.Context, topic, group string, handler broker.Handler) (broker.Subscription, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	if handler == nil {
		return nil, broker.ErrNilHandler
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	consumer, err := kgo.NewClient(consumerOpts(c.cfg, topic, group)...)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer for %s: %w", topic, err)
	}

	// The poll loop outlives the Subscribe call, so it does not inherit ctx.
	pollCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		owner:   c,
		topic:   topic,
		group:   group,
		client:  consumer,
		handler: handler,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.subs[sub] = struct{}{}
	go sub.poll(pollCtx)

	return sub, nil
}

// Publish produces a keyed record and waits for the broker acknowledgement.
func (c *Client) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	rec := &kgo.Record{Topic: TopicName(topic), Value: payload}
	if key != "" {
		rec.Key = []byte(key)
	}
	if err := c.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Close stops every subscription and the producer.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]*subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	c.producer.Close()
	return nil
}

// HealthCheck pings the cluster.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.producer.Ping(ctx); err != nil {
		return fmt.Errorf("kafka health check: %w", err)
	}
	return nil
}

func (s *subscription) poll(ctx context.Context) {
	defer close(s.done)
	logger := s.owner.getLogger()

	for {
		fetches := s.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			logger.Warn("kafka fetch error", "topic", topic, "partition", partition, "error", err)
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			s.handleRecord(ctx, rec)
		})
	}
}

// handleRecord converts a record and runs the handler with panic recovery.
func (s *subscription) handleRecord(ctx context.Context, rec *kgo.Record) {
	logger := s.owner.getLogger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in kafka handler", "topic", s.topic, "panic", r)
		}
	}()

	msg := broker.Message{Topic: s.topic, Key: string(rec.Key), Value: rec.Value}
	if err := s.handler(ctx, msg); err != nil {
		logger.Warn("kafka handler failed",
			"topic", s.topic,
			"partition", rec.Partition,
			"offset", rec.Offset,
			"error", err,
		)
	}
}

// Unsubscribe stops the poll loop and closes the consumer, leaving the group.
func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		s.client.Close()
		<-s.done

		s.owner.mu.Lock()
		delete(s.owner.subs, s)
		s.owner.mu.Unlock()
	})
	return nil
}

// Compile-time interface check.
var _ broker.Broker = (*Client)(nil)
