package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// partitionBuffer bounds each partition queue. A full queue blocks Publish.
const partitionBuffer = 256

// Memory is an in-process Broker.
//
// Each (topic, group) pair owns a fixed set of partitions, each drained by a
// single goroutine, so messages sharing a key are handled in publish order.
// Partition p is served by member p mod len(members).
type Memory struct {
	partitions int
	logger     Logger

	mu     sync.Mutex
	topics map[string]map[string]*memGroup
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	privateSeq atomic.Uint64
	roundRobin atomic.Uint64
}

type memGroup struct {
	name   string
	parts  []chan Message
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	members []*memSubscription
}

type memSubscription struct {
	broker  *Memory
	topic   string
	group   *memGroup
	handler Handler
	once    sync.Once
}

// NewMemory creates an in-process broker with the given partition count.
// A count below 1 uses DefaultPartitions.
func NewMemory(partitions int) *Memory {
	if partitions < 1 {
		partitions = DefaultPartitions
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Memory{
		partitions: partitions,
		logger:     NoopLogger{},
		topics:     make(map[string]map[string]*memGroup),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetLogger sets the logger used for handler failures.
func (m *Memory) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// CreateTopic registers a topic. Publishing also creates topics implicitly.
func (m *Memory) CreateTopic(_ context.Context, name string) error {
	if name == "" {
		return ErrInvalidTopic
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.topics[name]; !ok {
		m.topics[name] = make(map[string]*memGroup)
	}
	return nil
}

// Subscribe registers handler on topic within group.
func (m *Memory) Subscribe(ctx context.Context, topic, group string, handler Handler) (Subscription, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	groups, ok := m.topics[topic]
	if !ok {
		groups = make(map[string]*memGroup)
		m.topics[topic] = groups
	}

	name := group
	if name == "" {
		name = fmt.Sprintf("~private-%d", m.privateSeq.Add(1))
	}

	g, ok := groups[name]
	if !ok {
		g = m.startGroup(name)
		groups[name] = g
	}

	sub := &memSubscription{broker: m, topic: topic, group: g, handler: handler}
	g.mu.Lock()
	g.members = append(g.members, sub)
	g.mu.Unlock()

	return sub, nil
}

// Publish routes payload to one partition of every group on topic.
// With no subscribers the message is dropped.
func (m *Memory) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	groups, ok := m.topics[topic]
	if !ok {
		groups = make(map[string]*memGroup)
		m.topics[topic] = groups
	}
	targets := make([]*memGroup, 0, len(groups))
	for _, g := range groups {
		targets = append(targets, g)
	}
	m.mu.Unlock()

	p := m.partitionFor(key)
	msg := Message{Topic: topic, Key: key, Value: payload}
	for _, g := range targets {
		select {
		case g.parts[p] <- msg:
		case <-g.ctx.Done():
			// Group went away mid-publish.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops every partition goroutine and rejects further operations.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.topics = make(map[string]map[string]*memGroup)
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	return nil
}

func (m *Memory) partitionFor(key string) int {
	if key == "" {
		return int(m.roundRobin.Add(1) % uint64(m.partitions))
	}
	return PartitionFor(key, m.partitions)
}

// startGroup must be called with m.mu held.
func (m *Memory) startGroup(name string) *memGroup {
	ctx, cancel := context.WithCancel(m.ctx)
	g := &memGroup{
		name:   name,
		parts:  make([]chan Message, m.partitions),
		ctx:    ctx,
		cancel: cancel,
	}
	for p := range g.parts {
		g.parts[p] = make(chan Message, partitionBuffer)
	}
	for p := range g.parts {
		m.wg.Add(1)
		go m.runPartition(g, p)
	}
	return g
}

func (m *Memory) runPartition(g *memGroup, p int) {
	defer m.wg.Done()
	for {
		select {
		case <-g.ctx.Done():
			return
		case msg := <-g.parts[p]:
			if sub := g.memberFor(p); sub != nil {
				m.deliver(g.ctx, sub, msg)
			}
		}
	}
}

// deliver runs the handler, recovering from panics so one bad message
// cannot take down the partition.
func (m *Memory) deliver(ctx context.Context, sub *memSubscription, msg Message) {
	m.mu.Lock()
	logger := m.logger
	m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in broker handler", "topic", msg.Topic, "panic", r)
		}
	}()
	if err := sub.handler(ctx, msg); err != nil {
		logger.Warn("broker handler failed", "topic", msg.Topic, "key", msg.Key, "error", err)
	}
}

func (g *memGroup) memberFor(p int) *memSubscription {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.members) == 0 {
		return nil
	}
	return g.members[p%len(g.members)]
}

// Unsubscribe removes the member. The group is torn down when it empties.
func (s *memSubscription) Unsubscribe() error {
	s.once.Do(func() {
		m := s.broker
		m.mu.Lock()
		defer m.mu.Unlock()

		g := s.group
		g.mu.Lock()
		for i, member := range g.members {
			if member == s {
				g.members = append(g.members[:i], g.members[i+1:]...)
				break
			}
		}
		empty := len(g.members) == 0
		g.mu.Unlock()

		if empty {
			g.cancel()
			if groups, ok := m.topics[s.topic]; ok && groups[g.name] == g {
				delete(groups, g.name)
			}
		}
	})
	return nil
}

// Compile-time interface check.
var _ Broker = (*Memory)(nil)
