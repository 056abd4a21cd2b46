package rpc

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/nerrad567/hivelink/internal/infrastructure/metrics"
)

// Callback receives the responses of one call or subscription stream.
// For calls, err is non-nil only on the synthesized terminal completion
// (timeout, transport loss, close).
type Callback func(resp Response, err error)

const matcherShards = 32

// Matcher correlates responses with outstanding calls and subscription
// listeners. Its state is sharded by correlation id hash so concurrent
// calls rarely contend on the same lock.
type Matcher struct {
	shards  [matcherShards]matcherShard
	metrics *metrics.Metrics
}

type matcherShard struct {
	mu        sync.Mutex
	pending   map[string]*pendingCall
	listeners map[string]Callback
}

type pendingCall struct {
	cb    Callback
	timer *time.Timer
}

// NewMatcher returns an empty matcher.
func NewMatcher() *Matcher {
	m := &Matcher{}
	for i := range m.shards {
		m.shards[i].pending = make(map[string]*pendingCall)
		m.shards[i].listeners = make(map[string]Callback)
	}
	return m
}

// SetMetrics attaches collectors. Nil disables them.
func (m *Matcher) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
}

func (m *Matcher) shard(id string) *matcherShard {
	h := fnv.New32a()
	h.Write([]byte(id)) //nolint:errcheck // hash writes never fail
	return &m.shards[h.Sum32()%matcherShards]
}

// Add registers a pending call. If no terminal response arrives within
// timeout, cb is completed with ErrTimeout. Re-adding an id that is
// still pending replaces the earlier call without completing it.
func (m *Matcher) Add(id string, cb Callback, timeout time.Duration) {
	s := m.shard(id)
	pc := &pendingCall{cb: cb}

	s.mu.Lock()
	if old, ok := s.pending[id]; ok {
		old.timer.Stop()
	} else {
		m.metrics.AddPendingCalls(1)
	}
	s.pending[id] = pc
	pc.timer = time.AfterFunc(timeout, func() { m.expire(id, pc) })
	s.mu.Unlock()
}

// Offer routes a response to its pending call or listener.
// It returns false when nothing is waiting for the id; such responses
// are dropped.
func (m *Matcher) Offer(resp Response) bool {
	s := m.shard(resp.CorrelationID)

	s.mu.Lock()
	if pc, ok := s.pending[resp.CorrelationID]; ok {
		if resp.Last {
			delete(s.pending, resp.CorrelationID)
			pc.timer.Stop()
		}
		s.mu.Unlock()
		if resp.Last {
			m.metrics.AddPendingCalls(-1)
		}
		pc.cb(resp, nil)
		return true
	}
	if cb, ok := s.listeners[resp.CorrelationID]; ok {
		s.mu.Unlock()
		cb(resp, nil)
		return true
	}
	s.mu.Unlock()

	m.metrics.IncLateResponses()
	return false
}

// Cancel forgets a pending call without completing it.
func (m *Matcher) Cancel(id string) bool {
	s := m.shard(id)
	s.mu.Lock()
	pc, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
		pc.timer.Stop()
	}
	s.mu.Unlock()
	if ok {
		m.metrics.AddPendingCalls(-1)
	}
	return ok
}

// Listen routes responses carrying subscriptionID to cb until
// StopListening is called.
func (m *Matcher) Listen(subscriptionID string, cb Callback) {
	s := m.shard(subscriptionID)
	s.mu.Lock()
	s.listeners[subscriptionID] = cb
	s.mu.Unlock()
}

// StopListening removes a subscription listener.
func (m *Matcher) StopListening(subscriptionID string) {
	s := m.shard(subscriptionID)
	s.mu.Lock()
	delete(s.listeners, subscriptionID)
	s.mu.Unlock()
}

// Pending returns the number of outstanding calls.
func (m *Matcher) Pending() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.pending)
		s.mu.Unlock()
	}
	return n
}

// FailAll completes every pending call with err. Listeners are kept.
func (m *Matcher) FailAll(err error) int {
	type failed struct {
		id string
		pc *pendingCall
	}
	var calls []failed
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for id, pc := range s.pending {
			pc.timer.Stop()
			calls = append(calls, failed{id: id, pc: pc})
		}
		clear(s.pending)
		s.mu.Unlock()
	}

	m.metrics.AddPendingCalls(-len(calls))
	code := CodeOf(err)
	for _, c := range calls {
		c.pc.cb(Response{CorrelationID: c.id, Last: true, ErrorCode: code, ErrorMessage: err.Error()}, err)
	}
	return len(calls)
}

// expire completes pc with a timeout if it is still the pending call for id.
func (m *Matcher) expire(id string, pc *pendingCall) {
	s := m.shard(id)
	s.mu.Lock()
	if s.pending[id] != pc {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	s.mu.Unlock()

	m.metrics.AddPendingCalls(-1)
	m.metrics.IncCallTimeouts()
	pc.cb(Response{
		CorrelationID: id,
		Last:          true,
		ErrorCode:     CodeTimeout,
		ErrorMessage:  ErrTimeout.Error(),
	}, ErrTimeout)
}
