package dispatch

import (
	"context"
	"sync"
)

// Ring is a bounded multi-producer, multi-consumer queue.
//
// Put blocks while the ring is full. Close stops new puts, waits for
// puts already in progress, then closes the channel returned by C so
// consumers drain whatever is left and exit.
type Ring[T any] struct {
	ch chan T

	mu       sync.Mutex
	closed   bool
	stopping chan struct{}
	inflight sync.WaitGroup
}

// NewRing creates a ring holding at most size items.
func NewRing[T any](size int) *Ring[T] {
	if size < 1 {
		size = 1
	}
	return &Ring[T]{
		ch:       make(chan T, size),
		stopping: make(chan struct{}),
	}
}

// Put enqueues v, blocking while the ring is full.
func (r *Ring[T]) Put(ctx context.Context, v T) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrStopped
	}
	r.inflight.Add(1)
	r.mu.Unlock()
	defer r.inflight.Done()

	select {
	case r.ch <- v:
		return nil
	case <-r.stopping:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPut enqueues v only if there is room.
func (r *Ring[T]) TryPut(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	select {
	case r.ch <- v:
		return true
	default:
		return false
	}
}

// C returns the channel consumers receive from.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Len returns the number of queued items.
func (r *Ring[T]) Len() int {
	return len(r.ch)
}

// Cap returns the ring's capacity.
func (r *Ring[T]) Cap() int {
	return cap(r.ch)
}

// Close rejects further puts and closes C once in-flight puts return.
// Blocked puts are released with ErrStopped. Safe to call more than once.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.stopping)
	r.mu.Unlock()

	r.inflight.Wait()
	close(r.ch)
}
