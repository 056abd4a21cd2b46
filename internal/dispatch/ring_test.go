package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRing_PutAndDrain(t *testing.T) {
	r := NewRing[int](3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := r.Put(ctx, i); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	if r.Len() != 3 || r.Cap() != 3 {
		t.Errorf("Len()/Cap() = %d/%d, want 3/3", r.Len(), r.Cap())
	}

	r.Close()
	var got []int
	for v := range r.C() {
		got = append(got, v)
	}
	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Errorf("drained = %v", got)
	}
}

func TestRing_Backpressure(t *testing.T) {
	r := NewRing[int](1)
	if err := r.Put(context.Background(), 1); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if r.TryPut(2) {
		t.Error("TryPut() on full ring = true")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Put(ctx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Put() on full ring error = %v, want DeadlineExceeded", err)
	}
}

func TestRing_CloseReleasesBlockedPut(t *testing.T) {
	r := NewRing[int](1)
	_ = r.Put(context.Background(), 1)

	errc := make(chan error, 1)
	go func() { errc <- r.Put(context.Background(), 2) }()
	time.Sleep(20 * time.Millisecond)

	go r.Close()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("blocked Put() error = %v, want ErrStopped", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Put() not released by Close()")
	}

	if err := r.Put(context.Background(), 3); !errors.Is(err, ErrStopped) {
		t.Errorf("Put() after Close() error = %v, want ErrStopped", err)
	}
	if r.TryPut(3) {
		t.Error("TryPut() after Close() = true")
	}
	r.Close()
}
