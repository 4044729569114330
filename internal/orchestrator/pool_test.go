package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	ctx := context.Background()
	pool, err := NewPool(ctx, 1, 4)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	var inFlight int32
	var maxSeen int32
	for i := 0; i < 20; i++ {
		err := pool.Submit(ctx, func() error {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	if err := pool.Join(); err != nil {
		t.Fatalf("Join: %v", err)
	}

	if maxSeen > 4 {
		t.Errorf("expected at most 4 concurrent tasks, saw %d", maxSeen)
	}
}

func TestPoolRecoversFromPanic(t *testing.T) {
	ctx := context.Background()
	pool, err := NewPool(ctx, 1, 2)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	if err := pool.Submit(ctx, func() error {
		panic("boom")
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := pool.Join(); err == nil {
		t.Error("expected Join to surface the recovered panic as an error")
	}
}

func TestNewPoolRejectsInvalidBounds(t *testing.T) {
	ctx := context.Background()
	if _, err := NewPool(ctx, 0, 4); err == nil {
		t.Error("expected error for min=0")
	}
	if _, err := NewPool(ctx, 5, 4); err == nil {
		t.Error("expected error for min>max")
	}
}
