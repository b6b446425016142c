package driver

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsSubmittedWork(t *testing.T) {
	p := NewPool(2)
	var n int32
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		p.Submit(func(ctx context.Context) {
			if atomic.AddInt32(&n, 1) == 5 {
				close(done)
			}
		})
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for submitted work")
	}
	p.Shutdown()
	if atomic.LoadInt32(&n) != 5 {
		t.Fatalf("expected 5 completions, got %d", n)
	}
}
