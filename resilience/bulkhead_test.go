package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewBulkhead_Default(t *testing.T) {
	if got := NewBulkhead(BulkheadConfig{}).Metrics().MaxConcurrent; got != 8 {
		t.Errorf("MaxConcurrent = %d, want 8", got)
	}
}

func TestBulkhead_AcquireRelease(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.Acquire(ctx, "read"); err != nil {
			t.Fatalf("Acquire() #%d error = %v", i+1, err)
		}
	}

	err := b.Acquire(ctx, "write")
	var gerr *GuardError
	if !errors.As(err, &gerr) || !errors.Is(err, ErrBulkheadFull) {
		t.Fatalf("Acquire() when full = %v, want GuardError wrapping ErrBulkheadFull", err)
	}
	if gerr.Op != "write" || gerr.Stage != StageBulkhead {
		t.Errorf("GuardError = %+v, want write/bulkhead", gerr)
	}

	b.Release()
	if err := b.Acquire(ctx, "read"); err != nil {
		t.Errorf("Acquire() after release = %v", err)
	}

	m := b.Metrics()
	if m.Active != 2 || m.Peak != 2 || m.Available != 0 || m.Rejected != 1 {
		t.Errorf("metrics = %+v", m)
	}
	if m.RejectedByOp["write"] != 1 || m.RejectedByOp["read"] != 0 {
		t.Errorf("RejectedByOp = %v, want one write rejection", m.RejectedByOp)
	}
}

func TestBulkhead_WaitsForSlot(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxWait: time.Second})
	if err := b.Acquire(context.Background(), "read"); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Release()
	}()

	if err := b.Acquire(context.Background(), "read"); err != nil {
		t.Errorf("Acquire() error = %v", err)
	}
}

func TestBulkhead_WaitTimesOut(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxWait: 10 * time.Millisecond})
	_ = b.Acquire(context.Background(), "list")

	if err := b.Acquire(context.Background(), "list"); StageOf(err) != StageBulkhead {
		t.Errorf("Acquire() error = %v, want bulkhead rejection", err)
	}
}

func TestBulkhead_WaitCanceled(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxWait: time.Second})
	_ = b.Acquire(context.Background(), "read")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Acquire(ctx, "read"); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
	if b.Metrics().Rejected != 0 {
		t.Error("cancellation is not a rejection")
	}
}

func TestBulkhead_ReleaseWithoutAcquire(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	b.Release()
	if m := b.Metrics(); m.Active != 0 || m.Available != 1 {
		t.Errorf("metrics = %+v, want one free slot", m)
	}
	if err := b.Acquire(context.Background(), "read"); err != nil {
		t.Errorf("Acquire() error = %v", err)
	}
}

func TestBulkhead_ExecuteLimitsConcurrency(t *testing.T) {
	const limit = 3
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: limit, MaxWait: time.Second})

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), "write", func(context.Context) error {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if peak.Load() > limit {
		t.Errorf("peak concurrency = %d, want <= %d", peak.Load(), limit)
	}
	if got := b.Metrics().Peak; got > limit {
		t.Errorf("Peak = %d, want <= %d", got, limit)
	}
}
