package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// BulkheadConfig bounds concurrent calls against one backend.
type BulkheadConfig struct {
	// MaxConcurrent is the number of backend calls allowed in flight.
	// Default: 8
	MaxConcurrent int

	// MaxWait is how long a call queues for a slot. Zero rejects at once.
	MaxWait time.Duration
}

// Bulkhead caps in-flight backend calls so a stalled store cannot pile up
// goroutines behind it. Rejections are counted per backend operation.
type Bulkhead struct {
	limit   int
	maxWait time.Duration
	sem     *semaphore.Weighted

	mu       sync.Mutex
	active   int
	peak     int
	rejected map[string]int64
}

// NewBulkhead creates a bulkhead. Zero values in cfg select defaults.
func NewBulkhead(cfg BulkheadConfig) *Bulkhead {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	return &Bulkhead{
		limit:    cfg.MaxConcurrent,
		maxWait:  cfg.MaxWait,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		rejected: make(map[string]int64),
	}
}

// Acquire takes a slot for op, queueing up to MaxWait. A full bulkhead
// yields a *GuardError wrapping ErrBulkheadFull; a canceled ctx yields
// ctx.Err().
func (b *Bulkhead) Acquire(ctx context.Context, op string) error {
	if b.sem.TryAcquire(1) {
		b.enter()
		return nil
	}
	if b.maxWait <= 0 {
		return b.reject(op)
	}

	wctx, cancel := context.WithTimeout(ctx, b.maxWait)
	defer cancel()
	if err := b.sem.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return b.reject(op)
	}
	b.enter()
	return nil
}

// Release returns a slot taken by Acquire. Extra calls are ignored.
func (b *Bulkhead) Release() {
	b.mu.Lock()
	if b.active == 0 {
		b.mu.Unlock()
		return
	}
	b.active--
	b.mu.Unlock()
	b.sem.Release(1)
}

// Execute runs fn for op while holding a slot.
func (b *Bulkhead) Execute(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := b.Acquire(ctx, op); err != nil {
		return err
	}
	defer b.Release()
	return fn(ctx)
}

func (b *Bulkhead) enter() {
	b.mu.Lock()
	b.active++
	b.peak = max(b.peak, b.active)
	b.mu.Unlock()
}

func (b *Bulkhead) reject(op string) error {
	b.mu.Lock()
	b.rejected[op]++
	b.mu.Unlock()
	return &GuardError{Op: op, Stage: StageBulkhead, Err: ErrBulkheadFull}
}

// Metrics returns a snapshot of the bulkhead.
func (b *Bulkhead) Metrics() BulkheadMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := BulkheadMetrics{
		Active:        b.active,
		Peak:          b.peak,
		Available:     b.limit - b.active,
		MaxConcurrent: b.limit,
		RejectedByOp:  make(map[string]int64, len(b.rejected)),
	}
	for op, n := range b.rejected {
		m.Rejected += n
		m.RejectedByOp[op] = n
	}
	return m
}

// BulkheadMetrics contains bulkhead statistics.
type BulkheadMetrics struct {
	Active        int
	Peak          int
	Available     int
	MaxConcurrent int
	Rejected      int64
	RejectedByOp  map[string]int64
}
