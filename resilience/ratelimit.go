package resilience

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig bounds the request rate sent to a backend. Object stores
// and hosted Redis tiers throttle or bill per request.
type RateLimiterConfig struct {
	// Rate is the sustained number of backend calls per second. Zero or
	// negative disables limiting.
	Rate float64

	// Burst is how many calls may start back to back.
	// Default: Rate rounded up, at least 1
	Burst int

	// MaxWait is how long a call waits for a token. Zero rejects at once.
	MaxWait time.Duration
}

// RateLimiter is a token bucket in front of backend calls.
type RateLimiter struct {
	limiter *rate.Limiter
	maxWait time.Duration

	waited   atomic.Int64
	rejected atomic.Int64
}

// NewRateLimiter creates a rate limiter. Zero values in cfg select defaults.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, int(math.Ceil(cfg.Rate)))
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(limit, cfg.Burst),
		maxWait: cfg.MaxWait,
	}
}

// Wait takes a token for op, waiting up to MaxWait. A token that cannot be
// had in time yields a *GuardError wrapping ErrRateLimited and is handed
// back to the bucket.
func (r *RateLimiter) Wait(ctx context.Context, op string) error {
	res := r.limiter.Reserve()
	if !res.OK() {
		return r.reject(op)
	}
	delay := res.Delay()
	if delay == 0 {
		return nil
	}
	if delay > r.maxWait {
		res.Cancel()
		return r.reject(op)
	}

	r.waited.Add(1)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		res.Cancel()
		return ctx.Err()
	}
}

// Execute runs fn for op once a token is available.
func (r *RateLimiter) Execute(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := r.Wait(ctx, op); err != nil {
		return err
	}
	return fn(ctx)
}

func (r *RateLimiter) reject(op string) error {
	r.rejected.Add(1)
	return &GuardError{Op: op, Stage: StageRate, Err: ErrRateLimited}
}

// Metrics returns a snapshot of the limiter.
func (r *RateLimiter) Metrics() RateLimiterMetrics {
	return RateLimiterMetrics{
		Tokens:   r.limiter.Tokens(),
		Waited:   r.waited.Load(),
		Rejected: r.rejected.Load(),
	}
}

// RateLimiterMetrics contains rate limiter statistics.
type RateLimiterMetrics struct {
	Tokens   float64
	Waited   int64
	Rejected int64
}
