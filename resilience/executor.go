package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Executor guards calls to one backend. Every call names its backend
// operation so rejections, open circuits and timeouts surface as a
// *GuardError labeled with it.
type Executor struct {
	rateLimiter    *RateLimiter
	bulkhead       *Bulkhead
	circuitBreaker *CircuitBreaker
	retry          *Retry
	timeout        time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates an executor. Without options Execute calls fn directly.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithRateLimiter limits the rate of calls. Each call takes one token,
// however many attempts it makes.
func WithRateLimiter(r *RateLimiter) ExecutorOption {
	return func(e *Executor) { e.rateLimiter = r }
}

// WithBulkhead adds a concurrency limit.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) { e.bulkhead = b }
}

// WithCircuitBreaker adds a circuit breaker.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) { e.circuitBreaker = cb }
}

// WithRetry adds retry with backoff.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) { e.retry = r }
}

// WithTimeout bounds each attempt.
func WithTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = timeout }
}

// Execute runs fn as backend operation op. From outermost to innermost:
// rate limiter, bulkhead, circuit breaker, retry, per-attempt timeout. A
// fully failed retry sequence counts as a single circuit breaker failure.
func (e *Executor) Execute(ctx context.Context, op string, fn func(context.Context) error) error {
	execute := func(ctx context.Context) error {
		return e.attempt(ctx, op, fn)
	}

	if e.retry != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.retry.Execute(ctx, inner)
		}
	}

	if e.circuitBreaker != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			err := e.circuitBreaker.Execute(ctx, inner)
			if errors.Is(err, ErrCircuitOpen) && StageOf(err) == "" {
				return &GuardError{Op: op, Stage: StageCircuit, Err: err}
			}
			return err
		}
	}

	if e.bulkhead != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.bulkhead.Execute(ctx, op, inner)
		}
	}

	if e.rateLimiter != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.rateLimiter.Execute(ctx, op, inner)
		}
	}

	return execute(ctx)
}

// attempt runs fn under the per-attempt deadline. If fn ignores its context,
// attempt still returns at the deadline; fn keeps running in the background
// until it returns on its own.
func (e *Executor) attempt(ctx context.Context, op string, fn func(context.Context) error) error {
	if e.timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return e.timedOut(op)
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return e.timedOut(op)
		}
		return ctx.Err()
	}
}

func (e *Executor) timedOut(op string) error {
	return &GuardError{Op: op, Stage: StageTimeout, Err: fmt.Errorf("%w after %s", ErrTimeout, e.timeout)}
}

// Timeout returns the per-attempt deadline, or zero when attempts are
// unbounded.
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// CircuitState reports the circuit breaker state, or StateClosed when the
// executor has none.
func (e *Executor) CircuitState() State {
	if e.circuitBreaker == nil {
		return StateClosed
	}
	return e.circuitBreaker.State()
}

// CircuitBreaker returns the configured breaker, or nil.
func (e *Executor) CircuitBreaker() *CircuitBreaker {
	return e.circuitBreaker
}

// Bulkhead returns the configured bulkhead, or nil.
func (e *Executor) Bulkhead() *Bulkhead {
	return e.bulkhead
}

// RateLimiter returns the configured rate limiter, or nil.
func (e *Executor) RateLimiter() *RateLimiter {
	return e.rateLimiter
}

// StoreConfig is the file-level configuration of the I/O guard placed in
// front of a persistent cache backend. Zero values select defaults.
type StoreConfig struct {
	// Timeout bounds one backend call. Default: 5s
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts per call, including the first. Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// RetryDelay is the initial backoff. Default: 50ms
	RetryDelay time.Duration `yaml:"retry_delay"`

	// FailureThreshold opens the circuit after this many consecutive failed
	// calls. Default: 5
	FailureThreshold int `yaml:"failure_threshold"`

	// ResetTimeout keeps the circuit open this long. Default: 30s
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// MaxConcurrent bounds in-flight backend calls. Default: 8
	MaxConcurrent int `yaml:"max_concurrent"`

	// MaxWait is how long a call waits for a bulkhead slot or a rate token.
	// Default: Timeout
	MaxWait time.Duration `yaml:"max_wait"`

	// RateLimit caps backend calls per second. Zero disables the limiter.
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the rate limiter's burst. Default: RateLimit rounded up
	RateBurst int `yaml:"rate_burst"`

	// OnStateChange observes circuit transitions.
	OnStateChange func(from, to State) `yaml:"-"`
}

// NewStoreExecutor builds the standard backend guard from cfg.
func NewStoreExecutor(cfg StoreConfig) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = cfg.Timeout
	}

	opts := []ExecutorOption{
		WithBulkhead(NewBulkhead(BulkheadConfig{
			MaxConcurrent: cfg.MaxConcurrent,
			MaxWait:       cfg.MaxWait,
		})),
		WithCircuitBreaker(NewCircuitBreaker(CircuitBreakerConfig{
			MaxFailures:   cfg.FailureThreshold,
			ResetTimeout:  cfg.ResetTimeout,
			OnStateChange: cfg.OnStateChange,
		})),
		WithRetry(NewRetry(RetryConfig{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.RetryDelay,
			Jitter:       true,
		})),
		WithTimeout(cfg.Timeout),
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, WithRateLimiter(NewRateLimiter(RateLimiterConfig{
			Rate:    cfg.RateLimit,
			Burst:   cfg.RateBurst,
			MaxWait: cfg.MaxWait,
		})))
	}
	return NewExecutor(opts...)
}
