package observe

import (
	"context"
	"time"
)

// ExecuteFunc runs one guarded block and reports how it was satisfied.
type ExecuteFunc func(ctx context.Context, meta ScopeMeta) (Outcome, error)

// Middleware wraps guarded blocks with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe ExecuteFunc.
//   - Context: the span context is passed to the wrapped function.
//   - Errors: errors from the wrapped function are recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a Middleware. Nil components are replaced with no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NewNopTracer()
	}
	if metrics == nil {
		metrics = NewNopMetrics()
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// NewNopMiddleware returns a Middleware that records nothing.
func NewNopMiddleware() *Middleware {
	return NewMiddleware(nil, nil, nil)
}

// Logger returns the middleware's logger.
func (m *Middleware) Logger() Logger { return m.logger }

// Metrics returns the middleware's metrics.
func (m *Middleware) Metrics() Metrics { return m.metrics }

// Wrap wraps an ExecuteFunc with tracing, metrics and logging.
func (m *Middleware) Wrap(fn ExecuteFunc) ExecuteFunc {
	return func(ctx context.Context, meta ScopeMeta) (Outcome, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)
		start := time.Now()

		outcome, err := fn(ctx, meta)

		duration := time.Since(start)
		m.tracer.EndSpan(span, outcome, err)
		m.metrics.RecordScope(ctx, meta, outcome, duration, err)

		fields := []Field{
			{Key: "outcome", Value: string(outcome)},
			{Key: "duration_ms", Value: float64(duration) / float64(time.Millisecond)},
		}
		scopeLogger := m.logger.WithScope(meta)
		if err != nil {
			fields = append(fields, Field{Key: "error", Value: err.Error()})
			scopeLogger.Error(ctx, "cache scope failed", fields...)
		} else {
			scopeLogger.Debug(ctx, "cache scope completed", fields...)
		}

		return outcome, err
	}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}
