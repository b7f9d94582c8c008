package observe

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records cache scope metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordScope records one guarded block with its outcome and duration.
	RecordScope(ctx context.Context, meta ScopeMeta, outcome Outcome, duration time.Duration, err error)

	// RecordStoreError records a failed store operation (get, put, lookup).
	RecordStoreError(ctx context.Context, meta ScopeMeta, op string, err error)
}

type metricsImpl struct {
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	storeErrors  metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewMetrics creates the cache instruments on the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	totalCount, err := meter.Int64Counter(
		"cache.scope.total",
		metric.WithDescription("Total number of guarded blocks"),
		metric.WithUnit("{scope}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"cache.scope.errors",
		metric.WithDescription("Guarded blocks that ended with an error"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	storeErrors, err := meter.Int64Counter(
		"cache.store.errors",
		metric.WithDescription("Failed store operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"cache.scope.duration_ms",
		metric.WithDescription("Guarded block duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		totalCount:   totalCount,
		errorCount:   errorCount,
		storeErrors:  storeErrors,
		durationHist: durationHist,
	}, nil
}

func scopeAttrs(meta ScopeMeta) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("cache.name", meta.Name),
	}
	if meta.Mode != "" {
		attrs = append(attrs, attribute.String("cache.mode", meta.Mode))
	}
	return attrs
}

func (m *metricsImpl) RecordScope(ctx context.Context, meta ScopeMeta, outcome Outcome, duration time.Duration, err error) {
	attrs := append(scopeAttrs(meta), attribute.String("cache.outcome", string(outcome)))
	opt := metric.WithAttributes(attrs...)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration)/float64(time.Millisecond), opt)
}

func (m *metricsImpl) RecordStoreError(ctx context.Context, meta ScopeMeta, op string, err error) {
	attrs := append(scopeAttrs(meta), attribute.String("cache.op", op))
	var staged interface{ GuardStage() string }
	if errors.As(err, &staged) {
		attrs = append(attrs, attribute.String("cache.guard", staged.GuardStage()))
	}
	m.storeErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

type noopMetrics struct{}

// NewNopMetrics returns Metrics that record nothing.
func NewNopMetrics() Metrics {
	return noopMetrics{}
}

func (noopMetrics) RecordScope(context.Context, ScopeMeta, Outcome, time.Duration, error) {}
func (noopMetrics) RecordStoreError(context.Context, ScopeMeta, string, error)             {}
