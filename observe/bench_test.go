package observe

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"
)

func BenchmarkLogger_Info(b *testing.B) {
	logger := NewLoggerWithWriter("info", io.Discard)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info(ctx, "benchmark message", Field{Key: "iteration", Value: i})
	}
}

func BenchmarkLogger_WithScope_ThenLog(b *testing.B) {
	logger := NewLoggerWithWriter("info", io.Discard)
	ctx := context.Background()
	meta := ScopeMeta{Name: "bench", Mode: "bounded", Block: "cell-1"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.WithScope(meta).Info(ctx, "scope", Field{Key: "iteration", Value: i})
	}
}

// BenchmarkLogger_LevelFiltering measures the cost of dropped entries.
func BenchmarkLogger_LevelFiltering(b *testing.B) {
	logger := NewLoggerWithWriter("error", io.Discard)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Debug(ctx, "filtered debug")
		logger.Info(ctx, "filtered info")
		logger.Warn(ctx, "filtered warn")
	}
}

func BenchmarkTracer_StartEndSpan(b *testing.B) {
	tracer := NewNopTracer()
	ctx := context.Background()
	meta := ScopeMeta{Name: "bench"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, span := tracer.StartSpan(ctx, meta)
		tracer.EndSpan(span, OutcomeHit, nil)
	}
}

func BenchmarkMetrics_RecordScope(b *testing.B) {
	ctx := context.Background()
	obs, err := NewObserver(ctx, Config{
		ServiceName: "bench",
		Metrics:     MetricsConfig{Enabled: true, Exporter: "none"},
	})
	if err != nil {
		b.Fatalf("failed to create observer: %v", err)
	}
	defer obs.Shutdown(ctx)

	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		b.Fatalf("failed to create metrics: %v", err)
	}
	meta := ScopeMeta{Name: "bench", Mode: "bounded"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		metrics.RecordScope(ctx, meta, OutcomeHit, time.Millisecond, nil)
	}
}

func BenchmarkConcurrent_Middleware(b *testing.B) {
	ctx := context.Background()
	obs, err := NewObserver(ctx, Config{
		ServiceName: "bench",
		Tracing:     TracingConfig{Enabled: true, Exporter: "none"},
		Metrics:     MetricsConfig{Enabled: true, Exporter: "none"},
	})
	if err != nil {
		b.Fatalf("failed to create observer: %v", err)
	}
	defer obs.Shutdown(ctx)

	mw, err := MiddlewareFromObserver(obs)
	if err != nil {
		b.Fatalf("failed to create middleware: %v", err)
	}
	wrapped := mw.Wrap(func(context.Context, ScopeMeta) (Outcome, error) {
		return OutcomeHit, nil
	})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = wrapped(ctx, ScopeMeta{Name: fmt.Sprintf("scope_%d", i%100)})
			i++
		}
	})
}
