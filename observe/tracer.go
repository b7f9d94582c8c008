package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// ScopeMeta describes one guarded block for telemetry purposes.
type ScopeMeta struct {
	Name  string // Controller name (required)
	Mode  string // ephemeral|bounded|persistent
	Key   string // Hex fingerprint, empty before fingerprinting
	Block string // Notebook block identifier (optional)
}

// SpanName returns the deterministic span name for this scope.
// Format: cache.scope.<name>
func (m ScopeMeta) SpanName() string {
	return "cache.scope." + m.Name
}

// ScopeID identifies the scope in logs: <name>/<block> or just <name>.
func (m ScopeMeta) ScopeID() string {
	if m.Block != "" {
		return m.Name + "/" + m.Block
	}
	return m.Name
}

// Outcome is the result class of one guarded block.
type Outcome string

const (
	OutcomeHit         Outcome = "hit"
	OutcomeMiss        Outcome = "miss"
	OutcomePassthrough Outcome = "passthrough"
)

// Tracer wraps OpenTelemetry tracing with scope-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a span for a guarded block.
	StartSpan(ctx context.Context, meta ScopeMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording the outcome and any error.
	EndSpan(span trace.Span, outcome Outcome, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta ScopeMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("cache.name", meta.Name),
		attribute.Bool("cache.error", false),
	}
	if meta.Mode != "" {
		attrs = append(attrs, attribute.String("cache.mode", meta.Mode))
	}
	if meta.Block != "" {
		attrs = append(attrs, attribute.String("cache.block", meta.Block))
	}
	if meta.Key != "" {
		attrs = append(attrs, attribute.String("cache.key", meta.Key))
	}

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, outcome Outcome, err error) {
	if outcome != "" {
		span.SetAttributes(attribute.String("cache.outcome", string(outcome)))
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("cache.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

// NewNopTracer returns a Tracer whose spans are never recorded.
func NewNopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta ScopeMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, _ Outcome, _ error) {
	span.End()
}
