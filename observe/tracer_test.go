package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer() (Tracer, *tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return NewTracer(tp.Tracer("test")), recorder, tp
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[string]attribute.Value {
	m := make(map[string]attribute.Value)
	for _, a := range s.Attributes() {
		m[string(a.Key)] = a.Value
	}
	return m
}

func TestScopeMeta_Names(t *testing.T) {
	tests := []struct {
		meta     ScopeMeta
		wantSpan string
		wantID   string
	}{
		{ScopeMeta{Name: "prices"}, "cache.scope.prices", "prices"},
		{ScopeMeta{Name: "prices", Block: "cell-2"}, "cache.scope.prices", "prices/cell-2"},
	}
	for _, tt := range tests {
		if got := tt.meta.SpanName(); got != tt.wantSpan {
			t.Errorf("SpanName() = %q, want %q", got, tt.wantSpan)
		}
		if got := tt.meta.ScopeID(); got != tt.wantID {
			t.Errorf("ScopeID() = %q, want %q", got, tt.wantID)
		}
	}
}

func TestTracer_SpanAttributes(t *testing.T) {
	tr, recorder, _ := newRecordingTracer()
	meta := ScopeMeta{Name: "prices", Mode: "persistent", Block: "cell-1", Key: "00ff"}

	_, span := tr.StartSpan(context.Background(), meta)
	tr.EndSpan(span, OutcomeHit, nil)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Name() != "cache.scope.prices" {
		t.Errorf("span name = %q", s.Name())
	}
	if s.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", s.Status().Code)
	}

	attrs := spanAttrs(s)
	for k, want := range map[string]string{
		"cache.name":    "prices",
		"cache.mode":    "persistent",
		"cache.block":   "cell-1",
		"cache.key":     "00ff",
		"cache.outcome": "hit",
	} {
		if v, ok := attrs[k]; !ok || v.AsString() != want {
			t.Errorf("%s = %v, want %q", k, v.Emit(), want)
		}
	}
	if attrs["cache.error"].AsBool() {
		t.Error("cache.error should be false")
	}
}

func TestTracer_MinimalAttributes(t *testing.T) {
	tr, recorder, _ := newRecordingTracer()

	_, span := tr.StartSpan(context.Background(), ScopeMeta{Name: "bare"})
	tr.EndSpan(span, "", nil)

	attrs := spanAttrs(recorder.Ended()[0])
	for _, k := range []string{"cache.mode", "cache.block", "cache.key", "cache.outcome"} {
		if _, ok := attrs[k]; ok {
			t.Errorf("%s should be absent", k)
		}
	}
}

func TestTracer_ContextPropagation(t *testing.T) {
	tr, recorder, tp := newRecordingTracer()

	parentCtx, parent := tp.Tracer("test").Start(context.Background(), "run")
	_, child := tr.StartSpan(parentCtx, ScopeMeta{Name: "nested"})
	tr.EndSpan(child, OutcomeMiss, nil)
	parent.End()

	var got sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == "cache.scope.nested" {
			got = s
		}
	}
	if got == nil {
		t.Fatal("child span not found")
	}
	if got.Parent().SpanID() != parent.SpanContext().SpanID() {
		t.Error("child span should be parented to the run span")
	}
}

func TestTracer_ErrorRecording(t *testing.T) {
	tr, recorder, _ := newRecordingTracer()

	_, span := tr.StartSpan(context.Background(), ScopeMeta{Name: "failing"})
	tr.EndSpan(span, OutcomeMiss, errors.New("block raised"))

	s := recorder.Ended()[0]
	if s.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", s.Status().Code)
	}
	if !spanAttrs(s)["cache.error"].AsBool() {
		t.Error("cache.error should be true")
	}
	if len(s.Events()) == 0 {
		t.Error("error event should be recorded")
	}
}

func TestNopTracer(t *testing.T) {
	tr := NewNopTracer()
	ctx, span := tr.StartSpan(context.Background(), ScopeMeta{Name: "x"})
	if ctx == nil || span == nil {
		t.Fatal("nop tracer must return usable values")
	}
	tr.EndSpan(span, OutcomeHit, errors.New("ignored"))
}
