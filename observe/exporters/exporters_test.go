package exporters

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestNewTracingExporter_Unknown(t *testing.T) {
	_, err := NewTracingExporter(context.Background(), Options{Name: "jaeger"})
	if !errors.Is(err, ErrUnknownExporter) {
		t.Fatalf("error = %v, want ErrUnknownExporter", err)
	}
}

func TestNewTracingExporter_Stdout(t *testing.T) {
	var buf bytes.Buffer
	exp, err := NewTracingExporter(context.Background(), Options{Name: "stdout", Writer: &buf})
	if err != nil {
		t.Fatalf("NewTracingExporter() error = %v", err)
	}
	if exp == nil {
		t.Fatal("expected non-nil exporter")
	}
}

func TestNewTracingExporter_None(t *testing.T) {
	for _, name := range []string{"none", ""} {
		exp, err := NewTracingExporter(context.Background(), Options{Name: name})
		if err != nil {
			t.Fatalf("NewTracingExporter(%q) error = %v", name, err)
		}
		if exp != nil {
			t.Errorf("NewTracingExporter(%q) = %v, want nil", name, exp)
		}
	}
}

func TestNewTracingExporter_OtlpMissingEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")

	_, err := NewTracingExporter(context.Background(), Options{Name: "otlp"})
	if !errors.Is(err, ErrMissingEndpoint) {
		t.Fatalf("error = %v, want ErrMissingEndpoint", err)
	}
}

func TestNewTracingExporter_OtlpExplicitEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	exp, err := NewTracingExporter(context.Background(), Options{Name: "otlp", Endpoint: "localhost:4317"})
	if err != nil {
		t.Fatalf("NewTracingExporter() error = %v", err)
	}
	if exp == nil {
		t.Fatal("expected non-nil exporter")
	}
	_ = exp.Shutdown(context.Background())
}

func TestNewTracingExporter_OtlpEnvEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4317")

	exp, err := NewTracingExporter(context.Background(), Options{Name: "otlp"})
	if err != nil {
		t.Fatalf("NewTracingExporter() error = %v", err)
	}
	_ = exp.Shutdown(context.Background())
}

func TestNewMetricsReader(t *testing.T) {
	tests := []struct {
		name    string
		wantNil bool
	}{
		{"stdout", false},
		{"prometheus", false},
		{"none", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewMetricsReader(context.Background(), Options{Name: tt.name, Writer: &bytes.Buffer{}})
			if err != nil {
				t.Fatalf("NewMetricsReader() error = %v", err)
			}
			if (reader == nil) != tt.wantNil {
				t.Errorf("reader nil = %v, want %v", reader == nil, tt.wantNil)
			}
		})
	}
}

func TestNewMetricsReader_Unknown(t *testing.T) {
	_, err := NewMetricsReader(context.Background(), Options{Name: "badvalue"})
	if !errors.Is(err, ErrUnknownExporter) {
		t.Fatalf("error = %v, want ErrUnknownExporter", err)
	}
}

func TestNewMetricsReader_OtlpMissingEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")

	_, err := NewMetricsReader(context.Background(), Options{Name: "otlp"})
	if !errors.Is(err, ErrMissingEndpoint) {
		t.Fatalf("error = %v, want ErrMissingEndpoint", err)
	}
}
