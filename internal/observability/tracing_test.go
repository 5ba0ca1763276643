package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestNewTracer(t *testing.T) {
	tests := []struct {
		name   string
		config TraceConfig
	}{
		{
			name: "without endpoint (no-op)",
			config: TraceConfig{
				ServiceName:    "loom-test",
				ServiceVersion: "0.0.1",
			},
		},
		{
			name: "with endpoint",
			config: TraceConfig{
				ServiceName:    "loom-test",
				Endpoint:       "localhost:4317",
				EnableInsecure: true,
			},
		},
		{
			name: "with sampling",
			config: TraceConfig{
				ServiceName:  "loom-test",
				Endpoint:     "localhost:4317",
				SamplingRate: 0.25,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, shutdown := NewTracer(tt.config)
			defer func() { _ = shutdown(context.Background()) }()

			if tracer == nil {
				t.Fatal("NewTracer() returned nil tracer")
			}

			ctx, span := tracer.Start(context.Background(), "run.execute",
				attribute.String("run.id", "run-1"))
			if span == nil {
				t.Fatal("Start() returned nil span")
			}
			tracer.SetAttributes(span, "run.status", "completed", "run.steps", 3)
			tracer.RecordError(span, errors.New("boom"))
			span.End()

			if ctx == nil {
				t.Fatal("Start() returned nil context")
			}
		})
	}
}

func TestTracerNilSafety(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.Start(context.Background(), "noop")
	tracer.RecordError(span, nil)
	tracer.SetAttributes(span, "dangling-key")
	span.End()
}
