// Package observability provides metrics, structured logging, tracing, and
// a per-run event timeline for the run orchestrator.
//
// Metrics are Prometheus collectors under the loom_ namespace covering run
// lifecycle, provider latency, token usage, tool execution, and frame
// broadcast counts. Logging wraps log/slog with sensitive-value redaction
// and automatic extraction of run, thread, channel, and tenant IDs from the
// context. Tracing uses OpenTelemetry with an OTLP gRPC exporter and falls
// back to a no-op tracer when no endpoint is configured. The timeline
// records run lifecycle events so they can be stored on the run record when
// it reaches a terminal status.
package observability
