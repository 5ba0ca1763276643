package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the centralized Prometheus instrumentation surface.
//
// Tracked series:
//   - Run throughput and outcomes (completed, failed, cancelled)
//   - Step counts by type
//   - Provider request latency and token consumption
//   - Tool execution counts and latencies
//   - Frame broadcasts by event family
type Metrics struct {
	// RunsStarted counts runs entering the orchestrator.
	// Labels: mode (assistant|local)
	RunsStarted *prometheus.CounterVec

	// RunsFinished counts terminated runs.
	// Labels: mode, status (completed|failed|cancelled)
	RunsFinished *prometheus.CounterVec

	// RunDuration measures wall time of whole runs in seconds.
	// Labels: mode
	RunDuration *prometheus.HistogramVec

	// Steps counts run steps by type.
	// Labels: type (message_creation|tool_calls)
	Steps *prometheus.CounterVec

	// ProviderRequestDuration measures model call latency in seconds.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequests counts model calls.
	// Labels: provider, model, status (success|error)
	ProviderRequests *prometheus.CounterVec

	// TokensUsed tracks token consumption.
	// Labels: model, type (prompt|completion)
	TokensUsed *prometheus.CounterVec

	// ToolExecutions counts tool invocations.
	// Labels: tool, status (success|error|timeout)
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// FramesBroadcast counts outbound frames.
	// Labels: event (message|close|error)
	FramesBroadcast *prometheus.CounterVec

	// ActiveRuns is a gauge of runs currently executing.
	ActiveRuns prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default registry.
// Call once at startup; the gateway serves them at /metrics.
func NewMetrics() *Metrics {
	return newMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers against a caller-supplied registry; tests use
// this to avoid duplicate registration in the default registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	return newMetricsWith(reg)
}

func newMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_runs_started_total",
				Help: "Total number of runs entering the orchestrator by mode",
			},
			[]string{"mode"},
		),

		RunsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_runs_finished_total",
				Help: "Total number of terminated runs by mode and status",
			},
			[]string{"mode", "status"},
		),

		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loom_run_duration_seconds",
				Help:    "Wall time of whole runs in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"mode"},
		),

		Steps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_run_steps_total",
				Help: "Total number of run steps by type",
			},
			[]string{"type"},
		),

		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loom_provider_request_duration_seconds",
				Help:    "Duration of model provider requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ProviderRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_provider_requests_total",
				Help: "Total number of model provider requests by status",
			},
			[]string{"provider", "model", "status"},
		),

		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_tokens_total",
				Help: "Total number of tokens consumed by model and type",
			},
			[]string{"model", "type"},
		),

		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loom_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		FramesBroadcast: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_frames_broadcast_total",
				Help: "Total number of outbound frames by event family",
			},
			[]string{"event"},
		),

		ActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "loom_active_runs",
				Help: "Number of runs currently executing",
			},
		),
	}
}
