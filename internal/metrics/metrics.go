// Package metrics provides the Prometheus instrumentation surfaced at
// GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-wide registry of counters/histograms/gauges this
// service exports. Construct once at startup and thread it through.
type Metrics struct {
	// PhaseDuration measures how long each orchestrator phase takes.
	// Labels: phase, intent.
	PhaseDuration *prometheus.HistogramVec

	// PhaseOutcome counts phase completions by outcome.
	// Labels: phase, outcome (complete|failed|cancelled).
	PhaseOutcome *prometheus.CounterVec

	// CouncilCallDuration measures one council member's latency.
	// Labels: model_alias, outcome (success|timeout|error).
	CouncilCallDuration *prometheus.HistogramVec

	// BackendRequestCounter counts Model Router calls.
	// Labels: provider, model_alias, outcome.
	BackendRequestCounter *prometheus.CounterVec

	// RateLimitDecisions counts admit/reject decisions.
	// Labels: scope, decision (admit|reject|fail_open).
	RateLimitDecisions *prometheus.CounterVec

	// ValidationRejections counts request-validator rejections by family.
	// Labels: family (sql|xss|path_traversal|command|shape).
	ValidationRejections *prometheus.CounterVec

	// TreasuryTransactions counts Treasury transactions.
	// Labels: kind (seed|earning|spending|roi_adjustment|penalty|refund|freeze).
	TreasuryTransactions *prometheus.CounterVec

	// KIPExecutions counts ExecuteAction outcomes.
	// Labels: tool_name, status (success|timeout|error|rejected).
	KIPExecutions *prometheus.CounterVec

	// ActiveRequests tracks current in-flight orchestrator requests.
	ActiveRequests prometheus.Gauge

	// WebSocketConnections tracks open WebSocket connections per endpoint.
	// Labels: endpoint (chat|voice).
	WebSocketConnections *prometheus.GaugeVec

	// HTTPRequestDuration measures HTTP surface latency.
	// Labels: method, path, status_code.
	HTTPRequestDuration *prometheus.HistogramVec

	// VoiceStageDuration measures one stage of the voice pipeline.
	// Labels: stage (stt|orchestrator|tts), outcome (success|error).
	VoiceStageDuration *prometheus.HistogramVec
}

// New constructs and registers all metrics against the default registry.
func New() *Metrics {
	return &Metrics{
		PhaseDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_phase_duration_seconds",
			Help:    "Duration of one orchestrator phase.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"phase", "intent"}),

		PhaseOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_phase_outcome_total",
			Help: "Count of orchestrator phase completions by outcome.",
		}, []string{"phase", "outcome"}),

		CouncilCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "council_call_duration_seconds",
			Help:    "Latency of one council member's deliberation call.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 45},
		}, []string{"model_alias", "outcome"}),

		BackendRequestCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "model_router_requests_total",
			Help: "Count of Model Router backend requests.",
		}, []string{"provider", "model_alias", "outcome"}),

		RateLimitDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Count of rate limiter admit/reject/fail-open decisions.",
		}, []string{"scope", "decision"}),

		ValidationRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "request_validation_rejections_total",
			Help: "Count of request validator rejections by pattern family.",
		}, []string{"family"}),

		TreasuryTransactions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_transactions_total",
			Help: "Count of Treasury transactions by kind.",
		}, []string{"kind"}),

		KIPExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kip_executions_total",
			Help: "Count of KIP ExecuteAction outcomes.",
		}, []string{"tool_name", "status"}),

		ActiveRequests: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_active_requests",
			Help: "Current number of in-flight orchestrator requests.",
		}),

		WebSocketConnections: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current open WebSocket connections.",
		}, []string{"endpoint"}),

		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP surface request latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "path", "status_code"}),

		VoiceStageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_pipeline_stage_duration_seconds",
			Help:    "Latency of one stage (stt, orchestrator, tts) of the voice pipeline.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"stage", "outcome"}),
	}
}
