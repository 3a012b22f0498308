package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the Prometheus series the orchestration server emits.
//
// The series cover:
//   - Session lifecycle (active count, lifetime)
//   - Agentic turns by operating mode and how they ended
//   - LLM request latency, status, and token consumption
//   - Tool execution requests and their approval outcomes
//   - Errors by component and type
type Metrics struct {
	// ActiveSessions tracks current live sessions.
	ActiveSessions prometheus.Gauge

	// SessionDuration measures session lifetime in seconds.
	// Buckets: 60s, 300s, 600s, 1800s, 3600s, 7200s
	SessionDuration prometheus.Histogram

	// TurnCounter counts agentic turns by operating mode and terminal
	// status (completed|budget_exhausted|provider_error|disconnected).
	TurnCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM streaming call latency in seconds.
	// Labels: provider (anthropic|openai), model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model, status.
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolRequestCounter counts tool calls the model attempted.
	// Labels: tool_name, outcome
	// (approved|auto_approved|denied|mode_blocked|failed|succeeded)
	ToolRequestCounter *prometheus.CounterVec

	// ToolRoundTripDuration measures the full approval-plus-execution
	// round trip over the websocket in seconds.
	// Labels: tool_name
	ToolRoundTripDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (server|provider|session|protocol), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics registers all series with the default Prometheus registry.
// Call once at startup; the series surface via promhttp.Handler.
func NewMetrics() *Metrics {
	return NewMetricsFor(prometheus.DefaultRegisterer)
}

// NewMetricsFor registers the series with a specific registerer. Tests
// pass a fresh prometheus.NewRegistry to avoid duplicate registration.
func NewMetricsFor(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gambiarra_active_sessions",
			Help: "Current number of live sessions",
		}),

		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gambiarra_session_duration_seconds",
			Help:    "Session lifetime in seconds",
			Buckets: []float64{60, 300, 600, 1800, 3600, 7200},
		}),

		TurnCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gambiarra_turns_total",
			Help: "Agentic turns by operating mode and terminal status",
		}, []string{"mode", "status"}),

		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gambiarra_llm_request_duration_seconds",
			Help:    "Duration of LLM streaming requests in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		LLMRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gambiarra_llm_requests_total",
			Help: "LLM requests by provider, model, and status",
		}, []string{"provider", "model", "status"}),

		LLMTokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gambiarra_llm_tokens_total",
			Help: "Tokens consumed by provider, model, and type",
		}, []string{"provider", "model", "type"}),

		ToolRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gambiarra_tool_requests_total",
			Help: "Tool calls by name and outcome",
		}, []string{"tool_name", "outcome"}),

		ToolRoundTripDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gambiarra_tool_round_trip_duration_seconds",
			Help:    "Approval and execution round trip per tool in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"tool_name"}),

		ErrorCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gambiarra_errors_total",
			Help: "Errors by component and error type",
		}, []string{"component", "error_type"}),
	}
}

// SessionStarted increments the active sessions gauge.
func (m *Metrics) SessionStarted() {
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the gauge and records the session lifetime.
func (m *Metrics) SessionEnded(durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordTurn records one finished agentic turn.
func (m *Metrics) RecordTurn(mode, status string) {
	m.TurnCounter.WithLabelValues(mode, status).Inc()
}

// RecordLLMRequest records one LLM streaming request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolOutcome counts one tool call outcome.
func (m *Metrics) RecordToolOutcome(toolName, outcome string) {
	m.ToolRequestCounter.WithLabelValues(toolName, outcome).Inc()
}

// RecordToolRoundTrip records the approval-plus-execution latency.
func (m *Metrics) RecordToolRoundTrip(toolName string, durationSeconds float64) {
	m.ToolRoundTripDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
