package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks model calls and session outcomes.
type Metrics struct {
	// Labels: backend, model, status (success|error|blocked|dry_run)
	LLMRequestCounter *prometheus.CounterVec
	// Labels: backend, model
	LLMRequestDuration *prometheus.HistogramVec
	// Labels: backend, model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec
	// Labels: model, language, outcome (completed|failed|blocked|skipped)
	SessionCounter *prometheus.CounterVec
	// Labels: model, language
	SessionAttempts *prometheus.CounterVec
}

// NewMetrics registers all collectors on reg. A nil reg creates unregistered
// collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LLMRequestCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moralmachine_llm_requests_total",
				Help: "Model requests by backend, model and status",
			},
			[]string{"backend", "model", "status"},
		),
		LLMRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "moralmachine_llm_request_duration_seconds",
				Help:    "Duration of model requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"backend", "model"},
		),
		LLMTokensUsed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moralmachine_llm_tokens_total",
				Help: "Tokens used by backend, model and type",
			},
			[]string{"backend", "model", "type"},
		),
		SessionCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moralmachine_sessions_total",
				Help: "Played sessions by model, language and outcome",
			},
			[]string{"model", "language", "outcome"},
		),
		SessionAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moralmachine_session_attempts_total",
				Help: "Session play attempts, including replays after unexpected answers",
			},
			[]string{"model", "language"},
		),
	}
}
