// Package observability holds the Prometheus instruments shared by the
// agent core and its transports.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Turns           *prometheus.CounterVec
	Iterations      prometheus.Histogram
	ToolCalls       *prometheus.CounterVec
	LLMLatency      *prometheus.HistogramVec
	LLMErrors       *prometheus.CounterVec
	LLMLogFailures  prometheus.Counter
	RecallFailures  *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers the instruments with reg. A nil reg uses a fresh
// private registry, which keeps tests independent of each other.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Agent turns by outcome.",
		}, []string{"outcome"}),
		Iterations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_iterations",
			Help:      "Loop iterations used per turn.",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10, 15, 20},
		}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool executions by tool and status.",
		}, []string{"tool", "status"}),
		LLMLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_latency_seconds",
			Help:      "Model call latency by provider.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		}, []string{"provider"}),
		LLMErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_errors_total",
			Help:      "Failed model calls by provider.",
		}, []string{"provider"}),
		LLMLogFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_log_failures_total",
			Help:      "Model call log writes that failed.",
		}),
		RecallFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recall_failures_total",
			Help:      "Memory context sources that failed during assembly.",
		}, []string{"source"}),
		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Best-effort writes that failed, by store.",
		}, []string{"store"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		gatherer: reg,
	}
}

// ObserveLLM records the latency of a model call.
func (m *Metrics) ObserveLLM(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.LLMLatency.WithLabelValues(provider).Observe(d.Seconds())
	if err != nil {
		m.LLMErrors.WithLabelValues(provider).Inc()
	}
}

// ObserveTool counts a tool execution.
func (m *Metrics) ObserveTool(tool string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
}

// ObserveTurn records a finished turn.
func (m *Metrics) ObserveTurn(outcome string, iterations int) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
	m.Iterations.Observe(float64(iterations))
}

// RecallFailed counts a failed context source.
func (m *Metrics) RecallFailed(source string) {
	if m == nil {
		return
	}
	m.RecallFailures.WithLabelValues(source).Inc()
}

// PersistFailed counts a failed best-effort write.
func (m *Metrics) PersistFailed(store string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(store).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
