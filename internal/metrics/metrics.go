// Package metrics exposes Prometheus instrumentation for the conversation loop
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/voicechat/internal/conversation"
	"github.com/GriffinCanCode/voicechat/internal/resilience"
)

const DefaultNamespace = "voicechat"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Transitions       *prometheus.CounterVec
	Dispatches        *prometheus.CounterVec
	AgentLatency      *prometheus.HistogramVec
	RecognitionErrors *prometheus.CounterVec
	SessionsActive    prometheus.Gauge
	SessionsTotal     *prometheus.CounterVec
	BreakerState      prometheus.Gauge
	RateLimited       *prometheus.CounterVec
}

// New registers all collectors under namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Conversation state transitions",
		}, []string{"from", "to"}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Utterances sent to the agent by outcome",
		}, []string{"mode", "outcome"}),
		AgentLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_request_duration_seconds",
			Help:      "Agent round trip time in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"mode"}),
		RecognitionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_errors_total",
			Help:      "Speech recognition errors by code",
		}, []string{"code"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Connected voice sessions",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Voice sessions by route",
		}, []string{"route"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_breaker_state",
			Help:      "Agent circuit breaker state (0 closed, 1 open, 2 half-open)",
		}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Messages rejected by the rate limiter",
		}, []string{"scope"}),
	}
	m.registry.MustRegister(
		m.Transitions, m.Dispatches, m.AgentLatency, m.RecognitionErrors,
		m.SessionsActive, m.SessionsTotal, m.BreakerState, m.RateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Transition implements conversation.Metrics.
func (m *Metrics) Transition(from, to conversation.State) {
	m.Transitions.WithLabelValues(from.String(), to.String()).Inc()
}

// Dispatch implements conversation.Metrics. Stale replies carry no latency
// worth recording.
func (m *Metrics) Dispatch(mode conversation.BotMode, outcome string, elapsed time.Duration) {
	m.Dispatches.WithLabelValues(string(mode), outcome).Inc()
	if outcome != "stale" && outcome != "cancelled" {
		m.AgentLatency.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
	}
}

// RecognitionError implements conversation.Metrics.
func (m *Metrics) RecognitionError(code string) {
	m.RecognitionErrors.WithLabelValues(code).Inc()
}

// SessionOpened records a new voice session on route.
func (m *Metrics) SessionOpened(route string) {
	m.SessionsActive.Inc()
	m.SessionsTotal.WithLabelValues(route).Inc()
}

// SessionClosed records the end of a voice session.
func (m *Metrics) SessionClosed() { m.SessionsActive.Dec() }

// BreakerChanged is a resilience hook that mirrors the breaker state.
func (m *Metrics) BreakerChanged(_, to resilience.State) {
	m.BreakerState.Set(float64(to))
}

// Limited counts a rejected message in scope ("http" or "ws").
func (m *Metrics) Limited(scope string) {
	m.RateLimited.WithLabelValues(scope).Inc()
}

var _ conversation.Metrics = (*Metrics)(nil)
