package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the unibox Prometheus collectors.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.ConnectOutcome("slack", "connected")
//	metrics.ObserveExchange("discord", "ok", time.Since(start))
type Metrics struct {
	// ConnectAttempts counts OAuth connect attempts by final outcome.
	// Labels: provider, outcome (connected|failed|timeout|popup_blocked|missing_token|busy)
	ConnectAttempts *prometheus.CounterVec

	// ExchangeDuration measures credential exchange calls to providers.
	// Labels: provider, result (ok|rejected|config|transport)
	ExchangeDuration *prometheus.HistogramVec

	// RelayEnvelopes counts envelopes published by the relay page.
	// Labels: provider, kind (callback|error|dropped)
	RelayEnvelopes *prometheus.CounterVec

	// MessageTransitions counts applied message status changes.
	// Labels: to (read|replied|archived)
	MessageTransitions *prometheus.CounterVec

	// MessagesIngested counts messages written by channel sync.
	// Labels: channel_type
	MessagesIngested *prometheus.CounterVec

	// HTTPRequestDuration measures API request latency.
	// Labels: method, route, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. A nil reg uses the
// Prometheus default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ConnectAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unibox_connect_attempts_total",
				Help: "OAuth connect attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		ExchangeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "unibox_exchange_duration_seconds",
				Help:    "Credential exchange latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider", "result"},
		),
		RelayEnvelopes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unibox_relay_envelopes_total",
				Help: "Envelopes published by the OAuth callback relay",
			},
			[]string{"provider", "kind"},
		),
		MessageTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unibox_message_transitions_total",
				Help: "Message status transitions applied",
			},
			[]string{"to"},
		),
		MessagesIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unibox_messages_ingested_total",
				Help: "Messages ingested from connected channels",
			},
			[]string{"channel_type"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "unibox_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "route", "status_code"},
		),
	}
}

// ConnectOutcome records the end of a connect attempt.
func (m *Metrics) ConnectOutcome(provider, outcome string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(provider, outcome).Inc()
}

// ObserveExchange records one credential exchange.
func (m *Metrics) ObserveExchange(provider, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExchangeDuration.WithLabelValues(provider, result).Observe(d.Seconds())
}

// RelayEnvelope records an envelope leaving the relay page.
func (m *Metrics) RelayEnvelope(provider, kind string) {
	if m == nil {
		return
	}
	m.RelayEnvelopes.WithLabelValues(provider, kind).Inc()
}

// Transition records a message status change.
func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.MessageTransitions.WithLabelValues(to).Inc()
}

// Ingested records n synced messages.
func (m *Metrics) Ingested(channelType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MessagesIngested.WithLabelValues(channelType).Add(float64(n))
}

// ObserveHTTP records one API request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
