// Package metrics exposes sync counters in Prometheus format. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatsync"

// Outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Metrics holds the collectors of one process. Each instance owns its
// registry so tests never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	messages   *prometheus.CounterVec
	uploads    *prometheus.CounterVec
	retries    *prometheus.CounterVec
	events     *prometheus.CounterVec
	reconnects prometheus.Counter
}

// New creates the collectors. activeControllers, when non-nil, is sampled
// on every scrape.
func New(activeControllers func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages submitted to the server by outcome.",
		}, []string{"outcome"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachment_uploads_total",
			Help:      "Attachment uploads by kind and outcome.",
		}, []string{"kind", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_retries_total",
			Help:      "Entities resubmitted after reconnect by entity type.",
		}, []string{"entity"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Live events handled by wire type.",
		}, []string{"type"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_connects_total",
			Help:      "Successful event stream connections.",
		}),
	}

	m.registry.MustRegister(
		m.messages,
		m.uploads,
		m.retries,
		m.events,
		m.reconnects,
		collectors.NewGoCollector(),
	)

	if activeControllers != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_channels",
			Help:      "Channels with a live controller.",
		}, func() float64 { return float64(activeControllers()) }))
	}

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MessageSent counts one message submission.
func (m *Metrics) MessageSent(outcome string) {
	if m == nil {
		return
	}

	m.messages.WithLabelValues(outcome).Inc()
}

// Upload counts one attachment upload.
func (m *Metrics) Upload(kind, outcome string) {
	if m == nil {
		return
	}

	m.uploads.WithLabelValues(kind, outcome).Inc()
}

// Retry counts one automatic resubmission.
func (m *Metrics) Retry(entity string) {
	if m == nil {
		return
	}

	m.retries.WithLabelValues(entity).Inc()
}

// Event counts one handled live event.
func (m *Metrics) Event(eventType string) {
	if m == nil {
		return
	}

	m.events.WithLabelValues(eventType).Inc()
}

// Connected counts one established stream connection.
func (m *Metrics) Connected() {
	if m == nil {
		return
	}

	m.reconnects.Inc()
}
