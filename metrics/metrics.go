// Package metrics exposes Prometheus instrumentation for the messaging core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the messaging core. A nil
// *Metrics is safe to use: every method is a no-op, so packages can accept
// metrics optionally without nil checks at each call site.
type Metrics struct {
	eventsPublished  *prometheus.CounterVec
	eventsDelivered  *prometheus.CounterVec
	handlerErrors    *prometheus.CounterVec
	entriesClaimed   *prometheus.CounterVec
	dlqPublished     *prometheus.CounterVec
	consumerGauge    *prometheus.GaugeVec
	handlerDurations *prometheus.HistogramVec
}

// New creates metrics registered against reg. Pass prometheus.DefaultRegisterer
// for production; tests use prometheus.NewRegistry() to avoid collisions.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventkit",
			Name:      "events_published_total",
			Help:      "Total number of events durably published, by topic.",
		}, []string{"topic"}),
		eventsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventkit",
			Name:      "events_delivered_total",
			Help:      "Total number of events delivered to handlers, by topic and group.",
		}, []string{"topic", "group"}),
		handlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventkit",
			Name:      "handler_errors_total",
			Help:      "Total number of handler invocations that returned an error.",
		}, []string{"topic", "group"}),
		entriesClaimed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventkit",
			Name:      "entries_claimed_total",
			Help:      "Total number of pending entries claimed from other consumers.",
		}, []string{"topic", "group"}),
		dlqPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventkit",
			Name:      "dlq_messages_total",
			Help:      "Total number of messages routed to a dead-letter topic.",
		}, []string{"topic"}),
		consumerGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "eventkit",
			Name:      "active_consumers",
			Help:      "Number of active consumer handles, by group.",
		}, []string{"group"}),
		handlerDurations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "eventkit",
			Name:      "handler_duration_seconds",
			Help:      "Handler execution time, by topic and group.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic", "group"}),
	}
}

// EventPublished records a durable publish to topic.
func (m *Metrics) EventPublished(topic string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(topic).Inc()
}

// EventDelivered records a handler delivery for topic within group.
func (m *Metrics) EventDelivered(topic, group string) {
	if m == nil {
		return
	}
	m.eventsDelivered.WithLabelValues(topic, group).Inc()
}

// HandlerError records a failed handler invocation.
func (m *Metrics) HandlerError(topic, group string) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(topic, group).Inc()
}

// EntriesClaimed records n pending entries claimed on topic by group.
func (m *Metrics) EntriesClaimed(topic, group string, n int) {
	if m == nil {
		return
	}
	m.entriesClaimed.WithLabelValues(topic, group).Add(float64(n))
}

// DLQPublished records a message routed to the dead-letter topic for topic.
func (m *Metrics) DLQPublished(topic string) {
	if m == nil {
		return
	}
	m.dlqPublished.WithLabelValues(topic).Inc()
}

// ConsumerStarted increments the active consumer gauge for group.
func (m *Metrics) ConsumerStarted(group string) {
	if m == nil {
		return
	}
	m.consumerGauge.WithLabelValues(group).Inc()
}

// ConsumerStopped decrements the active consumer gauge for group.
func (m *Metrics) ConsumerStopped(group string) {
	if m == nil {
		return
	}
	m.consumerGauge.WithLabelValues(group).Dec()
}

// ObserveHandlerDuration records seconds spent in a handler invocation.
func (m *Metrics) ObserveHandlerDuration(topic, group string, seconds float64) {
	if m == nil {
		return
	}
	m.handlerDurations.WithLabelValues(topic, group).Observe(seconds)
}
