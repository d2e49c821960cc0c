// Package metrics registers the Prometheus instruments for the federation
// coordination core. A nil *Metrics is a valid no-op receiver so library
// consumers can skip instrumentation entirely.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the coordination-layer Prometheus instruments.
type Metrics struct {
	EventsPublished  prometheus.Counter
	EventsReceived   prometheus.Counter
	EventDeliveries  *prometheus.CounterVec
	CrossServerCalls *prometheus.CounterVec
}

// New creates and registers all instruments against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "progfed_events_published_total",
			Help: "Total cross-server publish calls accepted by the publisher",
		}),
		EventsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "progfed_events_received_total",
			Help: "Total events accepted on the receive endpoint",
		}),
		EventDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "progfed_event_deliveries_total",
			Help: "Per-target event delivery attempts partitioned by outcome",
		}, []string{"outcome"}),
		CrossServerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "progfed_cross_server_calls_total",
			Help: "Point-to-point client calls partitioned by outcome",
		}, []string{"outcome"}),
	}
}

// RegisterServerGauge exposes the current registry size via a gauge func.
func RegisterServerGauge(reg prometheus.Registerer, lenFn func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "progfed_registered_servers",
		Help: "Unexpired server registrations currently held",
	}, func() float64 { return float64(lenFn()) }))
}

// IncEventsPublished bumps the publish counter.
func (m *Metrics) IncEventsPublished() {
	if m == nil {
		return
	}
	m.EventsPublished.Inc()
}

// IncEventsReceived bumps the receive counter.
func (m *Metrics) IncEventsReceived() {
	if m == nil {
		return
	}
	m.EventsReceived.Inc()
}

// ObserveDelivery records one per-target delivery outcome
// ("delivered" or "failed").
func (m *Metrics) ObserveDelivery(outcome string) {
	if m == nil {
		return
	}
	m.EventDeliveries.WithLabelValues(outcome).Inc()
}

// ObserveCrossCall records one client call outcome
// ("ok", "not_found", or "error").
func (m *Metrics) ObserveCrossCall(outcome string) {
	if m == nil {
		return
	}
	m.CrossServerCalls.WithLabelValues(outcome).Inc()
}
