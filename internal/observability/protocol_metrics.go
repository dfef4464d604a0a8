package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProtocolMetrics tracks health of the agent protocol internals that sit
// outside the per-request dispatch path.
type ProtocolMetrics struct {
	registeredAgents *prometheus.GaugeVec
	eventsPublished  *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	wsClients        prometheus.Gauge
	historyEvictions prometheus.Counter
}

var (
	defaultProtocolMetrics     *ProtocolMetrics
	defaultProtocolMetricsOnce sync.Once
)

// NewProtocolMetrics builds a ProtocolMetrics recorder using the default registry.
func NewProtocolMetrics() *ProtocolMetrics {
	defaultProtocolMetricsOnce.Do(func() {
		defaultProtocolMetrics = newProtocolMetrics(prometheus.DefaultRegisterer)
	})
	return defaultProtocolMetrics
}

// NewProtocolMetricsWithRegisterer allows tests to provide a dedicated registry.
func NewProtocolMetricsWithRegisterer(reg prometheus.Registerer) *ProtocolMetrics {
	return newProtocolMetrics(reg)
}

func newProtocolMetrics(reg prometheus.Registerer) *ProtocolMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &ProtocolMetrics{
		registeredAgents: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "genesis",
			Subsystem: "registry",
			Name:      "agents",
			Help:      "Number of agents currently registered, by agent type",
		}, []string{"type"}),
		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genesis",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of protocol events broadcast to subscribers",
		}, []string{"type"}),
		eventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "genesis",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because a subscriber could not keep up",
		}, []string{"reason"}),
		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "genesis",
			Subsystem: "server",
			Name:      "websocket_clients",
			Help:      "Number of connected websocket event stream clients",
		}),
		historyEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "genesis",
			Subsystem: "protocol",
			Name:      "history_evictions_total",
			Help:      "Requests evicted from the bounded dispatch history",
		}),
	}
}

// RecordAgentRegistered adjusts the registered agent gauge for a type.
func (m *ProtocolMetrics) RecordAgentRegistered(agentType string, delta int) {
	if m == nil || m.registeredAgents == nil {
		return
	}
	m.registeredAgents.WithLabelValues(agentType).Add(float64(delta))
}

// RecordEventPublished increments the published event counter for a type.
func (m *ProtocolMetrics) RecordEventPublished(eventType string) {
	if m == nil || m.eventsPublished == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventDropped increments the dropped event counter with a reason.
func (m *ProtocolMetrics) RecordEventDropped(reason string) {
	if m == nil || m.eventsDropped == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

// WebsocketClientConnected increments the websocket client gauge.
func (m *ProtocolMetrics) WebsocketClientConnected() {
	if m == nil || m.wsClients == nil {
		return
	}
	m.wsClients.Inc()
}

// WebsocketClientDisconnected decrements the websocket client gauge.
func (m *ProtocolMetrics) WebsocketClientDisconnected() {
	if m == nil || m.wsClients == nil {
		return
	}
	m.wsClients.Dec()
}

// RecordHistoryEviction increments the history eviction counter.
func (m *ProtocolMetrics) RecordHistoryEviction() {
	if m == nil || m.historyEvictions == nil {
		return
	}
	m.historyEvictions.Inc()
}
