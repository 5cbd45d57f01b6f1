package client

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons reported by the router.
const (
	DropInvalidJSON   = "invalid_json"
	DropStatus        = "status"
	DropMissingTopic  = "missing_topic"
	DropMissingMsg    = "missing_msg"
	DropNoSubscribers = "no_subscribers"
	DropStale         = "stale_connection"
)

// Metrics holds the bridge's prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	messagesReceived   prometheus.Counter
	messagesRouted     *prometheus.CounterVec
	messagesDropped    *prometheus.CounterVec
	subscriberFailures *prometheus.CounterVec
	connectAttempts    prometheus.Counter
	connectFailures    prometheus.Counter
	connectionState    prometheus.Gauge
	queueDepth         prometheus.Gauge
}

// NewMetrics creates the bridge collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skybridge",
			Subsystem: "router",
			Name:      "messages_received_total",
			Help:      "Total raw frames received from rosbridge",
		}),
		messagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skybridge",
			Subsystem: "router",
			Name:      "messages_routed_total",
			Help:      "Total payloads delivered to subscribers",
		}, []string{"topic"}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skybridge",
			Subsystem: "router",
			Name:      "messages_dropped_total",
			Help:      "Total frames dropped before delivery",
		}, []string{"reason"}),
		subscriberFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skybridge",
			Subsystem: "router",
			Name:      "subscriber_failures_total",
			Help:      "Total subscriber callbacks that returned an error or panicked",
		}, []string{"topic"}),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skybridge",
			Subsystem: "session",
			Name:      "connect_attempts_total",
			Help:      "Total rosbridge connection attempts",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "skybridge",
			Subsystem: "session",
			Name:      "connect_failures_total",
			Help:      "Total failed rosbridge connection attempts",
		}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "skybridge",
			Subsystem: "session",
			Name:      "connection_state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 connected)",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "skybridge",
			Subsystem: "session",
			Name:      "inbound_queue_depth",
			Help:      "Inbound frames waiting for the pump",
		}),
	}

	reg.MustRegister(
		m.messagesReceived,
		m.messagesRouted,
		m.messagesDropped,
		m.subscriberFailures,
		m.connectAttempts,
		m.connectFailures,
		m.connectionState,
		m.queueDepth,
	)
	return m
}

func (m *Metrics) received() {
	if m != nil {
		m.messagesReceived.Inc()
	}
}

func (m *Metrics) routed(topic string) {
	if m != nil {
		m.messagesRouted.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) dropped(reason string) {
	if m != nil {
		m.messagesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) subscriberFailed(topic string) {
	if m != nil {
		m.subscriberFailures.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) connectAttempt() {
	if m != nil {
		m.connectAttempts.Inc()
	}
}

func (m *Metrics) connectFailed() {
	if m != nil {
		m.connectFailures.Inc()
	}
}

func (m *Metrics) state(s State) {
	if m != nil {
		m.connectionState.Set(float64(s))
	}
}

func (m *Metrics) queue(depth int) {
	if m != nil {
		m.queueDepth.Set(float64(depth))
	}
}
