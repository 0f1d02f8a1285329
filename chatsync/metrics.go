package chatsync

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes channel counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	framesReceived    *prometheus.CounterVec
	framesSent        *prometheus.CounterVec
	sendsDropped      prometheus.Counter
	protocolErrors    prometheus.Counter
	reconnectAttempts prometheus.Counter
	connectionState   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "frames_received_total",
			Help:      "Inbound frames decoded, by type.",
		}, []string{"type"}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "frames_sent_total",
			Help:      "Outbound frames handed to the channel, by type.",
		}, []string{"type"}),
		sendsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "sends_dropped_total",
			Help:      "Outbound frames dropped because the channel was not open.",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "protocol_errors_total",
			Help:      "Inbound frames that could not be decoded.",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnects scheduled after abnormal closes.",
		}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatsync",
			Name:      "connection_state",
			Help:      "Current connection state (0 idle, 1 connecting, 2 open, 3 closed, 4 retrying, 5 terminal).",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.framesReceived,
			m.framesSent,
			m.sendsDropped,
			m.protocolErrors,
			m.reconnectAttempts,
			m.connectionState,
		)
	}
	return m
}

func (m *Metrics) frameReceived(typ string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(typ).Inc()
}

func (m *Metrics) frameSent(typ string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(typ).Inc()
}

func (m *Metrics) sendDropped() {
	if m == nil {
		return
	}
	m.sendsDropped.Inc()
}

func (m *Metrics) protocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

func (m *Metrics) reconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) setState(s ConnectionState) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(s))
}
