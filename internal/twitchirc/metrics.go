package twitchirc

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks connection-level counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	lines        prometheus.Counter
	decodeErrors prometheus.Counter
	pings        prometheus.Counter
	reconnects   *prometheus.CounterVec
	handshakes   *prometheus.CounterVec
	connected    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatdump",
			Subsystem: "irc",
			Name:      "lines_total",
			Help:      "Protocol lines framed from the transport",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatdump",
			Subsystem: "irc",
			Name:      "decode_errors_total",
			Help:      "Chunks dropped because they were not valid text",
		}),
		pings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatdump",
			Subsystem: "irc",
			Name:      "pings_total",
			Help:      "Keep-alive probes answered",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatdump",
			Subsystem: "irc",
			Name:      "reconnects_total",
			Help:      "Reconnections by trigger",
		}, []string{"reason"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatdump",
			Subsystem: "irc",
			Name:      "handshakes_total",
			Help:      "Handshake attempts by result",
		}, []string{"result"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatdump",
			Subsystem: "irc",
			Name:      "connected",
			Help:      "1 while the channel is joined",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.lines, m.decodeErrors, m.pings, m.reconnects, m.handshakes, m.connected)
	}
	return m
}

func (m *Metrics) addLines(n int) {
	if m == nil {
		return
	}
	m.lines.Add(float64(n))
}

func (m *Metrics) incDecodeErrors() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) incPings() {
	if m == nil {
		return
	}
	m.pings.Inc()
}

func (m *Metrics) incReconnects(reason string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(reason).Inc()
}

func (m *Metrics) incHandshakes(result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(result).Inc()
}

func (m *Metrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}
