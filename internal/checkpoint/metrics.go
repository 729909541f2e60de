package checkpoint

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/you/chatdump/internal/core"
)

// Metrics is nil-safe.
type Metrics struct {
	events  *prometheus.CounterVec
	flushes *prometheus.CounterVec
	pending prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatdump",
			Subsystem: "checkpoint",
			Name:      "events_total",
			Help:      "Events recorded by kind",
		}, []string{"kind"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatdump",
			Subsystem: "checkpoint",
			Name:      "flushes_total",
			Help:      "Snapshot flushes by trigger and result",
		}, []string{"trigger", "result"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatdump",
			Subsystem: "checkpoint",
			Name:      "pending_lines",
			Help:      "Text log lines waiting for the next flush",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.flushes, m.pending)
	}
	return m
}

func (m *Metrics) incEvents(kind core.EventKind) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) incFlushes(trigger, result string) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues(trigger, result).Inc()
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
