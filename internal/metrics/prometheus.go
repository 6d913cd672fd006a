package metrics

import (
	"github.com/dkeye/voicehub/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voicehub"

// StatsSource is sampled on every scrape.
type StatsSource interface {
	Stats() core.Stats
}

// Metrics contains the Prometheus collectors of the service. A nil *Metrics
// records nothing.
type Metrics struct {
	SignalRequests *prometheus.CounterVec
	GatewayCalls   *prometheus.CounterVec
	GatewayLatency *prometheus.HistogramVec
	Backpressure   *prometheus.CounterVec
	Connections    prometheus.Gauge
}

// New registers all collectors on reg. Registry gauges are skipped when
// stats is nil.
func New(reg prometheus.Registerer, stats StatsSource) *Metrics {
	f := promauto.With(reg)

	gauge := func(name, help string, get func(core.Stats) int) {
		if stats == nil {
			return
		}
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(get(stats.Stats())) })
	}
	gauge("rooms", "Rooms known to the registry", func(s core.Stats) int { return s.Rooms })
	gauge("peers", "Connections joined to a room", func(s core.Stats) int { return s.Peers })
	gauge("transports", "Open WebRTC transports", func(s core.Stats) int { return s.Transports })
	gauge("producers", "Registered producers", func(s core.Stats) int { return s.Producers })
	gauge("consumers", "Registered consumers", func(s core.Stats) int { return s.Consumers })

	return &Metrics{
		SignalRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "requests_total",
			Help:      "Signaling requests by type and outcome",
		}, []string{"type", "outcome"}),
		GatewayCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Backend calls by operation and outcome",
		}, []string{"op", "outcome"}),
		GatewayLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "duration_seconds",
			Help:      "Backend call latency",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"op"}),
		Backpressure: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "backpressure_total",
			Help:      "Events that hit a full outbound queue, by action taken",
		}, []string{"action"}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "connections",
			Help:      "Open signaling connections",
		}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) RecordSignal(typ string, err error) {
	if m == nil {
		return
	}
	m.SignalRequests.WithLabelValues(typ, outcome(err)).Inc()
}

func (m *Metrics) RecordGateway(op string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.GatewayCalls.WithLabelValues(op, outcome(err)).Inc()
	m.GatewayLatency.WithLabelValues(op).Observe(seconds)
}

func (m *Metrics) RecordBackpressure(action string) {
	if m == nil {
		return
	}
	m.Backpressure.WithLabelValues(action).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}
