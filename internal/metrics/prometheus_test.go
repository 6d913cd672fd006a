package metrics

import (
	"errors"
	"testing"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

type fixedStats core.Stats

func (s fixedStats) Stats() core.Stats { return core.Stats(s) }

func TestGaugesSampleRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg, fixedStats{Rooms: 2, Peers: 3, Producers: 4})

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		if len(mf.GetMetric()) == 1 && mf.GetMetric()[0].GetGauge() != nil {
			values[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	require.Equal(t, 2.0, values["voicehub_rooms"])
	require.Equal(t, 3.0, values["voicehub_peers"])
	require.Equal(t, 4.0, values["voicehub_producers"])
	require.Equal(t, 0.0, values["voicehub_consumers"])
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry(), fixedStats{})
	m.RecordSignal("joinRoom", nil)
	m.RecordSignal("joinRoom", errors.New("x"))
	m.RecordSignal("joinRoom", nil)
	m.RecordGateway("join", 0.01, nil)

	require.Equal(t, 2.0, counterValue(t, m.SignalRequests.WithLabelValues("joinRoom", "ok")))
	require.Equal(t, 1.0, counterValue(t, m.SignalRequests.WithLabelValues("joinRoom", "error")))
	require.Equal(t, 1.0, counterValue(t, m.GatewayCalls.WithLabelValues("join", "ok")))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordSignal("ping", nil)
	m.RecordGateway("join", 0, nil)
	m.RecordBackpressure("kick")
	m.ConnectionOpened()
	m.ConnectionClosed()
}
