package hsmsss

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector(t *testing.T) {
	require := require.New(t)

	comm := newConn(t, freePort(t), true, RoleActive)
	metrics := comm.GetMetrics()
	metrics.incDataMsgSendCount()
	metrics.incDataMsgSendCount()
	metrics.incRejectSendCount()
	metrics.incInflightCount()
	metrics.incConnRetryGauge()
	metrics.incConnRetryGauge()
	metrics.incConnRetryGauge()

	collector := NewMetricsCollector(comm)
	require.Equal(15, testutil.CollectAndCount(collector))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(reg.Register(collector))

	values := gatherValues(t, reg, comm.ID())
	require.InDelta(2.0, values["hsmsss_data_messages_sent_total"], 0)
	require.InDelta(1.0, values["hsmsss_rejects_sent_total"], 0)
	require.InDelta(1.0, values["hsmsss_inflight_transactions"], 0)
	require.InDelta(3.0, values["hsmsss_connect_retries"], 0)
	require.InDelta(0.0, values["hsmsss_communicatable"], 0)
	require.Contains(values, "hsmsss_selects_total")

	metrics.resetConnRetryGauge()
	metrics.decInflightCount()

	values = gatherValues(t, reg, comm.ID())
	require.InDelta(0.0, values["hsmsss_connect_retries"], 0)
	require.InDelta(0.0, values["hsmsss_inflight_transactions"], 0)
	require.InDelta(2.0, values["hsmsss_data_messages_sent_total"], 0)
}

// gatherValues returns the value of every series in reg by metric name.
func gatherValues(t *testing.T, reg *prometheus.Registry, commID string) map[string]float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range families {
		require.Len(t, mf.GetMetric(), 1)
		m := mf.GetMetric()[0]
		requireLabel(t, m, "name", "host")
		requireLabel(t, m, "comm_id", commID)

		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			values[mf.GetName()] = m.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			values[mf.GetName()] = m.GetGauge().GetValue()
		}
	}

	return values
}

func requireLabel(t *testing.T, m *dto.Metric, name string, value string) {
	t.Helper()

	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			require.Equal(t, value, lp.GetValue())
			return
		}
	}
	require.Failf(t, "label not found", "label %s", name)
}
