package hsmsss

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricNamespace = "hsmsss"

type metricDesc struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(m *ConnectionMetrics) float64
}

// MetricsCollector exports the ConnectionMetrics of one Connection to prometheus.
type MetricsCollector struct {
	conn     *Connection
	descs    []metricDesc
	commDesc *prometheus.Desc
}

var _ prometheus.Collector = (*MetricsCollector)(nil)

// NewMetricsCollector creates a collector for conn. Every series carries the
// constant labels "name" and "comm_id".
func NewMetricsCollector(conn *Connection) *MetricsCollector {
	labels := prometheus.Labels{"name": conn.cfg.Name(), "comm_id": conn.ID()}

	counter := func(name, help string, value func(m *ConnectionMetrics) float64) metricDesc {
		return metricDesc{
			desc:      prometheus.NewDesc(prometheus.BuildFQName(metricNamespace, "", name), help, nil, labels),
			valueType: prometheus.CounterValue,
			value:     value,
		}
	}
	gauge := func(name, help string, value func(m *ConnectionMetrics) float64) metricDesc {
		d := counter(name, help, value)
		d.valueType = prometheus.GaugeValue

		return d
	}

	c := &MetricsCollector{conn: conn}
	c.commDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metricNamespace, "", "communicatable"),
		"1 while the session is selected.",
		nil,
		labels,
	)
	c.descs = []metricDesc{
		counter("data_messages_sent_total", "Data messages sent.",
			func(m *ConnectionMetrics) float64 { return float64(m.DataMsgSendCount.Load()) }),
		counter("data_messages_received_total", "Data messages received.",
			func(m *ConnectionMetrics) float64 { return float64(m.DataMsgRecvCount.Load()) }),
		counter("data_message_errors_total", "Data message sends that failed.",
			func(m *ConnectionMetrics) float64 { return float64(m.DataMsgErrCount.Load()) }),
		counter("control_messages_sent_total", "Control messages sent.",
			func(m *ConnectionMetrics) float64 { return float64(m.ControlMsgSendCount.Load()) }),
		counter("control_messages_received_total", "Control messages received.",
			func(m *ConnectionMetrics) float64 { return float64(m.ControlMsgRecvCount.Load()) }),
		counter("rejects_sent_total", "Reject requests sent.",
			func(m *ConnectionMetrics) float64 { return float64(m.RejectSendCount.Load()) }),
		counter("reply_timeouts_total", "Requests whose reply did not arrive within T3 or T6.",
			func(m *ConnectionMetrics) float64 { return float64(m.ReplyTimeoutCount.Load()) }),
		counter("linktests_sent_total", "Linktest requests sent.",
			func(m *ConnectionMetrics) float64 { return float64(m.LinktestSendCount.Load()) }),
		counter("linktests_received_total", "Linktest requests received.",
			func(m *ConnectionMetrics) float64 { return float64(m.LinktestRecvCount.Load()) }),
		counter("linktest_errors_total", "Linktest requests without a valid reply.",
			func(m *ConnectionMetrics) float64 { return float64(m.LinktestErrCount.Load()) }),
		counter("connects_total", "TCP connections established.",
			func(m *ConnectionMetrics) float64 { return float64(m.ConnectCount.Load()) }),
		counter("selects_total", "Transitions to the selected state.",
			func(m *ConnectionMetrics) float64 { return float64(m.SelectCount.Load()) }),
		gauge("inflight_transactions", "Transactions waiting for a reply.",
			func(m *ConnectionMetrics) float64 { return float64(m.InflightCount.Load()) }),
		gauge("connect_retries", "Failed connect attempts since the last success.",
			func(m *ConnectionMetrics) float64 { return float64(m.ConnRetryGauge.Load()) }),
	}

	return c
}

// Describe implements prometheus.Collector.
func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d.desc
	}
	ch <- c.commDesc
}

// Collect implements prometheus.Collector.
func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.conn.GetMetrics()
	for _, d := range c.descs {
		ch <- prometheus.MustNewConstMetric(d.desc, d.valueType, d.value(m))
	}

	communicatable := 0.0
	if c.conn.IsCommunicatable() {
		communicatable = 1
	}
	ch <- prometheus.MustNewConstMetric(c.commDesc, prometheus.GaugeValue, communicatable)
}

