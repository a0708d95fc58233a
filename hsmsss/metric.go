package hsmsss

import (
	"sync/atomic"
)

// ConnectionMetrics contains atomic metrics for a connection.
// NewMetricsCollector exposes them as prometheus counters and gauges.
type ConnectionMetrics struct {
	// DataMsgSendCount indicates the number of data messages sent.
	DataMsgSendCount atomic.Uint64
	// DataMsgRecvCount indicates the number of data messages received.
	DataMsgRecvCount atomic.Uint64
	// DataMsgErrCount indicates the number of data message sends that failed.
	DataMsgErrCount atomic.Uint64
	// ControlMsgSendCount indicates the number of control messages sent.
	ControlMsgSendCount atomic.Uint64
	// ControlMsgRecvCount indicates the number of control messages received.
	ControlMsgRecvCount atomic.Uint64
	// RejectSendCount indicates the number of reject.req messages sent.
	RejectSendCount atomic.Uint64
	// ReplyTimeoutCount indicates the number of T3/T6 expiries.
	ReplyTimeoutCount atomic.Uint64
	// InflightCount indicates the number of transactions waiting for a reply.
	InflightCount atomic.Int64

	// LinktestSendCount indicates the number of linktest requests sent.
	LinktestSendCount atomic.Uint64
	// LinktestRecvCount indicates the number of linktest requests received.
	LinktestRecvCount atomic.Uint64
	// LinktestErrCount indicates the number of linktest requests without a valid reply.
	LinktestErrCount atomic.Uint64

	// ConnectCount indicates the number of TCP connections established.
	ConnectCount atomic.Uint64
	// SelectCount indicates the number of transitions to the selected state.
	SelectCount atomic.Uint64
	// ConnRetryGauge indicates the number of failed connect attempts since the last success.
	ConnRetryGauge atomic.Uint32
}

func (m *ConnectionMetrics) incDataMsgSendCount()    { m.DataMsgSendCount.Add(1) }
func (m *ConnectionMetrics) incDataMsgRecvCount()    { m.DataMsgRecvCount.Add(1) }
func (m *ConnectionMetrics) incDataMsgErrCount()     { m.DataMsgErrCount.Add(1) }
func (m *ConnectionMetrics) incControlMsgSendCount() { m.ControlMsgSendCount.Add(1) }
func (m *ConnectionMetrics) incControlMsgRecvCount() { m.ControlMsgRecvCount.Add(1) }
func (m *ConnectionMetrics) incRejectSendCount()     { m.RejectSendCount.Add(1) }
func (m *ConnectionMetrics) incReplyTimeoutCount()   { m.ReplyTimeoutCount.Add(1) }
func (m *ConnectionMetrics) incInflightCount()       { m.InflightCount.Add(1) }
func (m *ConnectionMetrics) decInflightCount()       { m.InflightCount.Add(-1) }
func (m *ConnectionMetrics) incLinktestSendCount()   { m.LinktestSendCount.Add(1) }
func (m *ConnectionMetrics) incLinktestRecvCount()   { m.LinktestRecvCount.Add(1) }
func (m *ConnectionMetrics) incLinktestErrCount()    { m.LinktestErrCount.Add(1) }
func (m *ConnectionMetrics) incConnectCount()        { m.ConnectCount.Add(1) }
func (m *ConnectionMetrics) incSelectCount()         { m.SelectCount.Add(1) }
func (m *ConnectionMetrics) incConnRetryGauge()      { m.ConnRetryGauge.Add(1) }
func (m *ConnectionMetrics) resetConnRetryGauge()    { m.ConnRetryGauge.Store(0) }
