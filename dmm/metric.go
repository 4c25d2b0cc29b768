package dmm

import (
	"sync/atomic"
)

// ConnectionMetrics contains atomic metrics for a meter session.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// CommandSendCount indicates the number of commands fully written.
	CommandSendCount atomic.Uint64
	// CommandErrCount indicates the number of commands discarded after a
	// hard write error.
	CommandErrCount atomic.Uint64
	// WriteWouldBlockCount indicates the number of writes that made no progress.
	WriteWouldBlockCount atomic.Uint64
	// ReadErrCount indicates the number of read bursts ended by an I/O error.
	ReadErrCount atomic.Uint64

	// LineRecvCount indicates the number of terminated reply lines received.
	LineRecvCount atomic.Uint64
	// MalformedLineCount indicates the number of reply lines dropped as
	// unparseable or over length.
	MalformedLineCount atomic.Uint64

	// MeasurementCount indicates the number of measurements parsed.
	MeasurementCount atomic.Uint64
	// OverloadCount indicates the number of overload readings.
	OverloadCount atomic.Uint64
	// MeasurementDropCount indicates the number of measurements dropped
	// because the consumer channel was full.
	MeasurementDropCount atomic.Uint64

	// FunctionCheckCount indicates the number of FUNC? queries written.
	FunctionCheckCount atomic.Uint64
	// ModeChangeCount indicates the number of mode changes detected.
	ModeChangeCount atomic.Uint64
	// ModeDropCount indicates the number of mode changes dropped because the
	// consumer channel was full.
	ModeDropCount atomic.Uint64

	// ReplyTimeoutCount indicates the number of queries abandoned without reply.
	ReplyTimeoutCount atomic.Uint64
	// ForcedReleaseCount indicates the number of sessions released before the
	// disconnect handshake completed.
	ForcedReleaseCount atomic.Uint64

	// InflightGauge is 1 while a query waits for its reply.
	InflightGauge atomic.Int64
}

func (m *ConnectionMetrics) incCommandSendCount()     { m.CommandSendCount.Add(1) }
func (m *ConnectionMetrics) incCommandErrCount()      { m.CommandErrCount.Add(1) }
func (m *ConnectionMetrics) incWriteWouldBlockCount() { m.WriteWouldBlockCount.Add(1) }
func (m *ConnectionMetrics) incReadErrCount()         { m.ReadErrCount.Add(1) }
func (m *ConnectionMetrics) incLineRecvCount()        { m.LineRecvCount.Add(1) }
func (m *ConnectionMetrics) incMalformedLineCount()   { m.MalformedLineCount.Add(1) }
func (m *ConnectionMetrics) incMeasurementCount()     { m.MeasurementCount.Add(1) }
func (m *ConnectionMetrics) incOverloadCount()        { m.OverloadCount.Add(1) }
func (m *ConnectionMetrics) incMeasurementDropCount() { m.MeasurementDropCount.Add(1) }
func (m *ConnectionMetrics) incFunctionCheckCount()   { m.FunctionCheckCount.Add(1) }
func (m *ConnectionMetrics) incModeChangeCount()      { m.ModeChangeCount.Add(1) }
func (m *ConnectionMetrics) incModeDropCount()        { m.ModeDropCount.Add(1) }
func (m *ConnectionMetrics) incReplyTimeoutCount()    { m.ReplyTimeoutCount.Add(1) }
func (m *ConnectionMetrics) incForcedReleaseCount()   { m.ForcedReleaseCount.Add(1) }

func (m *ConnectionMetrics) setInflight(on bool) {
	if on {
		m.InflightGauge.Store(1)
	} else {
		m.InflightGauge.Store(0)
	}
}
