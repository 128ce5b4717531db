package modbus

import (
	"sync/atomic"
)

// ClientMetrics contains atomic metrics for a Modbus client transport.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
// The helpers are exported because transports live in their own packages.
type ClientMetrics struct {
	// RequestCount indicates the number of requests sent.
	RequestCount atomic.Uint64
	// ResponseCount indicates the number of well-formed responses received.
	ResponseCount atomic.Uint64
	// TimeoutCount indicates the number of requests that timed out.
	TimeoutCount atomic.Uint64
	// RetryCount indicates the total number of request retries.
	RetryCount atomic.Uint64
	// ExceptionCount indicates the number of exception responses received.
	ExceptionCount atomic.Uint64

	// ProbeSentCount indicates the number of link probes sent.
	ProbeSentCount atomic.Uint64
	// ProbeFailCount indicates the number of link probes that failed.
	ProbeFailCount atomic.Uint64

	// ReconnectCount indicates the number of reconnect attempts.
	ReconnectCount atomic.Uint64
	// PendingGauge indicates the number of requests in flight (waiting for response).
	PendingGauge atomic.Int64
}

func (m *ClientMetrics) IncRequestCount() {
	m.RequestCount.Add(1)
}

func (m *ClientMetrics) IncResponseCount() {
	m.ResponseCount.Add(1)
}

func (m *ClientMetrics) IncTimeoutCount() {
	m.TimeoutCount.Add(1)
}

func (m *ClientMetrics) IncRetryCount() {
	m.RetryCount.Add(1)
}

func (m *ClientMetrics) IncExceptionCount() {
	m.ExceptionCount.Add(1)
}

func (m *ClientMetrics) IncProbeSentCount() {
	m.ProbeSentCount.Add(1)
}

func (m *ClientMetrics) IncProbeFailCount() {
	m.ProbeFailCount.Add(1)
}

func (m *ClientMetrics) IncReconnectCount() {
	m.ReconnectCount.Add(1)
}

func (m *ClientMetrics) IncPendingGauge() {
	m.PendingGauge.Add(1)
}

func (m *ClientMetrics) DecPendingGauge() {
	m.PendingGauge.Add(-1)
}
