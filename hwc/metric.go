package hwc

import (
	"sync/atomic"
	"time"
)

// PollerMetrics contains atomic metrics for a Poller.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type PollerMetrics struct {
	// CycleCount indicates the number of completed poll cycles.
	CycleCount atomic.Uint64
	// ReadErrCount indicates the number of failed read cycles.
	ReadErrCount atomic.Uint64
	// WriteErrCount indicates the number of failed write cycles.
	WriteErrCount atomic.Uint64
	// SampleCount indicates the number of value-change samples emitted.
	SampleCount atomic.Uint64
	// SinkErrCount indicates the number of failed sink publishes.
	SinkErrCount atomic.Uint64
	// LastCycleNanos indicates the duration of the last poll cycle in nanoseconds.
	LastCycleNanos atomic.Int64
}

func (m *PollerMetrics) incCycleCount() {
	m.CycleCount.Add(1)
}

func (m *PollerMetrics) incReadErrCount() {
	m.ReadErrCount.Add(1)
}

func (m *PollerMetrics) incWriteErrCount() {
	m.WriteErrCount.Add(1)
}

func (m *PollerMetrics) incSampleCount() {
	m.SampleCount.Add(1)
}

func (m *PollerMetrics) incSinkErrCount() {
	m.SinkErrCount.Add(1)
}

func (m *PollerMetrics) setLastCycle(d time.Duration) {
	m.LastCycleNanos.Store(int64(d))
}
