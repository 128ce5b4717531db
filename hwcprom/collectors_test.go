package hwcprom

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-hwc/hwc"
	"github.com/arloliu/go-hwc/modbus"
)

// gatherValues flattens a registry into metric name to value pairs.
func gatherValues(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()

	fams, err := reg.Gather()
	require.NoError(t, err)

	got := make(map[string]float64, len(fams))
	for _, fam := range fams {
		for _, metric := range fam.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				got[fam.GetName()] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				got[fam.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}

	return got
}

func TestClientCollectors(t *testing.T) {
	m := &modbus.ClientMetrics{}
	m.IncRequestCount()
	m.IncRequestCount()
	m.IncRequestCount()
	m.IncResponseCount()
	m.IncResponseCount()
	m.IncTimeoutCount()
	m.IncRetryCount()
	m.IncExceptionCount()
	m.IncProbeSentCount()
	m.IncProbeFailCount()
	m.IncReconnectCount()
	m.IncPendingGauge()
	m.IncPendingGauge()

	reg := prometheus.NewRegistry()
	MustRegister(reg, ClientCollectors("tcp", prometheus.Labels{"target": "10.0.0.5:502"}, m)...)

	want := map[string]float64{
		"hwc_tcp_requests_total":      3,
		"hwc_tcp_responses_total":     2,
		"hwc_tcp_timeouts_total":      1,
		"hwc_tcp_retries_total":       1,
		"hwc_tcp_exceptions_total":    1,
		"hwc_tcp_probes_sent_total":   1,
		"hwc_tcp_probes_failed_total": 1,
		"hwc_tcp_reconnects_total":    1,
		"hwc_tcp_pending_requests":    2,
	}
	require.Equal(t, want, gatherValues(t, reg))

	// Collectors read the atomics on every scrape, not a snapshot.
	m.IncRequestCount()
	m.DecPendingGauge()

	got := gatherValues(t, reg)
	assert.Equal(t, float64(4), got["hwc_tcp_requests_total"])
	assert.Equal(t, float64(1), got["hwc_tcp_pending_requests"])
}

func TestPollerCollectors(t *testing.T) {
	m := &hwc.PollerMetrics{}
	m.CycleCount.Add(5)
	m.ReadErrCount.Add(1)
	m.WriteErrCount.Add(2)
	m.SampleCount.Add(40)
	m.SinkErrCount.Add(3)
	m.LastCycleNanos.Store(int64(1500 * time.Millisecond))

	reg := prometheus.NewRegistry()
	MustRegister(reg, PollerCollectors("poller", prometheus.Labels{"group": "dac"}, m)...)

	want := map[string]float64{
		"hwc_poller_cycles_total":       5,
		"hwc_poller_read_errors_total":  1,
		"hwc_poller_write_errors_total": 2,
		"hwc_poller_samples_total":      40,
		"hwc_poller_sink_errors_total":  3,
		"hwc_poller_last_cycle_seconds": 1.5,
	}
	require.Equal(t, want, gatherValues(t, reg))
}

func TestCollectorsConstLabels(t *testing.T) {
	m := &modbus.ClientMetrics{}

	reg := prometheus.NewRegistry()
	MustRegister(reg, ClientCollectors("rtu", prometheus.Labels{"device": "/dev/ttyUSB0"}, m)...)

	fams, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, fams, 9)

	for _, fam := range fams {
		for _, metric := range fam.GetMetric() {
			labels := metric.GetLabel()
			require.Len(t, labels, 1, "family %s", fam.GetName())
			assert.Equal(t, "device", labels[0].GetName())
			assert.Equal(t, "/dev/ttyUSB0", labels[0].GetValue())
		}
	}
}

func TestMustRegisterDuplicate(t *testing.T) {
	m := &hwc.PollerMetrics{}

	reg := prometheus.NewRegistry()
	MustRegister(reg, PollerCollectors("poller", nil, m)...)

	require.Panics(t, func() {
		MustRegister(reg, PollerCollectors("poller", nil, m)...)
	})
}
