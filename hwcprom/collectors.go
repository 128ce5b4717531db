package hwcprom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/go-hwc/hwc"
	"github.com/arloliu/go-hwc/modbus"
)

// Namespace is the metric namespace every collector of this package uses.
const Namespace = "hwc"

func counterFunc(subsystem, name, help string, constLabels prometheus.Labels, value func() float64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   Namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: constLabels,
	}, value)
}

func gaugeFunc(subsystem, name, help string, constLabels prometheus.Labels, value func() float64) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   Namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: constLabels,
	}, value)
}

// ClientCollectors returns collectors over the atomic counters of a Modbus
// client transport. Register them with MustRegister or any
// prometheus.Registerer.
func ClientCollectors(subsystem string, constLabels prometheus.Labels, m *modbus.ClientMetrics) []prometheus.Collector {
	return []prometheus.Collector{
		counterFunc(subsystem, "requests_total", "Requests sent.", constLabels,
			func() float64 { return float64(m.RequestCount.Load()) }),
		counterFunc(subsystem, "responses_total", "Well-formed responses received.", constLabels,
			func() float64 { return float64(m.ResponseCount.Load()) }),
		counterFunc(subsystem, "timeouts_total", "Requests that timed out.", constLabels,
			func() float64 { return float64(m.TimeoutCount.Load()) }),
		counterFunc(subsystem, "retries_total", "Request retries.", constLabels,
			func() float64 { return float64(m.RetryCount.Load()) }),
		counterFunc(subsystem, "exceptions_total", "Exception responses received.", constLabels,
			func() float64 { return float64(m.ExceptionCount.Load()) }),
		counterFunc(subsystem, "probes_sent_total", "Link probes sent.", constLabels,
			func() float64 { return float64(m.ProbeSentCount.Load()) }),
		counterFunc(subsystem, "probes_failed_total", "Link probes that failed.", constLabels,
			func() float64 { return float64(m.ProbeFailCount.Load()) }),
		counterFunc(subsystem, "reconnects_total", "Reconnect attempts.", constLabels,
			func() float64 { return float64(m.ReconnectCount.Load()) }),
		gaugeFunc(subsystem, "pending_requests", "Requests in flight.", constLabels,
			func() float64 { return float64(m.PendingGauge.Load()) }),
	}
}

// PollerCollectors returns collectors over the atomic counters of a Poller.
func PollerCollectors(subsystem string, constLabels prometheus.Labels, m *hwc.PollerMetrics) []prometheus.Collector {
	return []prometheus.Collector{
		counterFunc(subsystem, "cycles_total", "Completed poll cycles.", constLabels,
			func() float64 { return float64(m.CycleCount.Load()) }),
		counterFunc(subsystem, "read_errors_total", "Failed read cycles.", constLabels,
			func() float64 { return float64(m.ReadErrCount.Load()) }),
		counterFunc(subsystem, "write_errors_total", "Failed write cycles.", constLabels,
			func() float64 { return float64(m.WriteErrCount.Load()) }),
		counterFunc(subsystem, "samples_total", "Value-change samples emitted.", constLabels,
			func() float64 { return float64(m.SampleCount.Load()) }),
		counterFunc(subsystem, "sink_errors_total", "Failed sink publishes.", constLabels,
			func() float64 { return float64(m.SinkErrCount.Load()) }),
		gaugeFunc(subsystem, "last_cycle_seconds", "Duration of the last poll cycle.", constLabels,
			func() float64 { return float64(m.LastCycleNanos.Load()) / 1e9 }),
	}
}

// MustRegister registers collectors with reg, panicking on registration
// errors. It accepts the slices returned by ClientCollectors and
// PollerCollectors directly.
func MustRegister(reg prometheus.Registerer, collectors ...prometheus.Collector) {
	reg.MustRegister(collectors...)
}
