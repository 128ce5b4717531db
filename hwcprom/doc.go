// Package hwcprom exports go-hwc metrics as Prometheus collectors.
//
// Transport connections and pollers keep their counters in plain atomic
// structs (modbus.ClientMetrics, hwc.PollerMetrics), so the core packages
// carry no metrics dependency. This package bridges those structs into
// prometheus CounterFunc and GaugeFunc collectors that read the atomics on
// every scrape.
//
// All metrics live under the "hwc" namespace. The subsystem argument
// separates instances, typically the transport or poller name, and the
// constLabels are attached to every collector of the set:
//
//	reg := prometheus.NewRegistry()
//	hwcprom.MustRegister(reg,
//		hwcprom.ClientCollectors("modbus_tcp", prometheus.Labels{"target": cfg.Addr()}, conn.Metrics())...)
//	hwcprom.MustRegister(reg,
//		hwcprom.PollerCollectors("poller", prometheus.Labels{"group": "dac"}, poller.Metrics())...)
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package hwcprom
