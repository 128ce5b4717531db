// Package tagmap builds deployments from a declarative YAML signal map.
//
// A document names transports (serial or TCP endpoints), engines (a device
// driver bound to one transport) and signals (named I/O points on one
// engine):
//
//	transports:
//	  bus:  {kind: rtu-serial, port: /dev/ttyUSB0, baud: 9600}
//	  plc:  {kind: tcp, address: "10.0.0.50:502", response_timeout: 1s}
//	engines:
//	  dac:  {driver: waveshare-ao8, transport: bus}
//	  rack: {driver: waveshare-relay, transport: plc, options: {channels: 8}}
//	signals:
//	  - {name: furnace_sp, kind: analog-output, engine: dac, unit: 1, channel: 1,
//	     immediate: true,
//	     scale: {symbolic_min: 0, symbolic_max: 10, physical_min: 0, physical_max: 10000}}
//	  - {name: pump_run, kind: digital-output, engine: rack, unit: 1, channel: 3}
//
// Load or Parse decode the document strictly and validate it; Build turns a
// valid document into a Deployment holding one connection per transport and
// one signal group per engine:
//
//	cfg, err := tagmap.Load("map.yaml")
//	if err != nil {
//		return err
//	}
//
//	dep, err := tagmap.Build(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer dep.Close()
//
//	if err := dep.Open(ctx); err != nil {
//		return err
//	}
//
//	sp, _ := dep.Signal("furnace_sp")
//
// Drivers for the Waveshare analog output, analog input and relay modules are
// built in; RegisterDriver and the WithDriver build option admit custom
// device families.
//
// Watch re-parses the document whenever the file changes, debounced, so long
// running services can swap deployments without a restart.
package tagmap
