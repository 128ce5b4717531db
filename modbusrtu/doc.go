// Package modbusrtu implements the Modbus RTU transport.
//
// A Connection embeds [modbus.BaseClient], so every Client operation is
// available directly on it. Frames are CRC-16 protected RTU ADUs on a
// half-duplex line: one exchange owns the line at a time, and the response
// length is derived from the request's function code so framing never
// depends on timing alone. Garbled exchanges (CRC errors, truncated frames,
// silence) are retried a bounded number of times; exception responses are
// definitive and never retried.
//
// The line can be a local serial port, typically an RS-485 adapter, or a
// TCP stream to a serial device server carrying the same RTU framing. Both
// flavors share the reconnect loop with exponential backoff and the
// optional diagnostics echo probe.
//
// Typical usage:
//
//	cfg, _ := modbusrtu.NewSerialConfig("/dev/ttyUSB0",
//		modbusrtu.WithBaudRate(19200),
//		modbusrtu.WithParity(modbusrtu.ParityEven),
//	)
//	conn, _ := modbusrtu.NewConnection(ctx, cfg)
//	_ = conn.Open(true)
//	defer conn.Close()
//
//	values, err := conn.ReadHoldingRegisters(ctx, 1, 0, 8)
package modbusrtu
