// Package modbustcp implements the Modbus TCP transport.
//
// A Connection embeds [modbus.BaseClient], so every Client operation is
// available directly on it. Frames are MBAP-encapsulated PDUs; a sender task
// serializes writes, a receiver task matches responses to in-flight requests
// by transaction ID, and multiple requests may be outstanding at once.
//
// The connection runs an active connect loop with exponential backoff when
// auto-reconnect is enabled, and can probe the device periodically with a
// diagnostics echo request to detect half-dead links.
//
// Typical usage:
//
//	cfg, _ := modbustcp.NewConnectionConfig("192.168.1.200", 502)
//	conn, _ := modbustcp.NewConnection(ctx, cfg)
//	_ = conn.Open(true)
//	defer conn.Close()
//
//	values, err := conn.ReadHoldingRegisters(ctx, 1, 0, 8)
package modbustcp
