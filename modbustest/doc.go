// Package modbustest provides an in-memory Modbus slave for tests and
// examples.
//
// A Bank models one unit's address spaces: coils, discrete inputs, holding
// registers and input registers. Apply executes a request PDU against the
// bank and produces the response, including Modbus exception responses for
// out-of-range addresses and malformed payloads.
//
// A Server exposes any number of banks over Modbus TCP (Start) or over RTU
// framing on an arbitrary byte stream (ServeRTU), which makes net.Pipe a
// usable serial-line stand-in. Broadcast writes apply to every bank without
// a response; requests for unknown units answer with a gateway target
// failed exception. The OnRequest hook and SetResponseDelay inject faults:
// rewritten responses, exceptions, dropped responses and slow devices.
package modbustest
