// Package modbus provides the transport-independent Modbus protocol core:
// function codes, PDU construction and parsing, exception decoding, CRC-16
// and RTU framing, MBAP (TCP) framing, and the Client operation set device
// engines program against.
//
// A PDU (protocol data unit) is one function code plus its payload, without
// any framing. Transports wrap PDUs in either RTU frames (unit, PDU, CRC-16)
// or MBAP frames (transaction header, unit, PDU) and implement the actual
// exchange; see the modbustcp and modbusrtu packages.
//
// BaseClient implements all Client operations over a single registered
// RequestFunc, so a transport only has to provide one transaction primitive.
// Exception responses are decoded into *ExceptionError before parsing, and
// write responses are validated against the request echo.
//
// Supported functions:
//   - 0x01 Read Coils, 0x02 Read Discrete Inputs
//   - 0x03 Read Holding Registers, 0x04 Read Input Registers
//   - 0x05 Write Single Coil, 0x06 Write Single Register
//   - 0x08 Diagnostics (Return Query Data, used as a link probe)
//   - 0x0F Write Multiple Coils, 0x10 Write Multiple Registers
package modbus
