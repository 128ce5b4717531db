package modbusrtu

import "errors"

var (
	// ErrConfigNil indicates that a nil configuration was passed to NewConnection.
	ErrConfigNil = errors.New("modbusrtu: connection config is nil")

	// ErrConnClosed indicates that the stream was closed while an exchange
	// was in flight.
	ErrConnClosed = errors.New("modbusrtu: connection closed")

	// ErrNotConnected indicates that a request was issued while the link is down.
	ErrNotConnected = errors.New("modbusrtu: not connected")

	// ErrResponseTimeout indicates that the slave stayed silent for the whole
	// response timeout, after exhausting the configured retries.
	ErrResponseTimeout = errors.New("modbusrtu: response timeout")

	// ErrUnitMismatch indicates that a well-formed response carried a unit
	// address other than the one the request was sent to.
	ErrUnitMismatch = errors.New("modbusrtu: response unit mismatch")

	// ErrFrameTooShort indicates that the response transmission ceased before
	// the expected frame length was reached.
	ErrFrameTooShort = errors.New("modbusrtu: response frame too short")
)
