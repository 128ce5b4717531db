package modbus

import "errors"

var (
	// ErrInvalidQuantity indicates a request quantity outside the limits of
	// its function code.
	ErrInvalidQuantity = errors.New("modbus: invalid quantity")
	// ErrInvalidAddress indicates a request range that runs past the end of
	// the 16-bit address space.
	ErrInvalidAddress = errors.New("modbus: invalid address range")
	// ErrBroadcast indicates an operation that cannot use the broadcast
	// unit 0, such as a read or a diagnostics probe.
	ErrBroadcast = errors.New("modbus: operation does not support the broadcast unit")
)

var (
	// ErrShortResponse indicates a response PDU shorter than its layout requires.
	ErrShortResponse = errors.New("modbus: short response")
	// ErrCodeMismatch indicates a response whose function code does not match
	// the request.
	ErrCodeMismatch = errors.New("modbus: function code mismatch")
	// ErrByteCountMismatch indicates a read response whose byte count field
	// disagrees with the requested quantity.
	ErrByteCountMismatch = errors.New("modbus: byte count mismatch")
	// ErrEchoMismatch indicates a write or diagnostics response that does not
	// echo the request.
	ErrEchoMismatch = errors.New("modbus: response does not echo request")
)

var (
	// ErrCRC indicates an RTU frame whose CRC-16 check failed.
	ErrCRC = errors.New("modbus: CRC mismatch")
	// ErrInvalidProtocolID indicates an MBAP header whose protocol identifier
	// is not zero.
	ErrInvalidProtocolID = errors.New("modbus: invalid MBAP protocol identifier")
	// ErrFrameTooLarge indicates a frame that exceeds the maximum ADU size.
	ErrFrameTooLarge = errors.New("modbus: frame too large")
)

var (
	// ErrNoRequestFunc indicates a BaseClient operation invoked before a
	// transport registered its RequestFunc.
	ErrNoRequestFunc = errors.New("modbus: no request function registered")
)
