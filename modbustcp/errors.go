package modbustcp

import "errors"

var (
	// ErrConfigNil indicates that a nil configuration was passed to NewConnection.
	ErrConfigNil = errors.New("modbustcp: connection config is nil")

	// ErrConnClosed indicates that the connection was closed while a request
	// was queued or awaiting its response.
	ErrConnClosed = errors.New("modbustcp: connection closed")

	// ErrNotConnected indicates that a request was issued while the link is down.
	ErrNotConnected = errors.New("modbustcp: not connected")

	// ErrResponseTimeout indicates that no response arrived within the response
	// timeout, after exhausting the configured retries.
	ErrResponseTimeout = errors.New("modbustcp: response timeout")

	// ErrSendTimeout indicates that the sender queue stayed full for the whole
	// send timeout.
	ErrSendTimeout = errors.New("modbustcp: send timeout")
)
