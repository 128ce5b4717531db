package waveshare

import "errors"

var (
	// ErrNilClient indicates that a nil modbus.Client was passed to an engine
	// constructor.
	ErrNilClient = errors.New("waveshare: modbus client is nil")

	// ErrWrongSignalKind indicates that a signal of an unsupported kind was
	// bound to the engine.
	ErrWrongSignalKind = errors.New("waveshare: signal kind not supported by this engine")

	// ErrMissingProperty indicates that a bound signal carries no channel
	// property for the engine's device family.
	ErrMissingProperty = errors.New("waveshare: signal has no channel property for this device")

	// ErrChannelOutOfRange indicates a channel number outside the board's
	// channel bank.
	ErrChannelOutOfRange = errors.New("waveshare: channel out of range")

	// ErrDuplicateChannel indicates that two signals address the same unit
	// and channel.
	ErrDuplicateChannel = errors.New("waveshare: duplicate unit/channel")

	// ErrNotBound indicates that a cycle was requested before the engine was
	// bound to a signal group.
	ErrNotBound = errors.New("waveshare: engine is not bound to a signal group")

	// ErrInvalidChannelCount indicates an unsupported relay board channel
	// count.
	ErrInvalidChannelCount = errors.New("waveshare: invalid channel count")
)
