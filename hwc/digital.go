package hwc

import "context"

// DigitalInput is a read-only boolean I/O point, e.g. an opto-isolated input
// channel on a relay module.
type DigitalInput struct {
	baseSignal
}

// NewDigitalInput creates a digital input signal with the given name.
func NewDigitalInput(name string, opts ...SignalOption) *DigitalInput {
	return &DigitalInput{baseSignal: newBaseSignal(name, KindDigitalInput, opts)}
}

// State returns the device-confirmed state of the input.
//
// In immediate-update mode it runs the owning group's read cycle first.
// It returns ErrStateUnknown before the first read cycle commits a value.
func (s *DigitalInput) State(ctx context.Context) (bool, error) {
	if err := s.syncFromDevice(ctx); err != nil {
		return false, err
	}

	v, err := s.confirmed()
	if err != nil {
		return false, err
	}

	return v != 0, nil
}

// DigitalOutput is a writable boolean I/O point, e.g. a relay coil.
type DigitalOutput struct {
	baseSignal
}

// NewDigitalOutput creates a digital output signal with the given name.
func NewDigitalOutput(name string, opts ...SignalOption) *DigitalOutput {
	return &DigitalOutput{baseSignal: newBaseSignal(name, KindDigitalOutput, opts)}
}

// State returns the device-confirmed state of the output.
//
// In immediate-update mode it runs the owning group's read cycle first.
// It returns ErrStateUnknown before the first read cycle commits a value, and
// ErrStateNotSynced while a staged state has not been sent to the device.
func (s *DigitalOutput) State(ctx context.Context) (bool, error) {
	if err := s.syncFromDevice(ctx); err != nil {
		return false, err
	}

	v, err := s.confirmed()
	if err != nil {
		return false, err
	}

	return v != 0, nil
}

// Set stages the desired output state.
//
// In immediate-update mode it runs the owning group's write cycle; otherwise
// the state is sent on the next WriteStates, Sync or poller cycle.
func (s *DigitalOutput) Set(ctx context.Context, on bool) error {
	v := 0.0
	if on {
		v = 1.0
	}
	s.Stage(v)

	return s.syncToDevice(ctx)
}
