package hwc

import "context"

// AnalogInput is a read-only engineering value, e.g. an ADC channel.
type AnalogInput struct {
	baseSignal
}

// NewAnalogInput creates an analog input signal with the given name.
func NewAnalogInput(name string, opts ...SignalOption) *AnalogInput {
	return &AnalogInput{baseSignal: newBaseSignal(name, KindAnalogInput, opts)}
}

// Value returns the device-confirmed value of the input.
//
// In immediate-update mode it runs the owning group's read cycle first.
// It returns ErrStateUnknown before the first read cycle commits a value.
func (s *AnalogInput) Value(ctx context.Context) (float64, error) {
	if err := s.syncFromDevice(ctx); err != nil {
		return 0, err
	}

	return s.confirmed()
}

// AnalogOutput is a writable engineering value, e.g. a DAC channel.
type AnalogOutput struct {
	baseSignal
}

// NewAnalogOutput creates an analog output signal with the given name.
func NewAnalogOutput(name string, opts ...SignalOption) *AnalogOutput {
	return &AnalogOutput{baseSignal: newBaseSignal(name, KindAnalogOutput, opts)}
}

// Value returns the device-confirmed value of the output.
//
// In immediate-update mode it runs the owning group's read cycle first.
// It returns ErrStateUnknown before the first read cycle commits a value, and
// ErrStateNotSynced while a staged value has not been sent to the device.
func (s *AnalogOutput) Value(ctx context.Context) (float64, error) {
	if err := s.syncFromDevice(ctx); err != nil {
		return 0, err
	}

	return s.confirmed()
}

// Set stages the desired output value.
//
// In immediate-update mode it runs the owning group's write cycle; otherwise
// the value is sent on the next WriteStates, Sync or poller cycle.
func (s *AnalogOutput) Set(ctx context.Context, value float64) error {
	s.Stage(value)

	return s.syncToDevice(ctx)
}
