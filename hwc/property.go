package hwc

import "fmt"

// DeviceProperties describes how a signal maps onto a device. Concrete
// property types live in the device engine packages and carry whatever
// addressing the module family needs (unit ID, channel, scale).
type DeviceProperties interface {
	// Device names the module family the property addresses, e.g. "waveshare-ao8".
	Device() string
}

// PropertyOf returns the first device property of type T attached to the signal.
//
// It returns ErrNoProperty when the signal carries no property of that type,
// so engines can reject signals that were never addressed for their device.
func PropertyOf[T DeviceProperties](s Signal) (T, error) {
	var zero T

	if s == nil {
		return zero, ErrNilSignal
	}

	for _, prop := range s.Properties() {
		if typed, ok := prop.(T); ok {
			return typed, nil
		}
	}

	return zero, fmt.Errorf("%w: %T on signal %s", ErrNoProperty, zero, s.Name())
}
