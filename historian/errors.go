package historian

import "errors"

var (
	// ErrNoSamples indicates that no sample was ever recorded for the signal.
	ErrNoSamples = errors.New("historian: no samples for signal")
	// ErrClosed indicates an operation on a closed store.
	ErrClosed = errors.New("historian: store is closed")
)
