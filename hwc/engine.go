package hwc

import "context"

// Engine maps a set of signals onto device registers and moves state between
// process memory and hardware.
//
// Engines are instance-based: construct one per device family and transport,
// and pass it into a SignalGroup. A group serializes cycles, so an engine only
// has to be safe for one cycle at a time plus concurrent Bind calls.
type Engine interface {
	// Bind validates and indexes the group members. It is called again whenever
	// the group membership or the group's engine changes, and always receives
	// the full member list.
	Bind(signals []Signal) error

	// ReadStates reads the device registers backing every bound member and
	// commits the decoded values.
	ReadStates(ctx context.Context) error

	// WriteStates pushes staged values to the device. It does not commit:
	// only a read cycle confirms what the device accepted.
	WriteStates(ctx context.Context) error
}
