package hwc

import "errors"

var (
	// ErrStateUnknown indicates that a signal has no committed value yet.
	// It is returned by getters before the first read cycle confirms the signal.
	ErrStateUnknown = errors.New("hwc: signal state unknown, not confirmed by a read cycle yet")

	// ErrStateNotSynced indicates that a staged value has not been sent to the device.
	// Output getters return it while staged intent differs from the committed value.
	ErrStateNotSynced = errors.New("hwc: a new state has not been sent to the device")

	// ErrSignalNotBound indicates that a signal is not registered in any signal group.
	// Immediate-update signals need a group to run their read/write cycles.
	ErrSignalNotBound = errors.New("hwc: signal is not bound to a signal group")

	// ErrNoProperty indicates that a signal carries no device property of the requested type.
	ErrNoProperty = errors.New("hwc: no device property of the requested type")
)

var (
	// ErrNilSignal indicates that a nil signal was passed to a group.
	ErrNilSignal = errors.New("hwc: signal is nil")

	// ErrNilEngine indicates that a nil engine was passed to SetEngine.
	ErrNilEngine = errors.New("hwc: engine is nil")

	// ErrNoEngine indicates that a group cycle was requested before an engine was set.
	ErrNoEngine = errors.New("hwc: signal group has no engine")

	// ErrEmptySignalName indicates that a signal has an empty name.
	ErrEmptySignalName = errors.New("hwc: signal name is empty")

	// ErrDuplicateSignal indicates that a signal name is already registered in the group.
	ErrDuplicateSignal = errors.New("hwc: duplicate signal name")
)

var (
	// ErrValueOutOfRange indicates that a value falls outside a scale's range.
	ErrValueOutOfRange = errors.New("hwc: value out of range")

	// ErrInvalidScale indicates an inverted or degenerate scale range.
	ErrInvalidScale = errors.New("hwc: invalid scale range")
)

var (
	// ErrInvalidTransition is returned when an attempt is made to transition the
	// connection state to an invalid state.
	ErrInvalidTransition = errors.New("hwc: invalid connection state transition")

	// ErrTaskExists indicates that a task with the same name is already running.
	ErrTaskExists = errors.New("hwc: task already exists")

	// ErrTaskNotFound indicates that no task with the given name is running.
	ErrTaskNotFound = errors.New("hwc: task not found")

	// ErrMgrStopped indicates that the task manager has been stopped.
	ErrMgrStopped = errors.New("hwc: task manager already stopped")
)

var (
	// ErrPollerStarted indicates that Start was called on a running poller.
	ErrPollerStarted = errors.New("hwc: poller already started")

	// ErrPollerStopped indicates that Start was called on a stopped poller.
	// A stopped poller cannot be restarted.
	ErrPollerStopped = errors.New("hwc: poller already stopped")

	// ErrNilGroup indicates that a nil signal group was passed to NewPoller.
	ErrNilGroup = errors.New("hwc: signal group is nil")
)
