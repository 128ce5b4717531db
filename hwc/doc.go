// Package hwc provides the core signal model for communication with industrial
// I/O hardware such as Modbus-connected analog and digital modules.
//
// The package is organized around three ideas:
//
// Signals:
// A Signal is a named I/O point with two values: the committed value last
// confirmed by the device, and the staged value a caller intends to write.
// Four concrete kinds are provided:
//   - DigitalInput: read-only boolean point.
//   - DigitalOutput: writable boolean point.
//   - AnalogInput: read-only engineering value.
//   - AnalogOutput: writable engineering value.
//
// Output setters stage intent; only a device read confirms it. Getters on
// output signals report ErrStateNotSynced while staged intent is pending, so
// callers never mistake an unsent value for device truth.
//
// Groups and Engines:
// A SignalGroup owns a set of signals and delegates bulk transfers to an
// Engine, which maps the members onto device registers. ReadStates commits
// device values into every member; WriteStates pushes staged values out.
// Device-specific engines live in separate packages and are constructed
// explicitly and passed in; there are no process-wide singletons.
//
// Update Disciplines:
// Each signal chooses one of two update modes:
//   - Immediate: every getter triggers a read cycle and every setter triggers
//     a write cycle, synchronously in the caller's goroutine.
//   - Deferred (default): mutations only stage; cycles run when the owner
//     calls WriteStates/ReadStates/Sync, or continuously via a Poller.
//
// The Poller runs deferred write-then-read cycles on an interval and fans out
// value-change samples to handlers and sinks.
//
// The package also provides the shared plumbing used by transport packages:
// a connection state machine (ConnStateMgr), an atomic open/close lifecycle
// guard (AtomicOpState), and a task manager for supervised goroutines
// (TaskManager).
package hwc
