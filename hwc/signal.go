package hwc

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/arloliu/go-hwc/internal/util"
)

// Kind identifies the class of I/O point a signal represents.
type Kind uint8

const (
	// KindDigitalInput is a read-only boolean point, e.g. an opto-isolated input.
	KindDigitalInput Kind = iota
	// KindDigitalOutput is a writable boolean point, e.g. a relay coil.
	KindDigitalOutput
	// KindAnalogInput is a read-only engineering value, e.g. a 0-10V measurement.
	KindAnalogInput
	// KindAnalogOutput is a writable engineering value, e.g. a DAC channel.
	KindAnalogOutput
)

// IsInput returns if the kind is read-only from the device's point of view.
func (k Kind) IsInput() bool { return k == KindDigitalInput || k == KindAnalogInput }

// IsOutput returns if the kind accepts writes.
func (k Kind) IsOutput() bool { return k == KindDigitalOutput || k == KindAnalogOutput }

// IsDigital returns if the kind carries boolean values.
func (k Kind) IsDigital() bool { return k == KindDigitalInput || k == KindDigitalOutput }

// IsAnalog returns if the kind carries engineering values.
func (k Kind) IsAnalog() bool { return k == KindAnalogInput || k == KindAnalogOutput }

// String returns string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindDigitalInput:
		return "digital-input"
	case KindDigitalOutput:
		return "digital-output"
	case KindAnalogInput:
		return "analog-input"
	case KindAnalogOutput:
		return "analog-output"
	default:
		return "unknown"
	}
}

// Signal is the engine-facing view of a named I/O point.
//
// Every signal carries two optional values, stored as float64 with digital
// states mapped to 0/1:
//   - the committed value, last confirmed by a device read cycle
//   - the staged value, pending write intent
//
// Commit is called by engines during a read cycle and assigns both values:
// device truth wins and destroys unflushed intent. Stage is called by output
// setters and assigns only the staged value.
//
// The concrete types DigitalInput, DigitalOutput, AnalogInput and AnalogOutput
// add the typed getters and setters callers use.
type Signal interface {
	// Name returns the unique signal name within its group.
	Name() string
	// Kind returns the signal kind.
	Kind() Kind
	// Properties returns the device-addressing properties attached at construction.
	Properties() []DeviceProperties
	// ImmediateUpdate reports whether getters and setters trigger device cycles
	// synchronously.
	ImmediateUpdate() bool

	// Committed returns the device-confirmed value, false before the first commit.
	Committed() (float64, bool)
	// Staged returns the pending write intent, false when nothing was staged.
	Staged() (float64, bool)
	// Commit sets both the committed and the staged value to v.
	Commit(v float64)
	// Stage records v as pending write intent without touching the committed value.
	Stage(v float64)
	// Synced reports whether both values are known and equal.
	Synced() bool
	// Pending reports whether the signal carries staged intent that no read
	// cycle has confirmed yet.
	Pending() bool

	// Group returns the owning signal group, nil while unbound.
	Group() *SignalGroup
	// SetGroup binds the signal to its owning group. It is called by the group
	// on registration.
	SetGroup(g *SignalGroup)

	String() string
}

// SignalOption configures a signal at construction time.
type SignalOption func(s *baseSignal)

// WithProperties attaches device-addressing properties to the signal.
func WithProperties(props ...DeviceProperties) SignalOption {
	return func(s *baseSignal) {
		s.props = append(s.props, props...)
	}
}

// WithImmediateUpdate selects between immediate and deferred update mode.
//
// An immediate signal runs its group's read cycle on every getter and write
// cycle on every setter, synchronously in the caller's goroutine. A deferred
// signal (the default) only stages mutations and leaves cycles to the group
// owner or a Poller.
func WithImmediateUpdate(immediate bool) SignalOption {
	return func(s *baseSignal) {
		s.immediate = immediate
	}
}

// baseSignal carries the name, kind, properties, update mode, group binding
// and the committed/staged value pair shared by all concrete signal types.
type baseSignal struct {
	mu        sync.Mutex
	name      string
	kind      Kind
	props     []DeviceProperties
	immediate bool
	grp       *SignalGroup

	committed    float64
	staged       float64
	hasCommitted bool
	hasStaged    bool
}

func newBaseSignal(name string, kind Kind, opts []SignalOption) baseSignal {
	sig := baseSignal{name: name, kind: kind}
	for _, opt := range opts {
		opt(&sig)
	}

	return sig
}

// Name returns the unique signal name within its group.
func (s *baseSignal) Name() string { return s.name }

// Kind returns the signal kind.
func (s *baseSignal) Kind() Kind { return s.kind }

// ImmediateUpdate reports whether getters and setters trigger device cycles synchronously.
func (s *baseSignal) ImmediateUpdate() bool { return s.immediate }

// Properties returns the device-addressing properties attached at construction.
func (s *baseSignal) Properties() []DeviceProperties {
	return util.CloneSlice(s.props, 0)
}

// Group returns the owning signal group, nil while unbound.
func (s *baseSignal) Group() *SignalGroup {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.grp
}

// SetGroup binds the signal to its owning group.
func (s *baseSignal) SetGroup(g *SignalGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grp = g
}

// Committed returns the device-confirmed value, false before the first commit.
func (s *baseSignal) Committed() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.committed, s.hasCommitted
}

// Staged returns the pending write intent, false when nothing was staged.
func (s *baseSignal) Staged() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.staged, s.hasStaged
}

// Commit sets both the committed and the staged value to v.
//
// Engines call it during read cycles; assigning both values makes device truth
// overwrite any intent a caller staged but never flushed.
func (s *baseSignal) Commit(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.committed = v
	s.hasCommitted = true
	s.staged = v
	s.hasStaged = true
}

// Stage records v as pending write intent without touching the committed value.
func (s *baseSignal) Stage(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.staged = v
	s.hasStaged = true
}

// Synced reports whether both values are known and equal.
func (s *baseSignal) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.hasCommitted && s.hasStaged && s.committed == s.staged
}

// Pending reports whether the signal carries staged intent that no read cycle
// has confirmed yet.
func (s *baseSignal) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasStaged {
		return false
	}

	return !s.hasCommitted || s.staged != s.committed
}

// String renders the signal for logs, e.g. "[analog-output] furnace_sp: committed=4.5 staged=5".
func (s *baseSignal) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	committed := "unset"
	if s.hasCommitted {
		committed = strconv.FormatFloat(s.committed, 'g', -1, 64)
	}
	staged := "unset"
	if s.hasStaged {
		staged = strconv.FormatFloat(s.staged, 'g', -1, 64)
	}

	return fmt.Sprintf("[%s] %s: committed=%s staged=%s", s.kind, s.name, committed, staged)
}

// confirmed returns the committed value, enforcing the getter contract:
// not readable on an output while staged intent is unconfirmed, and unknown
// until the first read cycle commits a value.
func (s *baseSignal) confirmed() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind.IsOutput() && s.hasStaged && (!s.hasCommitted || s.staged != s.committed) {
		return 0, fmt.Errorf("%w: %s", ErrStateNotSynced, s.name)
	}
	if !s.hasCommitted {
		return 0, fmt.Errorf("%w: %s", ErrStateUnknown, s.name)
	}

	return s.committed, nil
}

// syncFromDevice runs the owning group's read cycle when the signal is in
// immediate-update mode. An unbound immediate signal cannot reach its device
// and yields ErrSignalNotBound.
func (s *baseSignal) syncFromDevice(ctx context.Context) error {
	if !s.immediate {
		return nil
	}

	grp := s.Group()
	if grp == nil {
		return fmt.Errorf("%w: %s", ErrSignalNotBound, s.name)
	}

	return grp.ReadStates(ctx)
}

// syncToDevice runs the owning group's write cycle when the signal is in
// immediate-update mode.
func (s *baseSignal) syncToDevice(ctx context.Context) error {
	if !s.immediate {
		return nil
	}

	grp := s.Group()
	if grp == nil {
		return fmt.Errorf("%w: %s", ErrSignalNotBound, s.name)
	}

	return grp.WriteStates(ctx)
}
