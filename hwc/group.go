package hwc

import (
	"context"
	"fmt"
	"sync"

	"github.com/arloliu/go-hwc/internal/util"
)

// SignalGroup owns a set of uniquely named signals and delegates bulk
// transfers to an Engine.
//
// The group serializes read and write cycles with an internal cycle mutex, so
// immediate-mode signal calls, explicit Sync calls and a Poller never
// interleave register transactions on the same device bank.
type SignalGroup struct {
	mu      sync.Mutex // guards membership and engine
	cycleMu sync.Mutex // serializes read/write cycles
	engine  Engine
	signals []Signal
	byName  map[string]Signal
}

// NewSignalGroup creates a signal group with the given members.
//
// The engine may be nil and set later with SetEngine; cycles fail with
// ErrNoEngine until one is set. Member names must be unique and non-empty.
func NewSignalGroup(engine Engine, signals ...Signal) (*SignalGroup, error) {
	grp := &SignalGroup{byName: make(map[string]Signal, len(signals))}

	if err := grp.Add(signals...); err != nil {
		return nil, err
	}

	if engine != nil {
		if err := grp.SetEngine(engine); err != nil {
			return nil, err
		}
	}

	return grp, nil
}

// Add registers more signals in the group, binds their back-references, and
// re-binds the engine when one is set.
func (g *SignalGroup) Add(signals ...Signal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	seen := make(map[string]struct{}, len(signals))
	for _, sig := range signals {
		if sig == nil {
			return ErrNilSignal
		}

		name := sig.Name()
		if name == "" {
			return ErrEmptySignalName
		}
		if _, exists := g.byName[name]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateSignal, name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateSignal, name)
		}
		seen[name] = struct{}{}
	}

	for _, sig := range signals {
		g.byName[sig.Name()] = sig
		g.signals = append(g.signals, sig)
		sig.SetGroup(g)
	}

	if g.engine != nil {
		return g.engine.Bind(util.CloneSlice(g.signals, 0))
	}

	return nil
}

// SetEngine sets or swaps the group's engine and binds all current members.
//
// A failed bind leaves the previous engine in place.
func (g *SignalGroup) SetEngine(engine Engine) error {
	if engine == nil {
		return ErrNilEngine
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := engine.Bind(util.CloneSlice(g.signals, 0)); err != nil {
		return err
	}
	g.engine = engine

	return nil
}

// Engine returns the group's engine, nil when none is set.
func (g *SignalGroup) Engine() Engine {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.engine
}

// ReadStates runs one read cycle: the engine commits device values into every member.
func (g *SignalGroup) ReadStates(ctx context.Context) error {
	g.cycleMu.Lock()
	defer g.cycleMu.Unlock()

	engine := g.Engine()
	if engine == nil {
		return ErrNoEngine
	}

	return engine.ReadStates(ctx)
}

// WriteStates runs one write cycle: the engine pushes staged values to the device.
func (g *SignalGroup) WriteStates(ctx context.Context) error {
	g.cycleMu.Lock()
	defer g.cycleMu.Unlock()

	engine := g.Engine()
	if engine == nil {
		return ErrNoEngine
	}

	return engine.WriteStates(ctx)
}

// Sync runs one write-then-read cycle under a single cycle lock: pending
// intent is flushed first, then device truth is committed back.
func (g *SignalGroup) Sync(ctx context.Context) error {
	g.cycleMu.Lock()
	defer g.cycleMu.Unlock()

	engine := g.Engine()
	if engine == nil {
		return ErrNoEngine
	}

	if g.HasPending() {
		if err := engine.WriteStates(ctx); err != nil {
			return err
		}
	}

	return engine.ReadStates(ctx)
}

// HasPending reports whether any member carries staged intent that no read
// cycle has confirmed yet.
func (g *SignalGroup) HasPending() bool {
	for _, sig := range g.Signals() {
		if sig.Pending() {
			return true
		}
	}

	return false
}

// Signal returns the member with the given name.
func (g *SignalGroup) Signal(name string) (Signal, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	sig, ok := g.byName[name]

	return sig, ok
}

// Signals returns a copy of the member list in registration order.
func (g *SignalGroup) Signals() []Signal {
	g.mu.Lock()
	defer g.mu.Unlock()

	return util.CloneSlice(g.signals, 0)
}

// Len returns the number of members.
func (g *SignalGroup) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.signals)
}
