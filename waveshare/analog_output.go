package waveshare

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/arloliu/go-hwc/hwc"
	"github.com/arloliu/go-hwc/modbus"
)

// AOChannelCount is the number of DAC channels on the Analog Output 8CH
// board.
const AOChannelCount = 8

// aoStartAddress is the holding register address of channel 1.
const aoStartAddress uint16 = 0x0000

// DefaultScale maps the 0-10V output range onto the 0-10000 count range the
// analog boards store, one count per millivolt.
func DefaultScale() hwc.Scale {
	return hwc.Scale{SymbolicMin: 0, SymbolicMax: 10, PhysicalMin: 0, PhysicalMax: 10000}
}

// AOChannel addresses one DAC channel on an Analog Output 8CH board.
//
// Unit is the Modbus unit (slave) address of the board, Channel the 1-based
// channel number. A zero Scale selects DefaultScale.
type AOChannel struct {
	Unit    uint8
	Channel int
	Scale   hwc.Scale
}

// Device names the module family the property addresses.
func (AOChannel) Device() string { return "waveshare-ao8" }

// scale returns the channel scale, substituting the default for the zero
// value.
func (p AOChannel) scale() hwc.Scale {
	if p.Scale == (hwc.Scale{}) {
		return DefaultScale()
	}

	return p.Scale
}

// aoMember pairs a bound signal with its resolved channel property.
type aoMember struct {
	sig  *hwc.AnalogOutput
	prop AOChannel
}

// AnalogOutputEngine drives Analog Output 8CH DAC boards.
//
// A read cycle fetches each unit's 8-register bank with one Read Holding
// Registers request and commits the decoded values into the bound members.
// A write cycle overlays every staged member onto the last observed bank and
// pushes it back with one Write Multiple Registers request per unit; the
// next read confirms what the board accepted.
type AnalogOutputEngine struct {
	client modbus.Client

	mu     sync.Mutex
	bound  bool
	units  []uint8
	byUnit map[uint8][]aoMember
	banks  map[uint8][]uint16
}

var _ hwc.Engine = (*AnalogOutputEngine)(nil)

// NewAnalogOutputEngine creates an engine that drives Analog Output 8CH
// boards through client.
func NewAnalogOutputEngine(client modbus.Client) (*AnalogOutputEngine, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	return &AnalogOutputEngine{
		client: client,
		byUnit: make(map[uint8][]aoMember),
		banks:  make(map[uint8][]uint16),
	}, nil
}

// Bind validates and indexes the group members. Every member must be an
// *hwc.AnalogOutput carrying an AOChannel property with a channel in [1, 8]
// and a valid scale; no two members may address the same unit and channel.
func (e *AnalogOutputEngine) Bind(signals []hwc.Signal) error {
	byUnit := make(map[uint8][]aoMember, len(signals))
	claimed := make(map[[2]int]string, len(signals))

	for _, sig := range signals {
		out, ok := sig.(*hwc.AnalogOutput)
		if !ok {
			return fmt.Errorf("%w: %s is %s, want %s", ErrWrongSignalKind, sig.Name(), sig.Kind(), hwc.KindAnalogOutput)
		}

		prop, err := hwc.PropertyOf[AOChannel](sig)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrMissingProperty, sig.Name())
		}

		if prop.Channel < 1 || prop.Channel > AOChannelCount {
			return fmt.Errorf("%w: %s channel %d, want [1, %d]", ErrChannelOutOfRange, sig.Name(), prop.Channel, AOChannelCount)
		}

		if err := prop.scale().Validate(); err != nil {
			return fmt.Errorf("waveshare: %s: %w", sig.Name(), err)
		}

		key := [2]int{int(prop.Unit), prop.Channel}
		if owner, dup := claimed[key]; dup {
			return fmt.Errorf("%w: %s and %s both address unit %d channel %d",
				ErrDuplicateChannel, owner, sig.Name(), prop.Unit, prop.Channel)
		}
		claimed[key] = sig.Name()

		byUnit[prop.Unit] = append(byUnit[prop.Unit], aoMember{sig: out, prop: prop})
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.bound = true
	e.byUnit = byUnit
	e.units = sortedUnits(byUnit)

	return nil
}

// ReadStates reads each unit's channel bank and commits the decoded values
// into the bound members.
func (e *AnalogOutputEngine) ReadStates(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.bound {
		return ErrNotBound
	}

	for _, unit := range e.units {
		bank, err := e.client.ReadHoldingRegisters(ctx, unit, aoStartAddress, AOChannelCount)
		if err != nil {
			return fmt.Errorf("waveshare: read output bank of unit %d: %w", unit, err)
		}
		e.banks[unit] = bank

		for _, m := range e.byUnit[unit] {
			value, err := m.prop.scale().Decode(bank[m.prop.Channel-1])
			if err != nil {
				return fmt.Errorf("waveshare: decode %s: %w", m.sig.Name(), err)
			}
			m.sig.Commit(value)
		}
	}

	return nil
}

// WriteStates pushes staged values to every unit with pending members.
//
// The written bank starts from the last bank a read observed, zeros before
// the first read, with every staged member's encoded value overlaid, so one
// request per unit updates all of its changed channels at once.
func (e *AnalogOutputEngine) WriteStates(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.bound {
		return ErrNotBound
	}

	for _, unit := range e.units {
		members := e.byUnit[unit]
		if !slices.ContainsFunc(members, func(m aoMember) bool { return m.sig.Pending() }) {
			continue
		}

		bank := make([]uint16, AOChannelCount)
		copy(bank, e.banks[unit])

		for _, m := range members {
			staged, ok := m.sig.Staged()
			if !ok {
				continue
			}

			raw, err := m.prop.scale().Encode(staged)
			if err != nil {
				return fmt.Errorf("waveshare: encode %s: %w", m.sig.Name(), err)
			}
			bank[m.prop.Channel-1] = raw
		}

		if err := e.client.WriteMultipleRegisters(ctx, unit, aoStartAddress, bank); err != nil {
			return fmt.Errorf("waveshare: write output bank of unit %d: %w", unit, err)
		}
	}

	return nil
}

// sortedUnits returns the map keys in ascending order, so cycles visit
// units deterministically.
func sortedUnits[T any](byUnit map[uint8][]T) []uint8 {
	units := make([]uint8, 0, len(byUnit))
	for unit := range byUnit {
		units = append(units, unit)
	}
	slices.Sort(units)

	return units
}
