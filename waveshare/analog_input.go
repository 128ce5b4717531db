package waveshare

import (
	"context"
	"fmt"
	"sync"

	"github.com/arloliu/go-hwc/hwc"
	"github.com/arloliu/go-hwc/modbus"
)

// AIChannelCount is the number of ADC channels on the Analog Input 8CH
// board.
const AIChannelCount = 8

// aiStartAddress is the input register address of channel 1.
const aiStartAddress uint16 = 0x0000

// AIChannel addresses one ADC channel on an Analog Input 8CH board.
//
// Unit is the Modbus unit (slave) address of the board, Channel the 1-based
// channel number. A zero Scale selects DefaultScale.
type AIChannel struct {
	Unit    uint8
	Channel int
	Scale   hwc.Scale
}

// Device names the module family the property addresses.
func (AIChannel) Device() string { return "waveshare-ai8" }

func (p AIChannel) scale() hwc.Scale {
	if p.Scale == (hwc.Scale{}) {
		return DefaultScale()
	}

	return p.Scale
}

// aiMember pairs a bound signal with its resolved channel property.
type aiMember struct {
	sig  *hwc.AnalogInput
	prop AIChannel
}

// AnalogInputEngine reads Analog Input 8CH ADC boards.
//
// A read cycle fetches each unit's 8-register input bank with one Read
// Input Registers request and commits the decoded values. The board has no
// writable channels, so write cycles are a no-op.
type AnalogInputEngine struct {
	client modbus.Client

	mu     sync.Mutex
	bound  bool
	units  []uint8
	byUnit map[uint8][]aiMember
}

var _ hwc.Engine = (*AnalogInputEngine)(nil)

// NewAnalogInputEngine creates an engine that reads Analog Input 8CH boards
// through client.
func NewAnalogInputEngine(client modbus.Client) (*AnalogInputEngine, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	return &AnalogInputEngine{
		client: client,
		byUnit: make(map[uint8][]aiMember),
	}, nil
}

// Bind validates and indexes the group members. Every member must be an
// *hwc.AnalogInput carrying an AIChannel property with a channel in [1, 8]
// and a valid scale; no two members may address the same unit and channel.
func (e *AnalogInputEngine) Bind(signals []hwc.Signal) error {
	byUnit := make(map[uint8][]aiMember, len(signals))
	claimed := make(map[[2]int]string, len(signals))

	for _, sig := range signals {
		in, ok := sig.(*hwc.AnalogInput)
		if !ok {
			return fmt.Errorf("%w: %s is %s, want %s", ErrWrongSignalKind, sig.Name(), sig.Kind(), hwc.KindAnalogInput)
		}

		prop, err := hwc.PropertyOf[AIChannel](sig)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrMissingProperty, sig.Name())
		}

		if prop.Channel < 1 || prop.Channel > AIChannelCount {
			return fmt.Errorf("%w: %s channel %d, want [1, %d]", ErrChannelOutOfRange, sig.Name(), prop.Channel, AIChannelCount)
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

		byUnit[prop.Unit] = append(byUnit[prop.Unit], aiMember{sig: in, prop: prop})
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.bound = true
	e.byUnit = byUnit
	e.units = sortedUnits(byUnit)

	return nil
}

// ReadStates reads each unit's input bank and commits the decoded values
// into the bound members.
func (e *AnalogInputEngine) ReadStates(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.bound {
		return ErrNotBound
	}

	for _, unit := range e.units {
		bank, err := e.client.ReadInputRegisters(ctx, unit, aiStartAddress, AIChannelCount)
		if err != nil {
			return fmt.Errorf("waveshare: read input bank of unit %d: %w", unit, err)
		}

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

// WriteStates is a no-op: the board has no writable channels.
func (e *AnalogInputEngine) WriteStates(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.bound {
		return ErrNotBound
	}

	return nil
}
