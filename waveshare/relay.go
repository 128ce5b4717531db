package waveshare

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/arloliu/go-hwc/hwc"
	"github.com/arloliu/go-hwc/modbus"
)

// DefaultRelayChannelCount is the channel count of the 8-channel relay
// board, the smallest of the family.
const DefaultRelayChannelCount = 8

// relayStartAddress is the coil and discrete input address of channel 1.
const relayStartAddress uint16 = 0x0000

// RelayChannel addresses one relay coil on a Modbus POE ETH Relay board.
//
// Unit is the Modbus unit (slave) address of the board, Channel the 1-based
// relay number.
type RelayChannel struct {
	Unit    uint8
	Channel int
}

// Device names the module family the property addresses.
func (RelayChannel) Device() string { return "waveshare-relay" }

// InputChannel addresses one opto-isolated digital input on a Modbus POE
// ETH Relay board.
//
// Unit is the Modbus unit (slave) address of the board, Channel the 1-based
// input number.
type InputChannel struct {
	Unit    uint8
	Channel int
}

// Device names the module family the property addresses.
func (InputChannel) Device() string { return "waveshare-relay" }

type relayMember struct {
	sig  *hwc.DigitalOutput
	prop RelayChannel
}

type inputMember struct {
	sig  *hwc.DigitalInput
	prop InputChannel
}

// RelayOption configures a RelayEngine at construction time.
type RelayOption interface {
	apply(e *RelayEngine) error
}

type relayOptFunc func(e *RelayEngine) error

func (f relayOptFunc) apply(e *RelayEngine) error { return f(e) }

// WithChannelCount sets the board's channel count. The family ships in 8,
// 16 and 32 channel versions; the default is 8.
func WithChannelCount(n int) RelayOption {
	return relayOptFunc(func(e *RelayEngine) error {
		if n != 8 && n != 16 && n != 32 {
			return fmt.Errorf("%w: %d, want 8, 16 or 32", ErrInvalidChannelCount, n)
		}
		e.channels = n

		return nil
	})
}

// RelayEngine drives Modbus POE ETH Relay boards.
//
// Relay coils back *hwc.DigitalOutput members addressed by RelayChannel
// properties; the board's opto-isolated inputs back *hwc.DigitalInput
// members addressed by InputChannel properties. A read cycle fetches each
// unit's coil bank with one Read Coils request, plus its input bank with
// one Read Discrete Inputs request when input members exist. A write cycle
// overlays staged relay members onto the last observed coil bank and pushes
// it with one Write Multiple Coils request per unit.
type RelayEngine struct {
	client   modbus.Client
	channels int

	mu          sync.Mutex
	bound       bool
	relayUnits  []uint8
	inputUnits  []uint8
	relayByUnit map[uint8][]relayMember
	inputByUnit map[uint8][]inputMember
	banks       map[uint8][]bool
}

var _ hwc.Engine = (*RelayEngine)(nil)

// NewRelayEngine creates an engine that drives Modbus POE ETH Relay boards
// through client.
func NewRelayEngine(client modbus.Client, opts ...RelayOption) (*RelayEngine, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	e := &RelayEngine{
		client:      client,
		channels:    DefaultRelayChannelCount,
		relayByUnit: make(map[uint8][]relayMember),
		inputByUnit: make(map[uint8][]inputMember),
		banks:       make(map[uint8][]bool),
	}

	for _, opt := range opts {
		if err := opt.apply(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// ChannelCount returns the configured board channel count.
func (e *RelayEngine) ChannelCount() int { return e.channels }

// Bind validates and indexes the group members. Digital outputs must carry
// a RelayChannel property, digital inputs an InputChannel property, each
// with a channel in [1, ChannelCount]; no two members may address the same
// unit and channel within their space.
func (e *RelayEngine) Bind(signals []hwc.Signal) error {
	relayByUnit := make(map[uint8][]relayMember, len(signals))
	inputByUnit := make(map[uint8][]inputMember, len(signals))
	relayClaimed := make(map[[2]int]string, len(signals))
	inputClaimed := make(map[[2]int]string, len(signals))

	for _, sig := range signals {
		switch s := sig.(type) {
		case *hwc.DigitalOutput:
			prop, err := hwc.PropertyOf[RelayChannel](sig)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrMissingProperty, sig.Name())
			}
			if err := e.checkChannel(sig.Name(), prop.Channel); err != nil {
				return err
			}

			key := [2]int{int(prop.Unit), prop.Channel}
			if owner, dup := relayClaimed[key]; dup {
				return fmt.Errorf("%w: %s and %s both address unit %d relay %d",
					ErrDuplicateChannel, owner, sig.Name(), prop.Unit, prop.Channel)
			}
			relayClaimed[key] = sig.Name()

			relayByUnit[prop.Unit] = append(relayByUnit[prop.Unit], relayMember{sig: s, prop: prop})

		case *hwc.DigitalInput:
			prop, err := hwc.PropertyOf[InputChannel](sig)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrMissingProperty, sig.Name())
			}
			if err := e.checkChannel(sig.Name(), prop.Channel); err != nil {
				return err
			}

			key := [2]int{int(prop.Unit), prop.Channel}
			if owner, dup := inputClaimed[key]; dup {
				return fmt.Errorf("%w: %s and %s both address unit %d input %d",
					ErrDuplicateChannel, owner, sig.Name(), prop.Unit, prop.Channel)
			}
			inputClaimed[key] = sig.Name()

			inputByUnit[prop.Unit] = append(inputByUnit[prop.Unit], inputMember{sig: s, prop: prop})

		default:
			return fmt.Errorf("%w: %s is %s, want %s or %s",
				ErrWrongSignalKind, sig.Name(), sig.Kind(), hwc.KindDigitalOutput, hwc.KindDigitalInput)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.bound = true
	e.relayByUnit = relayByUnit
	e.inputByUnit = inputByUnit
	e.relayUnits = sortedUnits(relayByUnit)
	e.inputUnits = sortedUnits(inputByUnit)

	return nil
}

func (e *RelayEngine) checkChannel(name string, channel int) error {
	if channel < 1 || channel > e.channels {
		return fmt.Errorf("%w: %s channel %d, want [1, %d]", ErrChannelOutOfRange, name, channel, e.channels)
	}

	return nil
}

// ReadStates reads each unit's coil bank, committing relay members, and its
// discrete input bank when input members exist.
func (e *RelayEngine) ReadStates(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.bound {
		return ErrNotBound
	}

	for _, unit := range e.relayUnits {
		bank, err := e.client.ReadCoils(ctx, unit, relayStartAddress, uint16(e.channels))
		if err != nil {
			return fmt.Errorf("waveshare: read coil bank of unit %d: %w", unit, err)
		}
		e.banks[unit] = bank

		for _, m := range e.relayByUnit[unit] {
			m.sig.Commit(boolValue(bank[m.prop.Channel-1]))
		}
	}

	for _, unit := range e.inputUnits {
		bank, err := e.client.ReadDiscreteInputs(ctx, unit, relayStartAddress, uint16(e.channels))
		if err != nil {
			return fmt.Errorf("waveshare: read input bank of unit %d: %w", unit, err)
		}

		for _, m := range e.inputByUnit[unit] {
			m.sig.Commit(boolValue(bank[m.prop.Channel-1]))
		}
	}

	return nil
}

// WriteStates pushes staged relay states to every unit with pending relay
// members. The written bank starts from the last coil bank a read observed,
// all off before the first read, with every staged member overlaid.
func (e *RelayEngine) WriteStates(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.bound {
		return ErrNotBound
	}

	for _, unit := range e.relayUnits {
		members := e.relayByUnit[unit]
		if !slices.ContainsFunc(members, func(m relayMember) bool { return m.sig.Pending() }) {
			continue
		}

		bank := make([]bool, e.channels)
		copy(bank, e.banks[unit])

		for _, m := range members {
			staged, ok := m.sig.Staged()
			if !ok {
				continue
			}
			bank[m.prop.Channel-1] = staged != 0
		}

		if err := e.client.WriteMultipleCoils(ctx, unit, relayStartAddress, bank); err != nil {
			return fmt.Errorf("waveshare: write coil bank of unit %d: %w", unit, err)
		}
	}

	return nil
}

// boolValue maps a coil state onto the 0/1 representation digital signals
// store.
func boolValue(on bool) float64 {
	if on {
		return 1
	}

	return 0
}
