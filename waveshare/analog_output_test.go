package waveshare

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-hwc/hwc"
	"github.com/arloliu/go-hwc/modbus"
)

func newAOSignal(t *testing.T, name string, unit uint8, channel int, opts ...hwc.SignalOption) *hwc.AnalogOutput {
	t.Helper()

	opts = append([]hwc.SignalOption{
		hwc.WithProperties(AOChannel{Unit: unit, Channel: channel}),
	}, opts...)

	return hwc.NewAnalogOutput(name, opts...)
}

func TestNewAnalogOutputEngine_NilClient(t *testing.T) {
	_, err := NewAnalogOutputEngine(nil)
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestAnalogOutputEngine_Bind(t *testing.T) {
	client := newBankClient(1)

	t.Run("wrong signal kind", func(t *testing.T) {
		engine, err := NewAnalogOutputEngine(client)
		require.NoError(t, err)

		di := hwc.NewDigitalInput("di", hwc.WithProperties(AOChannel{Unit: 1, Channel: 1}))
		err = engine.Bind([]hwc.Signal{di})
		assert.ErrorIs(t, err, ErrWrongSignalKind)
	})

	t.Run("missing property", func(t *testing.T) {
		engine, err := NewAnalogOutputEngine(client)
		require.NoError(t, err)

		err = engine.Bind([]hwc.Signal{hwc.NewAnalogOutput("bare")})
		assert.ErrorIs(t, err, ErrMissingProperty)
	})

	t.Run("channel out of range", func(t *testing.T) {
		engine, err := NewAnalogOutputEngine(client)
		require.NoError(t, err)

		err = engine.Bind([]hwc.Signal{newAOSignal(t, "ch0", 1, 0)})
		assert.ErrorIs(t, err, ErrChannelOutOfRange)

		err = engine.Bind([]hwc.Signal{newAOSignal(t, "ch9", 1, 9)})
		assert.ErrorIs(t, err, ErrChannelOutOfRange)
	})

	t.Run("duplicate unit channel", func(t *testing.T) {
		engine, err := NewAnalogOutputEngine(client)
		require.NoError(t, err)

		err = engine.Bind([]hwc.Signal{
			newAOSignal(t, "first", 1, 3),
			newAOSignal(t, "second", 1, 3),
		})
		assert.ErrorIs(t, err, ErrDuplicateChannel)
		assert.ErrorContains(t, err, "first")
		assert.ErrorContains(t, err, "second")
	})

	t.Run("invalid scale", func(t *testing.T) {
		engine, err := NewAnalogOutputEngine(client)
		require.NoError(t, err)

		bad := hwc.NewAnalogOutput("bad", hwc.WithProperties(AOChannel{
			Unit:    1,
			Channel: 1,
			Scale:   hwc.Scale{SymbolicMin: 10, SymbolicMax: 0, PhysicalMin: 0, PhysicalMax: 10000},
		}))
		err = engine.Bind([]hwc.Signal{bad})
		assert.ErrorIs(t, err, hwc.ErrInvalidScale)
	})

	t.Run("same channel on different units", func(t *testing.T) {
		engine, err := NewAnalogOutputEngine(client)
		require.NoError(t, err)

		err = engine.Bind([]hwc.Signal{
			newAOSignal(t, "u1ch1", 1, 1),
			newAOSignal(t, "u2ch1", 2, 1),
		})
		assert.NoError(t, err)
	})
}

func TestAnalogOutputEngine_NotBound(t *testing.T) {
	engine, err := NewAnalogOutputEngine(newBankClient(1))
	require.NoError(t, err)

	ctx := context.Background()
	assert.ErrorIs(t, engine.ReadStates(ctx), ErrNotBound)
	assert.ErrorIs(t, engine.WriteStates(ctx), ErrNotBound)
}

func TestAnalogOutputEngine_ReadStates(t *testing.T) {
	ctx := context.Background()
	client := newBankClient(1)
	// 2500 counts = 2.5V on the default scale.
	client.bank(1).SetHoldingRegister(0, 2500)
	client.bank(1).SetHoldingRegister(4, 10000)

	engine, err := NewAnalogOutputEngine(client)
	require.NoError(t, err)

	ch1 := newAOSignal(t, "ch1", 1, 1)
	ch5 := newAOSignal(t, "ch5", 1, 5)
	newGroup(t, engine, ch1, ch5)

	require.NoError(t, engine.ReadStates(ctx))

	v, err := ch1.Value(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, v, 1e-9)

	v, err = ch5.Value(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, v, 1e-9)

	// One bank request for the whole unit.
	assert.Equal(t, 1, client.count(1, modbus.FuncReadHoldingRegisters))
}

func TestAnalogOutputEngine_WriteStates(t *testing.T) {
	ctx := context.Background()

	t.Run("zeros before the first read", func(t *testing.T) {
		client := newBankClient(1)
		client.bank(1).SetHoldingRegister(2, 7777) // channel 3, not bound

		engine, err := NewAnalogOutputEngine(client)
		require.NoError(t, err)

		ch1 := newAOSignal(t, "ch1", 1, 1)
		newGroup(t, engine, ch1)

		require.NoError(t, ch1.Set(ctx, 5.0))
		require.NoError(t, engine.WriteStates(ctx))

		// The bank was never read, so every slot but the staged one writes 0.
		assert.Equal(t, uint16(5000), client.bank(1).HoldingRegister(0))
		assert.Equal(t, uint16(0), client.bank(1).HoldingRegister(2))
	})

	t.Run("preserves unbound channels after a read", func(t *testing.T) {
		client := newBankClient(1)
		client.bank(1).SetHoldingRegister(2, 7777)

		engine, err := NewAnalogOutputEngine(client)
		require.NoError(t, err)

		ch1 := newAOSignal(t, "ch1", 1, 1)
		newGroup(t, engine, ch1)

		require.NoError(t, engine.ReadStates(ctx))
		require.NoError(t, ch1.Set(ctx, 5.0))
		require.NoError(t, engine.WriteStates(ctx))

		assert.Equal(t, uint16(5000), client.bank(1).HoldingRegister(0))
		assert.Equal(t, uint16(7777), client.bank(1).HoldingRegister(2))
	})

	t.Run("one bank write per unit per cycle", func(t *testing.T) {
		client := newBankClient(1, 2)

		engine, err := NewAnalogOutputEngine(client)
		require.NoError(t, err)

		u1ch1 := newAOSignal(t, "u1ch1", 1, 1)
		u1ch2 := newAOSignal(t, "u1ch2", 1, 2)
		u2ch1 := newAOSignal(t, "u2ch1", 2, 1)
		newGroup(t, engine, u1ch1, u1ch2, u2ch1)

		require.NoError(t, u1ch1.Set(ctx, 1.0))
		require.NoError(t, u1ch2.Set(ctx, 2.0))
		require.NoError(t, u2ch1.Set(ctx, 3.0))
		require.NoError(t, engine.WriteStates(ctx))

		assert.Equal(t, 1, client.count(1, modbus.FuncWriteMultipleRegisters))
		assert.Equal(t, 1, client.count(2, modbus.FuncWriteMultipleRegisters))
		assert.Equal(t, uint16(1000), client.bank(1).HoldingRegister(0))
		assert.Equal(t, uint16(2000), client.bank(1).HoldingRegister(1))
		assert.Equal(t, uint16(3000), client.bank(2).HoldingRegister(0))
	})

	t.Run("skips units without pending members", func(t *testing.T) {
		client := newBankClient(1, 2)

		engine, err := NewAnalogOutputEngine(client)
		require.NoError(t, err)

		u1 := newAOSignal(t, "u1", 1, 1)
		u2 := newAOSignal(t, "u2", 2, 1)
		newGroup(t, engine, u1, u2)

		require.NoError(t, u1.Set(ctx, 1.0))
		require.NoError(t, engine.WriteStates(ctx))

		assert.Equal(t, 1, client.count(1, modbus.FuncWriteMultipleRegisters))
		assert.Equal(t, 0, client.count(2, modbus.FuncWriteMultipleRegisters))
	})

	t.Run("encode error names the signal", func(t *testing.T) {
		client := newBankClient(1)

		engine, err := NewAnalogOutputEngine(client)
		require.NoError(t, err)

		ch1 := newAOSignal(t, "overdriven", 1, 1)
		newGroup(t, engine, ch1)

		require.NoError(t, ch1.Set(ctx, 99.0))
		err = engine.WriteStates(ctx)
		assert.ErrorIs(t, err, hwc.ErrValueOutOfRange)
		assert.ErrorContains(t, err, "overdriven")
	})
}

func TestAnalogOutputEngine_TransportErrorNamesUnit(t *testing.T) {
	ctx := context.Background()
	client := newBankClient(1)

	engine, err := NewAnalogOutputEngine(client)
	require.NoError(t, err)

	newGroup(t, engine, newAOSignal(t, "ch1", 1, 1))

	client.failNext(modbus.ErrShortResponse)
	err = engine.ReadStates(ctx)
	assert.ErrorIs(t, err, modbus.ErrShortResponse)
	assert.ErrorContains(t, err, "unit 1")
}

func TestAnalogOutputEngine_ImmediateRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newBankClient(1)

	engine, err := NewAnalogOutputEngine(client)
	require.NoError(t, err)

	sp := newAOSignal(t, "setpoint", 1, 1, hwc.WithImmediateUpdate(true))
	newGroup(t, engine, sp)

	// Immediate set writes the bank; the immediate getter reads it back and
	// the board-confirmed value clears the pending state.
	require.NoError(t, sp.Set(ctx, 2.5))
	assert.Equal(t, 1, client.count(1, modbus.FuncWriteMultipleRegisters))

	v, err := sp.Value(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, v, 1e-9)
	assert.True(t, sp.Synced())
}

func TestAnalogOutputEngine_DeferredStaysPending(t *testing.T) {
	ctx := context.Background()
	client := newBankClient(1)

	engine, err := NewAnalogOutputEngine(client)
	require.NoError(t, err)

	sp := newAOSignal(t, "setpoint", 1, 1)
	grp := newGroup(t, engine, sp)

	require.NoError(t, sp.Set(ctx, 2.5))
	assert.Equal(t, 0, client.count(1, modbus.FuncWriteMultipleRegisters))

	_, err = sp.Value(ctx)
	assert.ErrorIs(t, err, hwc.ErrStateNotSynced)

	require.NoError(t, grp.Sync(ctx))

	v, err := sp.Value(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, v, 1e-9)
}
