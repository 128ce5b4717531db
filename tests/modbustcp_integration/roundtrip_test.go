// Package modbustcpintegration contains integration tests that exercise the
// full Modbus TCP stack over real sockets: client-side encoding, the MBAP
// wire exchange, the device simulator's decoding, and the bank effects of
// every supported function code.
package modbustcpintegration

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-hwc/logger"
	"github.com/arloliu/go-hwc/modbus"
	"github.com/arloliu/go-hwc/modbustcp"
	"github.com/arloliu/go-hwc/modbustest"
)

// startServer starts a simulator with one zeroed bank per unit.
func startServer(t testing.TB, units ...uint8) *modbustest.Server {
	t.Helper()

	server := modbustest.NewServer()
	for _, unit := range units {
		server.AddUnit(unit, modbustest.NewBank())
	}

	_, err := server.Start("127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = server.Close() })

	return server
}

// openClient dials the simulator and waits for the link to come up.
func openClient(t testing.TB, server *modbustest.Server, opts ...modbustcp.ConnOption) *modbustcp.Connection {
	t.Helper()

	host, portStr, err := net.SplitHostPort(server.Addr())
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	connOpts := []modbustcp.ConnOption{
		modbustcp.WithResponseTimeout(2 * time.Second),
		modbustcp.WithRetryDelay(20 * time.Millisecond),
		modbustcp.WithLogger(logger.GetLogger().With("test", t.Name())),
	}
	connOpts = append(connOpts, opts...)

	cfg, err := modbustcp.NewConnectionConfig(host, port, connOpts...)
	require.NoError(t, err)

	conn, err := modbustcp.NewConnection(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.Open(true))

	return conn
}

// TestFunctionCodeSweep pushes every supported function code through the
// client API and checks both the returned data and the bank state behind
// the wire.
func TestFunctionCodeSweep(t *testing.T) {
	server := startServer(t, 1)
	conn := openClient(t, server)
	bank := server.Bank(1)
	ctx := context.Background()

	// Coils: write one, write a block, read the whole window back.
	require.NoError(t, conn.WriteSingleCoil(ctx, 1, 10, true))
	require.NoError(t, conn.WriteMultipleCoils(ctx, 1, 11, []bool{true, false, true}))

	coils, err := conn.ReadCoils(ctx, 1, 10, 4)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, false, true}, coils)
	assert.True(t, bank.Coil(13))

	// Discrete inputs are read-only on the wire; seed them in the bank.
	bank.SetDiscreteInput(3, true)

	inputs, err := conn.ReadDiscreteInputs(ctx, 1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, false}, inputs)

	// Holding registers: write one, write a block, read the window back.
	require.NoError(t, conn.WriteSingleRegister(ctx, 1, 100, 0x1234))
	require.NoError(t, conn.WriteMultipleRegisters(ctx, 1, 101, []uint16{7, 8, 9}))

	regs, err := conn.ReadHoldingRegisters(ctx, 1, 100, 4)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x1234, 7, 8, 9}, regs)
	assert.Equal(t, uint16(8), bank.HoldingRegister(102))

	// Input registers are read-only on the wire; seed them in the bank.
	bank.SetInputRegister(0, 555)

	inRegs, err := conn.ReadInputRegisters(ctx, 1, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{555, 0}, inRegs)

	// Diagnostics echo closes out the supported function codes.
	require.NoError(t, conn.Echo(ctx, 1, []byte{0xDE, 0xAD}))
}

// TestMultiUnitIsolation checks that requests land in the addressed unit's
// bank and nowhere else.
func TestMultiUnitIsolation(t *testing.T) {
	server := startServer(t, 1, 2)
	conn := openClient(t, server)
	ctx := context.Background()

	require.NoError(t, conn.WriteSingleRegister(ctx, 1, 0, 111))
	require.NoError(t, conn.WriteSingleRegister(ctx, 2, 0, 222))

	assert.Equal(t, uint16(111), server.Bank(1).HoldingRegister(0))
	assert.Equal(t, uint16(222), server.Bank(2).HoldingRegister(0))

	regs, err := conn.ReadHoldingRegisters(ctx, 2, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{222}, regs)
}

func TestDeviceExceptions(t *testing.T) {
	server := startServer(t, 1)
	conn := openClient(t, server)
	ctx := context.Background()

	// A unit nobody registered answers like a gateway with a dead drop.
	_, err := conn.ReadHoldingRegisters(ctx, 9, 0, 1)

	var exc *modbus.ExceptionError
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, modbus.ExceptionGatewayTargetFailed, exc.Exception)
	assert.Equal(t, modbus.FuncReadHoldingRegisters, exc.Code)

	// A hook can make a healthy unit reject a chosen function code.
	server.OnRequest(func(unit uint8, req modbus.PDU) (modbus.PDU, modbustest.HookAction) {
		if req.Code == modbus.FuncWriteSingleCoil {
			return modbus.NewExceptionResponse(req.Code, modbus.ExceptionServerDeviceBusy), modbustest.HookRespond
		}

		return modbus.PDU{}, modbustest.HookContinue
	})

	err = conn.WriteSingleCoil(ctx, 1, 0, true)
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, modbus.ExceptionServerDeviceBusy, exc.Exception)

	// Other function codes keep working around the rejected writes.
	_, err = conn.ReadCoils(ctx, 1, 0, 1)
	require.NoError(t, err)
}

// TestBroadcastWrite checks that a unit 0 write reaches every bank and that
// the client does not stall waiting for the response broadcasts never get.
func TestBroadcastWrite(t *testing.T) {
	server := startServer(t, 1, 2)
	conn := openClient(t, server)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, conn.WriteSingleRegister(ctx, modbus.BroadcastUnit, 5, 999))
	assert.Less(t, time.Since(start), time.Second)

	require.Eventually(t, func() bool {
		return server.Bank(1).HoldingRegister(5) == 999 && server.Bank(2).HoldingRegister(5) == 999
	}, time.Second, 10*time.Millisecond)
}

// TestConcurrentMixedTraffic runs interleaved reads and writes from several
// goroutines over one connection; transaction IDs keep the responses sorted.
func TestConcurrentMixedTraffic(t *testing.T) {
	server := startServer(t, 1, 2)
	conn := openClient(t, server)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 64)

	for worker := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			unit := uint8(1 + worker%2)
			addr := uint16(worker * 16)
			for i := range 8 {
				value := uint16(worker*100 + i)
				if err := conn.WriteSingleRegister(ctx, unit, addr, value); err != nil {
					errs <- fmt.Errorf("write unit %d: %w", unit, err)

					return
				}

				regs, err := conn.ReadHoldingRegisters(ctx, unit, addr, 1)
				if err != nil {
					errs <- fmt.Errorf("read unit %d: %w", unit, err)

					return
				}
				if regs[0] != value {
					errs <- fmt.Errorf("unit %d register %d: got %d, want %d", unit, addr, regs[0], value)

					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
