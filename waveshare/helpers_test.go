package waveshare

import (
	"context"
	"sync"
	"testing"

	"github.com/arloliu/go-hwc/hwc"
	"github.com/arloliu/go-hwc/modbus"
	"github.com/arloliu/go-hwc/modbustest"
)

// request records one transaction the bank client served.
type request struct {
	unit uint8
	code modbus.FunctionCode
}

// bankClient is a modbus.Client backed by in-memory modbustest banks, one
// per unit. It records every request so engine tests can assert how many
// transactions a cycle produced, and can be scripted to fail the next
// transaction.
type bankClient struct {
	*modbus.BaseClient

	mu       sync.Mutex
	banks    map[uint8]*modbustest.Bank
	requests []request
	nextErr  error
}

func newBankClient(units ...uint8) *bankClient {
	c := &bankClient{banks: make(map[uint8]*modbustest.Bank, len(units))}
	for _, unit := range units {
		c.banks[unit] = modbustest.NewBank()
	}
	c.BaseClient = modbus.NewBaseClient(c.request)

	return c
}

func (c *bankClient) request(_ context.Context, unit uint8, req modbus.PDU) (modbus.PDU, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, request{unit: unit, code: req.Code})

	if c.nextErr != nil {
		err := c.nextErr
		c.nextErr = nil

		return modbus.PDU{}, err
	}

	bank, ok := c.banks[unit]
	if !ok {
		return modbus.NewExceptionResponse(req.Code, modbus.ExceptionGatewayTargetFailed), nil
	}

	return bank.Apply(req), nil
}

// bank returns the bank behind unit, creating it on first use.
func (c *bankClient) bank(unit uint8) *modbustest.Bank {
	c.mu.Lock()
	defer c.mu.Unlock()

	bank, ok := c.banks[unit]
	if !ok {
		bank = modbustest.NewBank()
		c.banks[unit] = bank
	}

	return bank
}

// failNext scripts an error for the next transaction only.
func (c *bankClient) failNext(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextErr = err
}

// count returns how many requests matched unit and code.
func (c *bankClient) count(unit uint8, code modbus.FunctionCode) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, r := range c.requests {
		if r.unit == unit && r.code == code {
			n++
		}
	}

	return n
}

// reset clears the recorded requests.
func (c *bankClient) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = nil
}

// newGroup wires signals to engine, failing the test on error.
func newGroup(t *testing.T, engine hwc.Engine, signals ...hwc.Signal) *hwc.SignalGroup {
	t.Helper()

	grp, err := hwc.NewSignalGroup(engine, signals...)
	if err != nil {
		t.Fatalf("newGroup: %v", err)
	}

	return grp
}
