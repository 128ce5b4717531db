package modbus

import (
	"context"
	"fmt"
)

// Client is the transport-independent Modbus operation set device engines
// program against. Implementations are safe for concurrent use.
type Client interface {
	// ReadCoils reads quantity coils starting at addr.
	ReadCoils(ctx context.Context, unit uint8, addr uint16, quantity uint16) ([]bool, error)
	// ReadDiscreteInputs reads quantity discrete inputs starting at addr.
	ReadDiscreteInputs(ctx context.Context, unit uint8, addr uint16, quantity uint16) ([]bool, error)
	// ReadHoldingRegisters reads quantity holding registers starting at addr.
	ReadHoldingRegisters(ctx context.Context, unit uint8, addr uint16, quantity uint16) ([]uint16, error)
	// ReadInputRegisters reads quantity input registers starting at addr.
	ReadInputRegisters(ctx context.Context, unit uint8, addr uint16, quantity uint16) ([]uint16, error)
	// WriteSingleCoil writes one coil at addr.
	WriteSingleCoil(ctx context.Context, unit uint8, addr uint16, on bool) error
	// WriteSingleRegister writes one holding register at addr.
	WriteSingleRegister(ctx context.Context, unit uint8, addr uint16, value uint16) error
	// WriteMultipleCoils writes len(values) coils starting at addr.
	WriteMultipleCoils(ctx context.Context, unit uint8, addr uint16, values []bool) error
	// WriteMultipleRegisters writes len(values) holding registers starting at addr.
	WriteMultipleRegisters(ctx context.Context, unit uint8, addr uint16, values []uint16) error
	// Echo sends a diagnostics Return Query Data request and verifies that
	// the device echoes payload back unchanged.
	Echo(ctx context.Context, unit uint8, payload []byte) error
}

// RequestFunc performs one Modbus transaction: it delivers the request PDU
// to unit and returns the response PDU. Broadcast writes return a zero PDU
// since devices send no response to them.
type RequestFunc func(ctx context.Context, unit uint8, req PDU) (PDU, error)

// BaseClient implements the full Client operation set on top of a single
// registered RequestFunc. Transports embed it and register their transaction
// primitive; engines and tests may also build one directly from any
// RequestFunc.
type BaseClient struct {
	requestFunc RequestFunc
}

var _ Client = (*BaseClient)(nil)

// NewBaseClient creates a BaseClient that performs transactions through
// requestFunc.
func NewBaseClient(requestFunc RequestFunc) *BaseClient {
	return &BaseClient{requestFunc: requestFunc}
}

// RegisterRequestFunc registers the transaction primitive, replacing any
// previously registered one.
func (c *BaseClient) RegisterRequestFunc(requestFunc RequestFunc) {
	c.requestFunc = requestFunc
}

// ReadCoils reads quantity coils starting at addr.
func (c *BaseClient) ReadCoils(ctx context.Context, unit uint8, addr uint16, quantity uint16) ([]bool, error) {
	return c.readBits(ctx, unit, FuncReadCoils, addr, quantity)
}

// ReadDiscreteInputs reads quantity discrete inputs starting at addr.
func (c *BaseClient) ReadDiscreteInputs(ctx context.Context, unit uint8, addr uint16, quantity uint16) ([]bool, error) {
	return c.readBits(ctx, unit, FuncReadDiscreteInputs, addr, quantity)
}

// ReadHoldingRegisters reads quantity holding registers starting at addr.
func (c *BaseClient) ReadHoldingRegisters(ctx context.Context, unit uint8, addr uint16, quantity uint16) ([]uint16, error) {
	return c.readRegisters(ctx, unit, FuncReadHoldingRegisters, addr, quantity)
}

// ReadInputRegisters reads quantity input registers starting at addr.
func (c *BaseClient) ReadInputRegisters(ctx context.Context, unit uint8, addr uint16, quantity uint16) ([]uint16, error) {
	return c.readRegisters(ctx, unit, FuncReadInputRegisters, addr, quantity)
}

// WriteSingleCoil writes one coil at addr. The response must echo the
// request unless the write broadcasts.
func (c *BaseClient) WriteSingleCoil(ctx context.Context, unit uint8, addr uint16, on bool) error {
	rsp, err := c.roundTrip(ctx, unit, NewWriteSingleCoilRequest(addr, on))
	if err != nil {
		return err
	}

	if unit == BroadcastUnit {
		return nil
	}

	value := coilOff
	if on {
		value = coilOn
	}

	return VerifyEchoResponse(rsp, addr, value)
}

// WriteSingleRegister writes one holding register at addr. The response must
// echo the request unless the write broadcasts.
func (c *BaseClient) WriteSingleRegister(ctx context.Context, unit uint8, addr uint16, value uint16) error {
	rsp, err := c.roundTrip(ctx, unit, NewWriteSingleRegisterRequest(addr, value))
	if err != nil {
		return err
	}

	if unit == BroadcastUnit {
		return nil
	}

	return VerifyEchoResponse(rsp, addr, value)
}

// WriteMultipleCoils writes len(values) coils starting at addr.
func (c *BaseClient) WriteMultipleCoils(ctx context.Context, unit uint8, addr uint16, values []bool) error {
	req, err := NewWriteMultipleCoilsRequest(addr, values)
	if err != nil {
		return err
	}

	rsp, err := c.roundTrip(ctx, unit, req)
	if err != nil {
		return err
	}

	if unit == BroadcastUnit {
		return nil
	}

	return VerifyEchoResponse(rsp, addr, uint16(len(values)))
}

// WriteMultipleRegisters writes len(values) holding registers starting at
// addr.
func (c *BaseClient) WriteMultipleRegisters(ctx context.Context, unit uint8, addr uint16, values []uint16) error {
	req, err := NewWriteMultipleRegistersRequest(addr, values)
	if err != nil {
		return err
	}

	rsp, err := c.roundTrip(ctx, unit, req)
	if err != nil {
		return err
	}

	if unit == BroadcastUnit {
		return nil
	}

	return VerifyEchoResponse(rsp, addr, uint16(len(values)))
}

// Echo sends a diagnostics Return Query Data request and verifies that the
// device echoes payload back unchanged.
func (c *BaseClient) Echo(ctx context.Context, unit uint8, payload []byte) error {
	if unit == BroadcastUnit {
		return ErrBroadcast
	}

	req, err := NewEchoRequest(payload)
	if err != nil {
		return err
	}

	rsp, err := c.roundTrip(ctx, unit, req)
	if err != nil {
		return err
	}

	return ParseEchoResponse(rsp, payload)
}

func (c *BaseClient) readBits(ctx context.Context, unit uint8, code FunctionCode, addr uint16, quantity uint16) ([]bool, error) {
	if unit == BroadcastUnit {
		return nil, ErrBroadcast
	}

	req, err := NewReadRequest(code, addr, quantity)
	if err != nil {
		return nil, err
	}

	rsp, err := c.roundTrip(ctx, unit, req)
	if err != nil {
		return nil, err
	}

	return ParseReadBitsResponse(rsp, quantity)
}

func (c *BaseClient) readRegisters(ctx context.Context, unit uint8, code FunctionCode, addr uint16, quantity uint16) ([]uint16, error) {
	if unit == BroadcastUnit {
		return nil, ErrBroadcast
	}

	req, err := NewReadRequest(code, addr, quantity)
	if err != nil {
		return nil, err
	}

	rsp, err := c.roundTrip(ctx, unit, req)
	if err != nil {
		return nil, err
	}

	return ParseReadRegistersResponse(rsp, quantity)
}

// roundTrip performs one transaction and validates the response envelope.
// Exception responses become *ExceptionError, and a response code that does
// not match the request is rejected. Broadcast requests skip both checks
// since no response arrives.
func (c *BaseClient) roundTrip(ctx context.Context, unit uint8, req PDU) (PDU, error) {
	if c.requestFunc == nil {
		return PDU{}, ErrNoRequestFunc
	}

	rsp, err := c.requestFunc(ctx, unit, req)
	if err != nil {
		return PDU{}, err
	}

	if unit == BroadcastUnit {
		return rsp, nil
	}

	if exc, ok := ParseExceptionResponse(rsp); ok {
		return PDU{}, exc
	}

	if rsp.Code != req.Code {
		return PDU{}, fmt.Errorf("%w: sent %s, received %s", ErrCodeMismatch, req.Code, rsp.Code)
	}

	return rsp, nil
}
