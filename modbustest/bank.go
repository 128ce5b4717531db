package modbustest

import (
	"encoding/binary"
	"sync"

	"github.com/arloliu/go-hwc/internal/util"
	"github.com/arloliu/go-hwc/modbus"
)

// addressSpaceSize is the number of entries in each Modbus address space.
const addressSpaceSize = 0x10000

// Bank is the in-memory data model of one Modbus unit: full 16-bit address
// spaces for coils, discrete inputs, holding registers and input registers.
// All methods are safe for concurrent use.
type Bank struct {
	mu             sync.RWMutex
	coils          []bool
	discreteInputs []bool
	holding        []uint16
	input          []uint16
}

// NewBank creates a Bank with all spaces zeroed.
func NewBank() *Bank {
	return &Bank{
		coils:          make([]bool, addressSpaceSize),
		discreteInputs: make([]bool, addressSpaceSize),
		holding:        make([]uint16, addressSpaceSize),
		input:          make([]uint16, addressSpaceSize),
	}
}

// Coil returns the coil at addr.
func (b *Bank) Coil(addr uint16) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.coils[addr]
}

// SetCoil sets the coil at addr.
func (b *Bank) SetCoil(addr uint16, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.coils[addr] = on
}

// DiscreteInput returns the discrete input at addr.
func (b *Bank) DiscreteInput(addr uint16) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.discreteInputs[addr]
}

// SetDiscreteInput sets the discrete input at addr.
func (b *Bank) SetDiscreteInput(addr uint16, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.discreteInputs[addr] = on
}

// HoldingRegister returns the holding register at addr.
func (b *Bank) HoldingRegister(addr uint16) uint16 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.holding[addr]
}

// SetHoldingRegister sets the holding register at addr.
func (b *Bank) SetHoldingRegister(addr uint16, value uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.holding[addr] = value
}

// InputRegister returns the input register at addr.
func (b *Bank) InputRegister(addr uint16) uint16 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.input[addr]
}

// SetInputRegister sets the input register at addr.
func (b *Bank) SetInputRegister(addr uint16, value uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.input[addr] = value
}

// Apply executes a request PDU against the bank and returns the response
// PDU. Malformed payloads and quantity violations answer with illegal data
// value, out-of-range addresses with illegal data address, and unsupported
// function codes with illegal function.
func (b *Bank) Apply(req modbus.PDU) modbus.PDU {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch req.Code {
	case modbus.FuncReadCoils:
		return b.readBits(req, b.coils)
	case modbus.FuncReadDiscreteInputs:
		return b.readBits(req, b.discreteInputs)
	case modbus.FuncReadHoldingRegisters:
		return b.readRegisters(req, b.holding)
	case modbus.FuncReadInputRegisters:
		return b.readRegisters(req, b.input)
	case modbus.FuncWriteSingleCoil:
		return b.writeSingleCoil(req)
	case modbus.FuncWriteSingleRegister:
		return b.writeSingleRegister(req)
	case modbus.FuncWriteMultipleCoils:
		return b.writeMultipleCoils(req)
	case modbus.FuncWriteMultipleRegisters:
		return b.writeMultipleRegisters(req)
	case modbus.FuncDiagnostics:
		return modbus.PDU{Code: req.Code, Data: util.CloneSlice(req.Data, 0)}
	default:
		return modbus.NewExceptionResponse(req.Code, modbus.ExceptionIllegalFunction)
	}
}

func (b *Bank) readBits(req modbus.PDU, space []bool) modbus.PDU {
	addr, quantity, ok := parseAddrField(req.Data)
	if !ok || quantity == 0 || quantity > modbus.MaxReadBits {
		return modbus.NewExceptionResponse(req.Code, modbus.ExceptionIllegalDataValue)
	}

	if int(addr)+int(quantity) > len(space) {
		return modbus.NewExceptionResponse(req.Code, modbus.ExceptionIllegalDataAddress)
	}

	packed := modbus.PackBits(space[addr : int(addr)+int(quantity)])
	data := make([]byte, 0, 1+len(packed))
	data = append(data, byte(len(packed)))
	data = append(data, packed...)

	return modbus.PDU{Code: req.Code, Data: data}
}

func (b *Bank) readRegisters(req modbus.PDU, space []uint16) modbus.PDU {
	addr, quantity, ok := parseAddrField(req.Data)
	if !ok || quantity == 0 || quantity > modbus.MaxReadRegisters {
		return modbus.NewExceptionResponse(req.Code, modbus.ExceptionIllegalDataValue)
	}

	if int(addr)+int(quantity) > len(space) {
		return modbus.NewExceptionResponse(req.Code, modbus.ExceptionIllegalDataAddress)
	}

	data := make([]byte, 1+2*int(quantity))
	data[0] = byte(2 * quantity)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(data[1+2*i:], space[int(addr)+i])
	}

	return modbus.PDU{Code: req.Code, Data: data}
}

func (b *Bank) writeSingleCoil(req modbus.PDU) modbus.PDU {
	addr, value, ok := parseAddrField(req.Data)
	if !ok {
		return modbus.NewExceptionResponse(req.Code, modbus.ExceptionIllegalDataValue)
	}

	switch value {
	case 0xFF00:
		b.coils[addr] = true
	case 0x0000:
		b.coils[addr] = false
	default:
		return modbus.NewExceptionResponse(req.Code, modbus.ExceptionIllegalDataValue)
	}

	return modbus.PDU{Code: req.Code, Data: util.CloneSlice(req.Data[:4], 0)}
}

func (b *Bank) writeSingleRegister(req modbus.PDU) modbus.PDU {
	addr, value, ok := parseAddrField(req.Data)
	if !ok {
		return modbus.NewExceptionResponse(req.Code, modbus.ExceptionIllegalDataValue)
	}

	b.holding[addr] = value

	return modbus.PDU{Code: req.Code, Data: util.CloneSlice(req.Data[:4], 0)}
}

func (b *Bank) writeMultipleCoils(req modbus.PDU) modbus.PDU {
	addr, quantity, ok := parseAddrField(req.Data)
	if !ok || len(req.Data) < 5 {
		return modbus.NewExceptionResponse(req.Code, modbus.ExceptionIllegalDataValue)
	}

	byteCount := int(req.Data[4])
	if quantity == 0 || quantity > modbus.MaxWriteBits ||
		byteCount != (int(quantity)+7)/8 || len(req.Data) != 5+byteCount {
		return modbus.NewExceptionResponse(req.Code, modbus.ExceptionIllegalDataValue)
	}

	if int(addr)+int(quantity) > len(b.coils) {
		return modbus.NewExceptionResponse(req.Code, modbus.ExceptionIllegalDataAddress)
	}

	values := modbus.UnpackBits(req.Data[5:], quantity)
	copy(b.coils[addr:], values)

	return modbus.PDU{Code: req.Code, Data: util.CloneSlice(req.Data[:4], 0)}
}

func (b *Bank) writeMultipleRegisters(req modbus.PDU) modbus.PDU {
	addr, quantity, ok := parseAddrField(req.Data)
	if !ok || len(req.Data) < 5 {
		return modbus.NewExceptionResponse(req.Code, modbus.ExceptionIllegalDataValue)
	}

	byteCount := int(req.Data[4])
	if quantity == 0 || quantity > modbus.MaxWriteRegisters ||
		byteCount != 2*int(quantity) || len(req.Data) != 5+byteCount {
		return modbus.NewExceptionResponse(req.Code, modbus.ExceptionIllegalDataValue)
	}

	if int(addr)+int(quantity) > len(b.holding) {
		return modbus.NewExceptionResponse(req.Code, modbus.ExceptionIllegalDataAddress)
	}

	for i := 0; i < int(quantity); i++ {
		b.holding[int(addr)+i] = binary.BigEndian.Uint16(req.Data[5+2*i:])
	}

	return modbus.PDU{Code: req.Code, Data: util.CloneSlice(req.Data[:4], 0)}
}

// parseAddrField splits the leading four payload bytes into two big-endian
// fields: address plus quantity for reads, address plus value for single
// writes.
func parseAddrField(data []byte) (uint16, uint16, bool) {
	if len(data) < 4 {
		return 0, 0, false
	}

	return binary.BigEndian.Uint16(data[0:2]), binary.BigEndian.Uint16(data[2:4]), true
}
