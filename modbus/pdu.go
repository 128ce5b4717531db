package modbus

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FunctionCode identifies a Modbus function.
type FunctionCode byte

const (
	FuncReadCoils              FunctionCode = 0x01
	FuncReadDiscreteInputs     FunctionCode = 0x02
	FuncReadHoldingRegisters   FunctionCode = 0x03
	FuncReadInputRegisters     FunctionCode = 0x04
	FuncWriteSingleCoil        FunctionCode = 0x05
	FuncWriteSingleRegister    FunctionCode = 0x06
	FuncDiagnostics            FunctionCode = 0x08
	FuncWriteMultipleCoils     FunctionCode = 0x0F
	FuncWriteMultipleRegisters FunctionCode = 0x10
)

// exceptionBit marks a response function code as an exception response.
const exceptionBit FunctionCode = 0x80

// IsException reports whether the code carries the exception bit.
func (fc FunctionCode) IsException() bool {
	return fc&exceptionBit != 0
}

// Base returns the code with the exception bit cleared.
func (fc FunctionCode) Base() FunctionCode {
	return fc &^ exceptionBit
}

// String returns the name of the function code.
func (fc FunctionCode) String() string {
	if fc.IsException() {
		return fmt.Sprintf("exception response to %s", fc.Base())
	}

	switch fc {
	case FuncReadCoils:
		return "read coils"
	case FuncReadDiscreteInputs:
		return "read discrete inputs"
	case FuncReadHoldingRegisters:
		return "read holding registers"
	case FuncReadInputRegisters:
		return "read input registers"
	case FuncWriteSingleCoil:
		return "write single coil"
	case FuncWriteSingleRegister:
		return "write single register"
	case FuncDiagnostics:
		return "diagnostics"
	case FuncWriteMultipleCoils:
		return "write multiple coils"
	case FuncWriteMultipleRegisters:
		return "write multiple registers"
	default:
		return fmt.Sprintf("function 0x%02X", byte(fc))
	}
}

// Quantity limits for a single request, from the Modbus application protocol
// specification.
const (
	MaxReadBits       = 2000
	MaxReadRegisters  = 125
	MaxWriteBits      = 1968
	MaxWriteRegisters = 123
)

// maxPDUSize is the largest encoded PDU: one function code byte plus up to
// 252 payload bytes.
const maxPDUSize = 253

// BroadcastUnit addresses every unit on a serial line at once. Only write
// requests may broadcast, and devices send no response to them.
const BroadcastUnit uint8 = 0

// Wire values of a single coil write.
const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// diagReturnQueryData is the diagnostics sub-function that echoes the
// request payload back unchanged.
const diagReturnQueryData uint16 = 0x0000

// maxEchoPayload keeps a diagnostics request within the PDU size limit:
// one code byte plus two sub-function bytes plus the payload.
const maxEchoPayload = maxPDUSize - 3

// PDU is one Modbus protocol data unit: a function code and its payload,
// without unit addressing or framing.
type PDU struct {
	Code FunctionCode
	Data []byte
}

// Size returns the encoded length of the PDU in bytes.
func (p PDU) Size() int {
	return 1 + len(p.Data)
}

// NewReadRequest builds a read request for one of the four read functions.
// The quantity limit depends on the function: up to 2000 bits for coils and
// discrete inputs, up to 125 registers for holding and input registers.
func NewReadRequest(code FunctionCode, addr uint16, quantity uint16) (PDU, error) {
	var limit uint16
	switch code {
	case FuncReadCoils, FuncReadDiscreteInputs:
		limit = MaxReadBits
	case FuncReadHoldingRegisters, FuncReadInputRegisters:
		limit = MaxReadRegisters
	default:
		return PDU{}, fmt.Errorf("modbus: %s is not a read function", code)
	}

	if quantity == 0 || quantity > limit {
		return PDU{}, fmt.Errorf("%w: %d for %s, limit %d", ErrInvalidQuantity, quantity, code, limit)
	}

	if err := checkRange(addr, quantity); err != nil {
		return PDU{}, err
	}

	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr)
	binary.BigEndian.PutUint16(data[2:4], quantity)

	return PDU{Code: code, Data: data}, nil
}

// ParseReadBitsResponse unpacks a read coils or read discrete inputs
// response into quantity booleans.
func ParseReadBitsResponse(rsp PDU, quantity uint16) ([]bool, error) {
	byteCount := (int(quantity) + 7) / 8
	if len(rsp.Data) < 1+byteCount {
		return nil, fmt.Errorf("%w: %d payload bytes for %d bits", ErrShortResponse, len(rsp.Data), quantity)
	}

	if int(rsp.Data[0]) != byteCount {
		return nil, fmt.Errorf("%w: reported %d, expected %d", ErrByteCountMismatch, rsp.Data[0], byteCount)
	}

	return UnpackBits(rsp.Data[1:1+byteCount], quantity), nil
}

// ParseReadRegistersResponse unpacks a read holding registers or read input
// registers response into quantity 16-bit values.
func ParseReadRegistersResponse(rsp PDU, quantity uint16) ([]uint16, error) {
	byteCount := 2 * int(quantity)
	if len(rsp.Data) < 1+byteCount {
		return nil, fmt.Errorf("%w: %d payload bytes for %d registers", ErrShortResponse, len(rsp.Data), quantity)
	}

	if int(rsp.Data[0]) != byteCount {
		return nil, fmt.Errorf("%w: reported %d, expected %d", ErrByteCountMismatch, rsp.Data[0], byteCount)
	}

	values := make([]uint16, quantity)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(rsp.Data[1+2*i:])
	}

	return values, nil
}

// NewWriteSingleCoilRequest builds a write single coil request. The output
// value on the wire is 0xFF00 for on and 0x0000 for off.
func NewWriteSingleCoilRequest(addr uint16, on bool) PDU {
	value := coilOff
	if on {
		value = coilOn
	}

	return PDU{Code: FuncWriteSingleCoil, Data: addrValueData(addr, value)}
}

// NewWriteSingleRegisterRequest builds a write single register request.
func NewWriteSingleRegisterRequest(addr uint16, value uint16) PDU {
	return PDU{Code: FuncWriteSingleRegister, Data: addrValueData(addr, value)}
}

// NewWriteMultipleCoilsRequest builds a write multiple coils request with
// the values packed eight per byte, least significant bit first.
func NewWriteMultipleCoilsRequest(addr uint16, values []bool) (PDU, error) {
	quantity := len(values)
	if quantity == 0 || quantity > MaxWriteBits {
		return PDU{}, fmt.Errorf("%w: %d coils, limit %d", ErrInvalidQuantity, quantity, MaxWriteBits)
	}

	if err := checkRange(addr, uint16(quantity)); err != nil {
		return PDU{}, err
	}

	packed := PackBits(values)
	data := make([]byte, 5, 5+len(packed))
	binary.BigEndian.PutUint16(data[0:2], addr)
	binary.BigEndian.PutUint16(data[2:4], uint16(quantity))
	data[4] = byte(len(packed))
	data = append(data, packed...)

	return PDU{Code: FuncWriteMultipleCoils, Data: data}, nil
}

// NewWriteMultipleRegistersRequest builds a write multiple registers request.
func NewWriteMultipleRegistersRequest(addr uint16, values []uint16) (PDU, error) {
	quantity := len(values)
	if quantity == 0 || quantity > MaxWriteRegisters {
		return PDU{}, fmt.Errorf("%w: %d registers, limit %d", ErrInvalidQuantity, quantity, MaxWriteRegisters)
	}

	if err := checkRange(addr, uint16(quantity)); err != nil {
		return PDU{}, err
	}

	data := make([]byte, 5+2*quantity)
	binary.BigEndian.PutUint16(data[0:2], addr)
	binary.BigEndian.PutUint16(data[2:4], uint16(quantity))
	data[4] = byte(2 * quantity)
	for i, v := range values {
		binary.BigEndian.PutUint16(data[5+2*i:], v)
	}

	return PDU{Code: FuncWriteMultipleRegisters, Data: data}, nil
}

// VerifyEchoResponse checks a write response that echoes two 16-bit fields
// of the request: address and value for single writes, address and quantity
// for multiple writes.
func VerifyEchoResponse(rsp PDU, first uint16, second uint16) error {
	if len(rsp.Data) < 4 {
		return fmt.Errorf("%w: %d payload bytes in write response", ErrShortResponse, len(rsp.Data))
	}

	gotFirst := binary.BigEndian.Uint16(rsp.Data[0:2])
	gotSecond := binary.BigEndian.Uint16(rsp.Data[2:4])
	if gotFirst != first || gotSecond != second {
		return fmt.Errorf("%w: sent (%d, %d), received (%d, %d)", ErrEchoMismatch, first, second, gotFirst, gotSecond)
	}

	return nil
}

// NewEchoRequest builds a diagnostics Return Query Data request carrying
// payload. A healthy device echoes the request back unchanged, which makes
// it a cheap link probe.
func NewEchoRequest(payload []byte) (PDU, error) {
	if len(payload) > maxEchoPayload {
		return PDU{}, fmt.Errorf("%w: %d byte echo payload, limit %d", ErrFrameTooLarge, len(payload), maxEchoPayload)
	}

	data := make([]byte, 2, 2+len(payload))
	binary.BigEndian.PutUint16(data[0:2], diagReturnQueryData)
	data = append(data, payload...)

	return PDU{Code: FuncDiagnostics, Data: data}, nil
}

// ParseEchoResponse checks that a diagnostics response echoes the request
// payload byte for byte.
func ParseEchoResponse(rsp PDU, payload []byte) error {
	if len(rsp.Data) < 2 {
		return fmt.Errorf("%w: %d payload bytes in diagnostics response", ErrShortResponse, len(rsp.Data))
	}

	if sub := binary.BigEndian.Uint16(rsp.Data[0:2]); sub != diagReturnQueryData {
		return fmt.Errorf("%w: unexpected diagnostics sub-function 0x%04X", ErrEchoMismatch, sub)
	}

	if !bytes.Equal(rsp.Data[2:], payload) {
		return fmt.Errorf("%w: diagnostics payload differs", ErrEchoMismatch)
	}

	return nil
}

// checkRange rejects a request whose last address falls outside the 16-bit
// address space.
func checkRange(addr uint16, quantity uint16) error {
	if uint32(addr)+uint32(quantity) > 0x10000 {
		return fmt.Errorf("%w: address %d with quantity %d exceeds the address space", ErrInvalidAddress, addr, quantity)
	}

	return nil
}

func addrValueData(addr uint16, value uint16) []byte {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr)
	binary.BigEndian.PutUint16(data[2:4], value)

	return data
}

// PackBits packs booleans eight per byte, least significant bit first. Both
// sides of the wire share this layout: write requests and read responses.
func PackBits(values []bool) []byte {
	packed := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			packed[i/8] |= 1 << (i % 8)
		}
	}

	return packed
}

// UnpackBits expands quantity bits packed least significant bit first.
func UnpackBits(data []byte, quantity uint16) []bool {
	values := make([]bool, quantity)
	for i := range values {
		values[i] = data[i/8]&(1<<(i%8)) != 0
	}

	return values
}
