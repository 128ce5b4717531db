package modbus

import (
	"fmt"

	"github.com/arloliu/go-hwc/internal/util"
)

// MaxRTUFrameSize is the largest RTU ADU: unit address, PDU and CRC-16.
const MaxRTUFrameSize = 256

// minRTUFrameSize is the smallest decodable RTU frame: unit address,
// function code and CRC-16.
const minRTUFrameSize = 4

// EncodeRTUFrame wraps a PDU in an RTU frame: unit address, PDU bytes and
// CRC-16 appended low byte first.
func EncodeRTUFrame(unit uint8, pdu PDU) ([]byte, error) {
	size := 1 + pdu.Size() + 2
	if size > MaxRTUFrameSize {
		return nil, fmt.Errorf("%w: %d byte RTU frame, limit %d", ErrFrameTooLarge, size, MaxRTUFrameSize)
	}

	frame := make([]byte, 0, size)
	frame = append(frame, unit, byte(pdu.Code))
	frame = append(frame, pdu.Data...)

	crc := CRC16(frame)
	frame = append(frame, byte(crc), byte(crc>>8))

	return frame, nil
}

// DecodeRTUFrame verifies the CRC-16 and splits an RTU frame into the unit
// address and the PDU. The PDU payload is copied out of frame, so the caller
// may reuse the buffer.
func DecodeRTUFrame(frame []byte) (uint8, PDU, error) {
	if len(frame) < minRTUFrameSize {
		return 0, PDU{}, fmt.Errorf("%w: %d byte RTU frame", ErrShortResponse, len(frame))
	}

	if len(frame) > MaxRTUFrameSize {
		return 0, PDU{}, fmt.Errorf("%w: %d byte RTU frame, limit %d", ErrFrameTooLarge, len(frame), MaxRTUFrameSize)
	}

	body := frame[:len(frame)-2]
	want := CRC16(body)
	got := uint16(frame[len(frame)-2]) | uint16(frame[len(frame)-1])<<8
	if got != want {
		return 0, PDU{}, fmt.Errorf("%w: calculated 0x%04X, received 0x%04X", ErrCRC, want, got)
	}

	pdu := PDU{Code: FunctionCode(body[1]), Data: util.CloneSlice(body[2:], 0)}

	return body[0], pdu, nil
}
