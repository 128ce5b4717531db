package modbus

import (
	"encoding/binary"
	"fmt"

	"github.com/arloliu/go-hwc/internal/util"
)

const (
	// MBAPHeaderSize is the fixed MBAP header length: transaction ID,
	// protocol ID, length field and unit address.
	MBAPHeaderSize = 7
	// MaxTCPFrameSize is the largest MBAP ADU: header plus PDU.
	MaxTCPFrameSize = MBAPHeaderSize + maxPDUSize
)

// TCPHeader is a decoded MBAP header. The length field counts the unit
// address and the PDU, so Length-1 bytes of PDU follow the header on the
// wire.
type TCPHeader struct {
	TransactionID uint16
	Length        uint16
	UnitID        uint8
}

// PDUSize returns the number of PDU bytes that follow the header.
func (h TCPHeader) PDUSize() int {
	return int(h.Length) - 1
}

// EncodeTCPFrame wraps a PDU in an MBAP frame with the given transaction ID
// and unit address. The protocol identifier is always zero.
func EncodeTCPFrame(txnID uint16, unit uint8, pdu PDU) ([]byte, error) {
	if pdu.Size() > maxPDUSize {
		return nil, fmt.Errorf("%w: %d byte PDU, limit %d", ErrFrameTooLarge, pdu.Size(), maxPDUSize)
	}

	frame := make([]byte, MBAPHeaderSize, MBAPHeaderSize+pdu.Size())
	binary.BigEndian.PutUint16(frame[0:2], txnID)
	binary.BigEndian.PutUint16(frame[2:4], 0)
	binary.BigEndian.PutUint16(frame[4:6], uint16(1+pdu.Size()))
	frame[6] = unit

	frame = append(frame, byte(pdu.Code))
	frame = append(frame, pdu.Data...)

	return frame, nil
}

// DecodeTCPHeader validates an MBAP header and returns its fields.
func DecodeTCPHeader(header []byte) (TCPHeader, error) {
	if len(header) < MBAPHeaderSize {
		return TCPHeader{}, fmt.Errorf("%w: %d byte MBAP header", ErrShortResponse, len(header))
	}

	if proto := binary.BigEndian.Uint16(header[2:4]); proto != 0 {
		return TCPHeader{}, fmt.Errorf("%w: 0x%04X", ErrInvalidProtocolID, proto)
	}

	length := binary.BigEndian.Uint16(header[4:6])
	if length < 2 {
		return TCPHeader{}, fmt.Errorf("%w: MBAP length %d", ErrShortResponse, length)
	}

	if int(length) > 1+maxPDUSize {
		return TCPHeader{}, fmt.Errorf("%w: MBAP length %d, limit %d", ErrFrameTooLarge, length, 1+maxPDUSize)
	}

	return TCPHeader{
		TransactionID: binary.BigEndian.Uint16(header[0:2]),
		Length:        length,
		UnitID:        header[6],
	}, nil
}

// DecodeTCPFrame splits a whole MBAP frame into its header and PDU. The PDU
// payload is copied out of frame, so the caller may reuse the buffer.
func DecodeTCPFrame(frame []byte) (TCPHeader, PDU, error) {
	header, err := DecodeTCPHeader(frame)
	if err != nil {
		return TCPHeader{}, PDU{}, err
	}

	if len(frame) < MBAPHeaderSize+header.PDUSize() {
		return TCPHeader{}, PDU{}, fmt.Errorf("%w: %d byte MBAP frame for length %d", ErrShortResponse, len(frame), header.Length)
	}

	body := frame[MBAPHeaderSize : MBAPHeaderSize+header.PDUSize()]
	pdu := PDU{Code: FunctionCode(body[0]), Data: util.CloneSlice(body[1:], 0)}

	return header, pdu, nil
}
