package modbustcp

import (
	"io"
	"net"
	"time"

	"github.com/arloliu/go-hwc/modbus"
)

// frameReader reads one MBAP frame at a time from a TCP connection.
//
// The header read blocks without a deadline, since an idle connection can
// legitimately stay quiet for a long time. Once a header arrives, the body
// must follow within bodyTimeout.
type frameReader struct {
	bodyTimeout time.Duration
}

// ReadFrame reads one complete MBAP frame from conn.
//
// headerBuf is a caller-owned scratch buffer of modbus.MBAPHeaderSize bytes;
// the returned PDU owns its payload and does not alias the buffer.
func (r *frameReader) ReadFrame(conn net.Conn, headerBuf []byte) (modbus.TCPHeader, modbus.PDU, error) {
	// Clear any deadline left over from a previous body read.
	_ = conn.SetReadDeadline(time.Time{})

	if _, err := io.ReadFull(conn, headerBuf); err != nil {
		return modbus.TCPHeader{}, modbus.PDU{}, err
	}

	header, err := modbus.DecodeTCPHeader(headerBuf)
	if err != nil {
		return modbus.TCPHeader{}, modbus.PDU{}, err
	}

	if r.bodyTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(r.bodyTimeout))
	}

	body := make([]byte, header.PDUSize())
	if _, err := io.ReadFull(conn, body); err != nil {
		return modbus.TCPHeader{}, modbus.PDU{}, err
	}

	return header, modbus.PDU{Code: modbus.FunctionCode(body[0]), Data: body[1:]}, nil
}
