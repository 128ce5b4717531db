package modbustest

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-hwc/modbus"
)

// sendTCPRequest writes one MBAP-framed request and reads back one response.
func sendTCPRequest(t *testing.T, conn net.Conn, txnID uint16, unit uint8, req modbus.PDU) (modbus.TCPHeader, modbus.PDU) {
	t.Helper()

	frame, err := modbus.EncodeTCPFrame(txnID, unit, req)
	require.NoError(t, err)

	_, err = conn.Write(frame)
	require.NoError(t, err)

	return readTCPResponse(t, conn)
}

func readTCPResponse(t *testing.T, conn net.Conn) (modbus.TCPHeader, modbus.PDU) {
	t.Helper()

	headerBuf := make([]byte, modbus.MBAPHeaderSize)
	_, err := io.ReadFull(conn, headerBuf)
	require.NoError(t, err)

	header, err := modbus.DecodeTCPHeader(headerBuf)
	require.NoError(t, err)

	body := make([]byte, header.PDUSize())
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)

	return header, modbus.PDU{Code: modbus.FunctionCode(body[0]), Data: body[1:]}
}

func startTestServer(t *testing.T, units ...uint8) (*Server, net.Conn) {
	t.Helper()

	server := NewServer()
	for _, unit := range units {
		server.AddUnit(unit, NewBank())
	}

	addr, err := server.Start("127.0.0.1:0")
	require.NoError(t, err)
	require.Equal(t, addr, server.Addr())

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		_ = server.Close()
	})

	return server, conn
}

func TestServer_TCPRoundTrip(t *testing.T) {
	server, conn := startTestServer(t, 1)
	server.Bank(1).SetHoldingRegister(107, 0x022B)
	server.Bank(1).SetHoldingRegister(108, 0x0064)

	req, err := modbus.NewReadRequest(modbus.FuncReadHoldingRegisters, 107, 2)
	require.NoError(t, err)

	header, rsp := sendTCPRequest(t, conn, 0x1234, 1, req)
	require.Equal(t, uint16(0x1234), header.TransactionID)
	require.Equal(t, uint8(1), header.UnitID)

	values, err := modbus.ParseReadRegistersResponse(rsp, 2)
	require.NoError(t, err)
	require.Equal(t, []uint16{0x022B, 0x0064}, values)
}

func TestServer_TCPWriteThenRead(t *testing.T) {
	_, conn := startTestServer(t, 1)

	writeReq, err := modbus.NewWriteMultipleRegistersRequest(10, []uint16{0xBEEF, 0x000A})
	require.NoError(t, err)

	_, rsp := sendTCPRequest(t, conn, 1, 1, writeReq)
	require.Equal(t, modbus.FuncWriteMultipleRegisters, rsp.Code)

	readReq, err := modbus.NewReadRequest(modbus.FuncReadHoldingRegisters, 10, 2)
	require.NoError(t, err)

	header, rsp := sendTCPRequest(t, conn, 2, 1, readReq)
	require.Equal(t, uint16(2), header.TransactionID)

	values, err := modbus.ParseReadRegistersResponse(rsp, 2)
	require.NoError(t, err)
	require.Equal(t, []uint16{0xBEEF, 0x000A}, values)
}

func TestServer_TCPUnknownUnit(t *testing.T) {
	_, conn := startTestServer(t, 1)

	req, err := modbus.NewReadRequest(modbus.FuncReadCoils, 0, 1)
	require.NoError(t, err)

	_, rsp := sendTCPRequest(t, conn, 7, 9, req)
	excErr, ok := modbus.ParseExceptionResponse(rsp)
	require.True(t, ok)
	require.Equal(t, modbus.ExceptionGatewayTargetFailed, excErr.Exception)
}

func TestServer_TCPBroadcast(t *testing.T) {
	server, conn := startTestServer(t, 1, 2)

	// A broadcast write produces no response, so the next frame the client
	// reads belongs to the follow-up read request.
	frame, err := modbus.EncodeTCPFrame(1, modbus.BroadcastUnit, modbus.NewWriteSingleCoilRequest(5, true))
	require.NoError(t, err)

	_, err = conn.Write(frame)
	require.NoError(t, err)

	readReq, err := modbus.NewReadRequest(modbus.FuncReadCoils, 5, 1)
	require.NoError(t, err)

	header, rsp := sendTCPRequest(t, conn, 2, 1, readReq)
	require.Equal(t, uint16(2), header.TransactionID)

	values, err := modbus.ParseReadBitsResponse(rsp, 1)
	require.NoError(t, err)
	require.Equal(t, []bool{true}, values)

	require.True(t, server.Bank(1).Coil(5))
	require.True(t, server.Bank(2).Coil(5))
}

func TestServer_OnRequest(t *testing.T) {
	t.Run("respond overrides bank", func(t *testing.T) {
		server, conn := startTestServer(t, 1)
		server.OnRequest(func(unit uint8, req modbus.PDU) (modbus.PDU, HookAction) {
			return modbus.NewExceptionResponse(req.Code, modbus.ExceptionServerDeviceBusy), HookRespond
		})

		req, err := modbus.NewReadRequest(modbus.FuncReadCoils, 0, 1)
		require.NoError(t, err)

		_, rsp := sendTCPRequest(t, conn, 1, 1, req)
		excErr, ok := modbus.ParseExceptionResponse(rsp)
		require.True(t, ok)
		require.Equal(t, modbus.ExceptionServerDeviceBusy, excErr.Exception)
	})

	t.Run("drop forces a timeout", func(t *testing.T) {
		server, conn := startTestServer(t, 1)
		server.OnRequest(func(unit uint8, req modbus.PDU) (modbus.PDU, HookAction) {
			return modbus.PDU{}, HookDrop
		})

		req, err := modbus.NewReadRequest(modbus.FuncReadCoils, 0, 1)
		require.NoError(t, err)

		frame, err := modbus.EncodeTCPFrame(1, 1, req)
		require.NoError(t, err)

		_, err = conn.Write(frame)
		require.NoError(t, err)

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))

		buf := make([]byte, 1)
		_, err = conn.Read(buf)
		var netErr net.Error
		require.ErrorAs(t, err, &netErr)
		require.True(t, netErr.Timeout())
	})

	t.Run("continue falls through to the bank", func(t *testing.T) {
		server, conn := startTestServer(t, 1)
		hookCalls := 0
		server.OnRequest(func(unit uint8, req modbus.PDU) (modbus.PDU, HookAction) {
			hookCalls++
			return modbus.PDU{}, HookContinue
		})
		server.Bank(1).SetCoil(0, true)

		req, err := modbus.NewReadRequest(modbus.FuncReadCoils, 0, 1)
		require.NoError(t, err)

		_, rsp := sendTCPRequest(t, conn, 1, 1, req)
		values, err := modbus.ParseReadBitsResponse(rsp, 1)
		require.NoError(t, err)
		require.Equal(t, []bool{true}, values)
		require.Equal(t, 1, hookCalls)
	})
}

func TestServer_SetResponseDelay(t *testing.T) {
	server, conn := startTestServer(t, 1)
	server.SetResponseDelay(50 * time.Millisecond)

	req, err := modbus.NewReadRequest(modbus.FuncReadCoils, 0, 1)
	require.NoError(t, err)

	start := time.Now()
	sendTCPRequest(t, conn, 1, 1, req)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestServer_ServeRTU(t *testing.T) {
	server := NewServer()
	bank := NewBank()
	bank.SetHoldingRegister(0, 0x0A0B)
	server.AddUnit(1, bank)

	clientEnd, serverEnd := net.Pipe()
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ServeRTU(serverEnd)
	}()

	req, err := modbus.NewReadRequest(modbus.FuncReadHoldingRegisters, 0, 1)
	require.NoError(t, err)

	frame, err := modbus.EncodeRTUFrame(1, req)
	require.NoError(t, err)

	_, err = clientEnd.Write(frame)
	require.NoError(t, err)

	// unit + code + byte count + one register + CRC
	rspBuf := make([]byte, 7)
	_, err = io.ReadFull(clientEnd, rspBuf)
	require.NoError(t, err)

	unit, rsp, err := modbus.DecodeRTUFrame(rspBuf)
	require.NoError(t, err)
	require.Equal(t, uint8(1), unit)

	values, err := modbus.ParseReadRegistersResponse(rsp, 1)
	require.NoError(t, err)
	require.Equal(t, []uint16{0x0A0B}, values)

	_ = clientEnd.Close()
	require.NoError(t, server.Close())
	require.NoError(t, <-serveErr)
}

func TestServer_ServeRTUSilentOnCRCError(t *testing.T) {
	server := NewServer()
	server.AddUnit(1, NewBank())

	clientEnd, serverEnd := net.Pipe()
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ServeRTU(serverEnd)
	}()

	req, err := modbus.NewReadRequest(modbus.FuncReadCoils, 0, 1)
	require.NoError(t, err)

	corrupt, err := modbus.EncodeRTUFrame(1, req)
	require.NoError(t, err)
	corrupt[len(corrupt)-1] ^= 0xFF

	_, err = clientEnd.Write(corrupt)
	require.NoError(t, err)

	// The corrupt frame is ignored, so the next valid frame gets the first
	// response on the wire.
	valid, err := modbus.EncodeRTUFrame(1, req)
	require.NoError(t, err)

	_, err = clientEnd.Write(valid)
	require.NoError(t, err)

	rspBuf := make([]byte, 6)
	_, err = io.ReadFull(clientEnd, rspBuf)
	require.NoError(t, err)

	unit, rsp, err := modbus.DecodeRTUFrame(rspBuf)
	require.NoError(t, err)
	require.Equal(t, uint8(1), unit)
	require.Equal(t, modbus.FuncReadCoils, rsp.Code)

	_ = clientEnd.Close()
	require.NoError(t, server.Close())
	require.NoError(t, <-serveErr)
}

func TestServer_CloseIdempotent(t *testing.T) {
	server := NewServer()
	_, err := server.Start("127.0.0.1:0")
	require.NoError(t, err)

	require.NoError(t, server.Close())
	require.NoError(t, server.Close())
}
