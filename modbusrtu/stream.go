package modbusrtu

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"go.bug.st/serial"
)

// tcpWriteTimeout bounds each frame write on an RTU-over-TCP stream.
// Serial writes block on the OS transmit buffer instead and need no deadline.
const tcpWriteTimeout = 3 * time.Second

// Stream is the byte pipe an RTU connection exchanges frames over.
//
// SetReadTimeout arms the timeout for every subsequent Read call; a read
// that expires returns an error matching os.ErrDeadlineExceeded. Serial
// ports support this natively, net.Conn via read deadlines.
type Stream interface {
	io.ReadWriteCloser

	SetReadTimeout(d time.Duration) error
}

// isReadTimeout reports whether err is an expired read timeout rather than a
// hard stream failure.
func isReadTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// --- Serial ---

// serialPort is the subset of the serial driver a serialStream relies on.
type serialPort interface {
	io.ReadWriteCloser

	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Drain() error
}

// serialStream adapts a serial port to the Stream interface.
//
// The driver reports an expired read timeout as a zero-byte read with a nil
// error; that is normalized to os.ErrDeadlineExceeded so timeout handling is
// uniform across serial and TCP streams.
type serialStream struct {
	port serialPort
}

func openSerialStream(cfg *ConnectionConfig) (Stream, error) {
	port, err := serial.Open(cfg.device, serialMode(cfg))
	if err != nil {
		return nil, err
	}

	// Bytes that arrived while the port was closed belong to nobody.
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()

		return nil, err
	}

	return &serialStream{port: port}, nil
}

// serialMode maps the configured line parameters onto the serial driver.
func serialMode(cfg *ConnectionConfig) *serial.Mode {
	mode := &serial.Mode{
		BaudRate: cfg.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	switch cfg.parity {
	case ParityEven:
		mode.Parity = serial.EvenParity
	case ParityOdd:
		mode.Parity = serial.OddParity
	}

	if cfg.stopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	return mode
}

func (s *serialStream) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if n == 0 && err == nil {
		return 0, os.ErrDeadlineExceeded
	}

	return n, err
}

// Write sends p and drains the OS transmit buffer, so the response timeout
// starts counting only after the last byte left the wire.
func (s *serialStream) Write(p []byte) (int, error) {
	n, err := s.port.Write(p)
	if err != nil {
		return n, err
	}

	if err := s.port.Drain(); err != nil {
		return n, err
	}

	return n, nil
}

func (s *serialStream) SetReadTimeout(d time.Duration) error {
	return s.port.SetReadTimeout(d)
}

func (s *serialStream) Close() error {
	return s.port.Close()
}

// --- TCP ---

// tcpStream adapts a net.Conn to the Stream interface, translating the read
// timeout into a per-read deadline.
type tcpStream struct {
	conn        net.Conn
	readTimeout time.Duration
}

func openTCPStream(ctx context.Context, cfg *ConnectionConfig) (Stream, error) {
	dialer := &net.Dialer{KeepAlive: 30 * time.Second}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.connectTimeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", cfg.Addr())
	if err != nil {
		return nil, err
	}

	return &tcpStream{conn: conn}, nil
}

func (s *tcpStream) Read(p []byte) (int, error) {
	if s.readTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return 0, err
		}
	}

	return s.conn.Read(p)
}

func (s *tcpStream) Write(p []byte) (int, error) {
	if err := s.conn.SetWriteDeadline(time.Now().Add(tcpWriteTimeout)); err != nil {
		return 0, err
	}

	return s.conn.Write(p)
}

func (s *tcpStream) SetReadTimeout(d time.Duration) error {
	s.readTimeout = d

	return nil
}

func (s *tcpStream) Close() error {
	return s.conn.Close()
}

// openStream establishes the configured transport.
func openStream(ctx context.Context, cfg *ConnectionConfig) (Stream, error) {
	if cfg.IsSerial() {
		return openSerialStream(cfg)
	}

	return openTCPStream(ctx, cfg)
}
