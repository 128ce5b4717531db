package modbustest

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-hwc/modbus"
)

// HookAction tells the server what to do with a hooked request.
type HookAction int

const (
	// HookContinue lets the bank handle the request normally.
	HookContinue HookAction = iota
	// HookRespond sends the hook's response instead of the bank's.
	HookRespond
	// HookDrop sends no response at all, forcing the client to time out.
	HookDrop
)

// RequestHook inspects every request before the bank handles it. The
// returned PDU is only used with HookRespond.
type RequestHook func(unit uint8, req modbus.PDU) (modbus.PDU, HookAction)

// Server serves Banks over Modbus TCP and RTU framing. The zero value is
// not usable; create one with NewServer.
type Server struct {
	mu       sync.Mutex
	banks    map[uint8]*Bank
	hook     RequestHook
	delay    time.Duration
	listener net.Listener
	streams  map[io.Closer]struct{}

	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewServer creates a Server with no units. Register banks with AddUnit
// before starting it.
func NewServer() *Server {
	return &Server{
		banks:   make(map[uint8]*Bank),
		streams: make(map[io.Closer]struct{}),
	}
}

// AddUnit registers bank under the given unit address, replacing any
// previous bank for that unit.
func (s *Server) AddUnit(unit uint8, bank *Bank) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.banks[unit] = bank
}

// Bank returns the bank registered for unit, or nil.
func (s *Server) Bank(unit uint8) *Bank {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.banks[unit]
}

// OnRequest installs a hook that runs for every request, on every
// transport. Pass nil to remove it.
func (s *Server) OnRequest(hook RequestHook) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hook = hook
}

// SetResponseDelay delays every response by d, which simulates a slow
// device. Zero restores immediate responses.
func (s *Server) SetResponseDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.delay = d
}

// Start listens on addr ("127.0.0.1:0" picks a free port) and serves Modbus
// TCP connections until Close. It returns the bound address.
func (s *Server) Start(addr string) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(listener)

	return listener.Addr().String(), nil
}

// Addr returns the TCP address the server is listening on, or an empty
// string before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Close stops the listener, closes all active connections and streams, and
// waits for the serving goroutines to finish.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}

	for stream := range s.streams {
		_ = stream.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	return nil
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}

		s.addStream(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.removeStream(conn)

			s.serveTCPConn(conn)
		}()
	}
}

// serveTCPConn answers MBAP-framed requests on conn until it closes or a
// framing error makes resynchronization impossible.
func (s *Server) serveTCPConn(conn net.Conn) {
	header := make([]byte, modbus.MBAPHeaderSize)

	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}

		h, err := modbus.DecodeTCPHeader(header)
		if err != nil {
			return
		}

		body := make([]byte, h.PDUSize())
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}

		req := modbus.PDU{Code: modbus.FunctionCode(body[0]), Data: body[1:]}

		rsp, respond := s.handle(h.UnitID, req)
		if !respond {
			continue
		}

		frame, err := modbus.EncodeTCPFrame(h.TransactionID, h.UnitID, rsp)
		if err != nil {
			return
		}

		if _, err := conn.Write(frame); err != nil {
			return
		}
	}
}

// ServeRTU answers RTU-framed requests on stream until the stream closes or
// the server does. It blocks, so callers usually run it in a goroutine with
// net.Pipe standing in for the serial line.
//
// Request framing is derived from the function code, so diagnostics
// requests must carry the conventional two payload bytes.
func (s *Server) ServeRTU(stream io.ReadWriteCloser) error {
	s.addStream(stream)
	defer s.removeStream(stream)

	head := make([]byte, 2)

	for {
		if _, err := io.ReadFull(stream, head); err != nil {
			if s.streamDone(err) {
				return nil
			}

			return err
		}

		rest, err := s.readRTURequestRest(stream, modbus.FunctionCode(head[1]))
		if err != nil {
			if s.streamDone(err) {
				return nil
			}

			return err
		}

		frame := make([]byte, 0, len(head)+len(rest))
		frame = append(frame, head...)
		frame = append(frame, rest...)

		unit, req, err := modbus.DecodeRTUFrame(frame)
		if err != nil {
			// A slave stays silent on a corrupt frame.
			continue
		}

		rsp, respond := s.handle(unit, req)
		if !respond {
			continue
		}

		out, err := modbus.EncodeRTUFrame(unit, rsp)
		if err != nil {
			continue
		}

		if _, err := stream.Write(out); err != nil {
			if s.streamDone(err) {
				return nil
			}

			return err
		}
	}
}

// streamDone reports whether err means the RTU stream ended normally, either
// because the peer closed it or the server shut down.
func (s *Server) streamDone(err error) bool {
	return s.closed.Load() ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}

// readRTURequestRest reads the remainder of one RTU request after the unit
// and function code bytes. Request lengths are fixed per function code,
// except the multiple-write codes which carry their own byte count.
func (s *Server) readRTURequestRest(stream io.Reader, code modbus.FunctionCode) ([]byte, error) {
	switch code {
	case modbus.FuncWriteMultipleCoils, modbus.FuncWriteMultipleRegisters:
		head := make([]byte, 5)
		if _, err := io.ReadFull(stream, head); err != nil {
			return nil, err
		}

		rest := make([]byte, int(head[4])+2)
		if _, err := io.ReadFull(stream, rest); err != nil {
			return nil, err
		}

		return append(head, rest...), nil
	default:
		// Four payload bytes plus CRC covers the read requests, the single
		// writes and the two-byte diagnostics convention.
		buf := make([]byte, 6)
		if _, err := io.ReadFull(stream, buf); err != nil {
			return nil, err
		}

		return buf, nil
	}
}

// handle routes one request to the hook, the broadcast fanout or the unit's
// bank. The second return value reports whether a response should be sent.
func (s *Server) handle(unit uint8, req modbus.PDU) (modbus.PDU, bool) {
	s.mu.Lock()
	hook := s.hook
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if hook != nil {
		rsp, action := hook(unit, req)
		switch action {
		case HookRespond:
			return rsp, true
		case HookDrop:
			return modbus.PDU{}, false
		case HookContinue:
		}
	}

	if unit == modbus.BroadcastUnit {
		for _, bank := range s.snapshotBanks() {
			bank.Apply(req)
		}

		return modbus.PDU{}, false
	}

	bank := s.Bank(unit)
	if bank == nil {
		return modbus.NewExceptionResponse(req.Code, modbus.ExceptionGatewayTargetFailed), true
	}

	return bank.Apply(req), true
}

func (s *Server) snapshotBanks() []*Bank {
	s.mu.Lock()
	defer s.mu.Unlock()

	banks := make([]*Bank, 0, len(s.banks))
	for _, bank := range s.banks {
		banks = append(banks, bank)
	}

	return banks
}

func (s *Server) addStream(stream io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.streams[stream] = struct{}{}
}

func (s *Server) removeStream(stream io.Closer) {
	s.mu.Lock()
	delete(s.streams, stream)
	s.mu.Unlock()

	_ = stream.Close()
}
