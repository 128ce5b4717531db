package modbusrtu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/arloliu/go-hwc/hwc"
	"github.com/arloliu/go-hwc/internal/pool"
	"github.com/arloliu/go-hwc/logger"
	"github.com/arloliu/go-hwc/modbus"
)

const (
	// closeCheckInterval is the interval for checking close status in Close().
	closeCheckInterval = 5 * time.Millisecond

	probeTaskName = "probeTask"

	// maxDrainReads bounds how long a babbling device can pin the bus while
	// the line is drained back to silence.
	maxDrainReads = 64
)

// probePayload is the classic diagnostics test pattern.
var probePayload = []byte{0xA5, 0x37}

// Connection is a Modbus RTU client connection over a serial line or an
// RTU-over-TCP device server.
//
// It embeds [modbus.BaseClient], so all Client operations are available on
// it directly. The line is half-duplex: one exchange owns it at a time, and
// concurrent callers queue on an internal mutex.
type Connection struct {
	*modbus.BaseClient

	pctx   context.Context
	cfg    *ConnectionConfig
	logger logger.Logger

	// Per-connect-cycle context, recreated before every open attempt.
	ctxMu     sync.RWMutex
	ctx       context.Context
	ctxCancel context.CancelFunc

	opState  hwc.AtomicOpState
	stateMgr *hwc.ConnStateMgr
	taskMgr  *hwc.TaskManager
	shutdown atomic.Bool

	// Reconnect.
	connectLoopRunning atomic.Bool
	reconnectGen       atomic.Uint64
	loopCtx            context.Context    // cancelled on Close to wake the connect loop
	loopCancel         context.CancelFunc // cancels loopCtx

	// Stream resources.
	streamMutex sync.RWMutex
	stream      Stream

	// transactMu serializes exchanges on the half-duplex line. lineDirty is
	// guarded by it and records that the previous exchange may have left a
	// late response in flight.
	transactMu sync.Mutex
	lineDirty  bool

	metrics modbus.ClientMetrics
}

// Compile-time check: Connection implements modbus.Client.
var _ modbus.Client = (*Connection)(nil)

// NewConnection creates a new Modbus RTU Connection with the given context
// and configuration.
//
// The connection starts closed; call [Connection.Open] to establish the link.
func NewConnection(ctx context.Context, cfg *ConnectionConfig) (*Connection, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}

	c := &Connection{
		pctx:    ctx,
		cfg:     cfg,
		logger:  cfg.logger,
		taskMgr: hwc.NewTaskManager(ctx, cfg.logger),
	}

	c.BaseClient = modbus.NewBaseClient(c.transact)
	c.opState.Set(hwc.ClosedState)
	c.createContext()

	handlers := append([]hwc.ConnStateChangeHandler{c.connStateHandler}, cfg.connStateHandlers...)
	c.stateMgr = hwc.NewConnStateMgr(ctx, cfg.logger, handlers...)

	return c, nil
}

// Open establishes the Modbus RTU connection.
//
// If waitConnected is true, it blocks until the connection reaches the
// Connected state or an error occurs. If false, it initiates the connection
// process and returns immediately.
func (c *Connection) Open(waitConnected bool) error {
	c.shutdown.Store(false)
	c.loopCtx, c.loopCancel = context.WithCancel(c.pctx)

	return c.doOpen(waitConnected)
}

// Close closes the Modbus RTU connection gracefully.
//
// It terminates all running tasks, closes the stream so a blocked exchange
// fails with ErrConnClosed, and resets the connection state.
func (c *Connection) Close() error {
	c.reconnectGen.Add(1)
	c.shutdown.Store(true)

	// Cancel loopCtx to wake the connect loop immediately.
	if c.loopCancel != nil {
		c.loopCancel()
	}

	c.logger.Debug("modbusrtu: start to close connection", "opState", c.opState.String())

	if !c.isClosed() {
		c.stateMgr.ToDisconnected()
	}

	closeTimer := pool.GetTimer(c.cfg.closeTimeout)
	defer pool.PutTimer(closeTimer)

	checkTicker := time.NewTicker(closeCheckInterval)
	defer checkTicker.Stop()

	for {
		select {
		case <-closeTimer.C:
			if c.isClosed() {
				return nil
			}

			c.logger.Error("modbusrtu: close connection timeout",
				"timeout", c.cfg.closeTimeout,
				"opState", c.opState.String())

			return errors.New("modbusrtu: close connection timeout")

		case <-checkTicker.C:
			if c.isClosed() {
				return nil
			}
		}
	}
}

// State returns the current connection state.
func (c *Connection) State() hwc.ConnState {
	return c.stateMgr.State()
}

// IsConnected returns true when the link is established and ready for requests.
func (c *Connection) IsConnected() bool {
	return c.stateMgr.IsConnected()
}

// Metrics returns the metrics associated with the connection.
func (c *Connection) Metrics() *modbus.ClientMetrics {
	return &c.metrics
}

// GetLogger returns the logger associated with the connection.
func (c *Connection) GetLogger() logger.Logger {
	return c.logger
}

// --- Connection lifecycle ---

func (c *Connection) doOpen(waitConnected bool) error {
	if !c.opState.ToOpening() {
		c.logger.Warn("modbusrtu: failed to set connection to opening state",
			"opState", c.opState.String())

		return nil
	}

	c.createContext()

	_ = c.stateMgr.ToConnecting()

	if err := c.openActive(); err != nil {
		return err
	}

	if waitConnected {
		// loopCtx spans the whole Open..Close cycle, unlike the per-open
		// context which is recreated on every attempt.
		return c.stateMgr.WaitState(c.loopCtx, hwc.ConnectedState)
	}

	return nil
}

func (c *Connection) isClosed() bool {
	return c.opState.IsClosed() && c.stateMgr.IsDisconnected()
}

// createContext replaces the per-connect-cycle context, cancelling the
// previous one so stragglers from an earlier cycle are woken.
func (c *Connection) createContext() {
	c.ctxMu.Lock()
	defer c.ctxMu.Unlock()

	if c.ctxCancel != nil {
		c.ctxCancel()
	}
	c.ctx, c.ctxCancel = context.WithCancel(c.pctx)
}

func (c *Connection) currentContext() context.Context {
	c.ctxMu.RLock()
	defer c.ctxMu.RUnlock()

	return c.ctx
}

func (c *Connection) cancelContext() {
	c.ctxMu.RLock()
	cancel := c.ctxCancel
	c.ctxMu.RUnlock()

	if cancel != nil {
		cancel()
	}
}

// --- Stream resource management ---

func (c *Connection) setupStream(stream Stream) {
	c.streamMutex.Lock()
	defer c.streamMutex.Unlock()

	c.stream = stream
}

func (c *Connection) getStream() Stream {
	c.streamMutex.RLock()
	defer c.streamMutex.RUnlock()

	return c.stream
}

// closeStream closes the stream and nils the reference so subsequent calls
// are no-ops.
func (c *Connection) closeStream() {
	c.streamMutex.Lock()
	stream := c.stream
	c.stream = nil
	c.streamMutex.Unlock()

	if stream == nil {
		return
	}

	if err := stream.Close(); err != nil && !isStreamClosedError(err) {
		c.logger.Error("modbusrtu: failed to close stream", "error", err)
	}
}

// closeConn performs the full connection closing sequence: cancels the
// context, closes the stream so a blocked exchange fails, and waits for all
// tasks to stop.
func (c *Connection) closeConn(timeout time.Duration) error {
	if !c.opState.ToClosing() {
		if c.opState.IsClosed() {
			return nil
		}

		c.logger.Warn("modbusrtu: failed to set connection to closing state",
			"opState", c.opState.String())

		return errors.New("modbusrtu: failed to set connection to closing state")
	}

	closeCtx, closeCtxCancel := context.WithTimeout(context.Background(), timeout)
	defer closeCtxCancel()

	// Cancel the per-connect-cycle context.
	c.cancelContext()

	// Close the stream to unblock an in-flight exchange.
	c.closeStream()

	// Stop all tasks.
	c.taskMgr.Stop()

	// Wait for task termination with timeout.
	go func() {
		c.taskMgr.Wait()
		closeCtxCancel()
	}()

	<-closeCtx.Done()

	var closeErr error
	if !errors.Is(closeCtx.Err(), context.Canceled) {
		c.logger.Error("modbusrtu: close timeout", "error", closeCtx.Err(), "timeout", timeout)
		closeErr = errors.New("modbusrtu: close timeout")
	}

	if !c.opState.ToClosed() {
		c.logger.Warn("modbusrtu: failed to set connection to closed state",
			"opState", c.opState.String())

		return errors.New("modbusrtu: failed to set connection to closed state")
	}

	c.logger.Debug("modbusrtu: connection closed", "target", c.cfg.Target())

	return closeErr
}

// --- Tasks ---

// startConnTasks starts the optional probe task for a freshly established
// link. The exchange path itself runs in the caller's goroutine, so there is
// no sender or receiver task.
func (c *Connection) startConnTasks() error {
	if !c.cfg.autoProbe {
		return nil
	}

	return c.taskMgr.StartInterval(probeTaskName, c.probeTaskFunc, c.cfg.probeInterval, false)
}

// probeTaskFunc sends one diagnostics echo to the probe unit. A garbled
// reply still proves the line is alive; only silence or a dead stream forces
// a reconnect.
func (c *Connection) probeTaskFunc() bool {
	c.metrics.IncProbeSentCount()

	err := c.Echo(c.currentContext(), c.cfg.probeUnit, probePayload)
	if err == nil {
		return true
	}

	if !errors.Is(err, ErrResponseTimeout) && !errors.Is(err, ErrNotConnected) &&
		!errors.Is(err, ErrConnClosed) {
		c.logger.Debug("modbusrtu: probe got an unusual but live response", "error", err)

		return true
	}

	c.metrics.IncProbeFailCount()
	c.logger.Warn("modbusrtu: probe failed, forcing reconnect",
		"unit", c.cfg.probeUnit,
		"error", err)

	c.stateMgr.ToDisconnectedAsync()

	return false
}

// --- Request path ---

// transact is the RequestFunc registered with the embedded BaseClient. It
// retries recoverable exchange failures up to the configured retry count;
// every other failure is surfaced immediately.
func (c *Connection) transact(ctx context.Context, unit uint8, req modbus.PDU) (modbus.PDU, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.retryCount; attempt++ {
		if attempt > 0 {
			c.metrics.IncRetryCount()
			c.logger.Debug("modbusrtu: retrying request",
				"attempt", attempt,
				"code", req.Code.String(),
				"unit", unit,
				"error", lastErr)

			if !pool.Sleep(ctx, c.cfg.retryDelay) {
				return modbus.PDU{}, ctx.Err()
			}
		}

		rsp, err := c.transactOnce(ctx, unit, req)
		if err == nil {
			return rsp, nil
		}

		lastErr = err
		if !isRetryableExchange(err) {
			return modbus.PDU{}, err
		}
	}

	return modbus.PDU{}, lastErr
}

// isRetryableExchange reports whether err describes a single garbled or
// missed exchange, as opposed to a dead link or a definitive reply.
func isRetryableExchange(err error) bool {
	return errors.Is(err, ErrResponseTimeout) ||
		errors.Is(err, ErrFrameTooShort) ||
		errors.Is(err, ErrUnitMismatch) ||
		errors.Is(err, modbus.ErrCRC) ||
		errors.Is(err, modbus.ErrCodeMismatch) ||
		errors.Is(err, modbus.ErrFrameTooLarge)
}

// transactOnce performs one request/response exchange while holding the bus.
func (c *Connection) transactOnce(ctx context.Context, unit uint8, req modbus.PDU) (modbus.PDU, error) {
	if err := ctx.Err(); err != nil {
		return modbus.PDU{}, err
	}

	if !c.stateMgr.IsConnected() {
		return modbus.PDU{}, ErrNotConnected
	}

	frame, err := modbus.EncodeRTUFrame(unit, req)
	if err != nil {
		return modbus.PDU{}, err
	}

	c.transactMu.Lock()
	defer c.transactMu.Unlock()

	stream := c.getStream()
	if stream == nil {
		return modbus.PDU{}, ErrNotConnected
	}

	// A late response from a failed exchange may still be in flight; wait
	// for the line to fall silent before claiming it.
	if c.lineDirty {
		c.lineDirty = false
		c.drainUntilSilence(stream)
	}

	c.metrics.IncRequestCount()
	c.metrics.IncPendingGauge()
	defer c.metrics.DecPendingGauge()

	if _, err := stream.Write(frame); err != nil {
		return modbus.PDU{}, c.streamFailure(err)
	}

	if unit == modbus.BroadcastUnit {
		// Every slave acts on a broadcast without answering; hold the bus
		// for the turnaround delay so they all finish before the next frame.
		if !pool.Sleep(ctx, c.cfg.turnaroundDelay) {
			return modbus.PDU{}, ctx.Err()
		}

		return modbus.PDU{}, nil
	}

	rsp, err := c.readResponse(stream, unit, req)
	if err != nil {
		return modbus.PDU{}, err
	}

	c.metrics.IncResponseCount()
	if rsp.Code.IsException() {
		c.metrics.IncExceptionCount()
	}

	return rsp, nil
}

// readResponse reads one response frame. The expected length follows from
// the request's function code, so the frame boundary never depends on
// timing alone.
func (c *Connection) readResponse(stream Stream, unit uint8, req modbus.PDU) (modbus.PDU, error) {
	frame := make([]byte, 2, modbus.MaxRTUFrameSize)

	// The slave gets the whole response timeout to start transmitting; once
	// bytes flow, each gap is bounded by the inter-frame silence.
	n, err := readFull(stream, frame, c.cfg.responseTimeout, c.cfg.interFrameSilence)
	if err != nil {
		switch {
		case !isReadTimeout(err):
			return modbus.PDU{}, c.streamFailure(err)

		case n == 0:
			c.lineDirty = true
			c.metrics.IncTimeoutCount()
			c.logger.Warn("modbusrtu: response timeout",
				"unit", unit,
				"code", req.Code.String(),
				"timeout", c.cfg.responseTimeout)

			return modbus.PDU{}, ErrResponseTimeout

		default:
			c.lineDirty = true

			return modbus.PDU{}, fmt.Errorf("%w: 1 of 2 header bytes", ErrFrameTooShort)
		}
	}

	frame, restLen, err := c.responseRestLen(stream, frame, req)
	if err != nil {
		return modbus.PDU{}, err
	}

	have := len(frame)
	frame = frame[:have+restLen]
	if err := c.readBody(stream, frame[have:]); err != nil {
		return modbus.PDU{}, err
	}

	respUnit, rsp, err := modbus.DecodeRTUFrame(frame)
	if err != nil {
		// Misread framing may leave the tail of the transmission unread.
		c.drainUntilSilence(stream)

		return modbus.PDU{}, err
	}

	if respUnit != unit {
		// Another slave answered; this request's own response may follow.
		c.lineDirty = true

		return modbus.PDU{}, fmt.Errorf("%w: sent to unit %d, answered by unit %d", ErrUnitMismatch, unit, respUnit)
	}

	return rsp, nil
}

// responseRestLen determines how many bytes remain after the unit and
// function code, reading the byte-count byte first where the code requires
// it. It returns the possibly grown frame alongside the remaining length.
func (c *Connection) responseRestLen(stream Stream, frame []byte, req modbus.PDU) ([]byte, int, error) {
	code := modbus.FunctionCode(frame[1])

	switch {
	case code.IsException() && code.Base() == req.Code:
		// Exception code plus CRC.
		return frame, 3, nil

	case code != req.Code:
		c.drainUntilSilence(stream)

		return frame, 0, fmt.Errorf("%w: request %s, response code %#02x",
			modbus.ErrCodeMismatch, req.Code.String(), frame[1])
	}

	switch req.Code {
	case modbus.FuncReadCoils, modbus.FuncReadDiscreteInputs,
		modbus.FuncReadHoldingRegisters, modbus.FuncReadInputRegisters:
		// Read responses carry their own byte count.
		frame = frame[:3]
		if err := c.readBody(stream, frame[2:3]); err != nil {
			return frame, 0, err
		}

		count := int(frame[2])
		if count+5 > modbus.MaxRTUFrameSize {
			c.drainUntilSilence(stream)

			return frame, 0, fmt.Errorf("%w: %d byte count in response", modbus.ErrFrameTooLarge, count)
		}

		return frame, count + 2, nil

	case modbus.FuncWriteSingleCoil, modbus.FuncWriteSingleRegister,
		modbus.FuncWriteMultipleCoils, modbus.FuncWriteMultipleRegisters:
		// Write responses echo the address and value or quantity, then CRC.
		return frame, 6, nil

	default:
		// Diagnostics and custom codes echo the request payload.
		return frame, len(req.Data) + 2, nil
	}
}

// readBody reads the remaining body bytes into buf, treating any timeout as
// a truncated frame since transmission already started.
func (c *Connection) readBody(stream Stream, buf []byte) error {
	n, err := readFull(stream, buf, c.cfg.interFrameSilence, c.cfg.interFrameSilence)
	if err == nil {
		return nil
	}

	if !isReadTimeout(err) {
		return c.streamFailure(err)
	}

	c.lineDirty = true

	return fmt.Errorf("%w: %d of %d body bytes", ErrFrameTooShort, n, len(buf))
}

// readFull reads len(buf) bytes from stream. first bounds the wait for the
// opening read, rest bounds every read once data starts arriving. It returns
// how many bytes actually arrived alongside any error.
func readFull(stream Stream, buf []byte, first, rest time.Duration) (int, error) {
	timeout := first

	for read := 0; read < len(buf); {
		if err := stream.SetReadTimeout(timeout); err != nil {
			return read, err
		}

		n, err := stream.Read(buf[read:])
		read += n

		if err != nil {
			return read, err
		}

		timeout = rest
	}

	return len(buf), nil
}

// drainUntilSilence discards bytes until the line is quiet for one
// inter-frame silence interval, so a partially consumed transmission cannot
// desynchronize the next exchange.
func (c *Connection) drainUntilSilence(stream Stream) {
	buf := make([]byte, 256)

	for range maxDrainReads {
		if err := stream.SetReadTimeout(c.cfg.interFrameSilence); err != nil {
			return
		}

		if _, err := stream.Read(buf); err != nil {
			return
		}
	}

	// Still talking after the bound; leave the rest to the next exchange.
	c.lineDirty = true
}

// streamFailure handles a hard stream error: the link is unusable, so kick
// the state machine and map closed-stream errors onto ErrConnClosed.
func (c *Connection) streamFailure(err error) error {
	c.stateMgr.ToDisconnectedAsync()

	if isStreamClosedError(err) {
		return ErrConnClosed
	}

	return err
}

func isStreamClosedError(err error) bool {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return portErr.Code() == serial.PortClosed
	}

	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, os.ErrClosed)
}
