package modbustcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-hwc/hwc"
	"github.com/arloliu/go-hwc/internal/pool"
	"github.com/arloliu/go-hwc/logger"
	"github.com/arloliu/go-hwc/modbus"
)

const (
	// closeCheckInterval is the interval for checking close status in Close().
	closeCheckInterval = 5 * time.Millisecond

	probeTaskName = "probeTask"
)

// probePayload is the classic diagnostics test pattern.
var probePayload = []byte{0xA5, 0x37}

// Connection is a Modbus TCP client connection.
//
// It embeds [modbus.BaseClient], so all Client operations are available on
// it directly. Requests are MBAP-framed and may overlap; responses are
// matched to waiters by transaction ID.
type Connection struct {
	*modbus.BaseClient

	pctx   context.Context
	cfg    *ConnectionConfig
	logger logger.Logger

	// Per-connect-cycle context, recreated before every dial attempt.
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

	// TCP resources.
	connMutex sync.RWMutex
	tcpConn   net.Conn

	// Request plumbing.
	//
	// senderMsgChan is drained by the sender task; transactOnce writes
	// encoded frames into it. It is created once in NewConnection and
	// never closed.
	idGen         *txnIDGenerator
	reader        frameReader
	senderMsgChan chan []byte
	replyChans    *xsync.MapOf[uint16, chan modbus.PDU]

	metrics modbus.ClientMetrics
}

// Compile-time check: Connection implements modbus.Client.
var _ modbus.Client = (*Connection)(nil)

// NewConnection creates a new Modbus TCP Connection with the given context
// and configuration.
//
// The connection starts closed; call [Connection.Open] to establish the link.
func NewConnection(ctx context.Context, cfg *ConnectionConfig) (*Connection, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}

	c := &Connection{
		pctx:       ctx,
		cfg:        cfg,
		logger:     cfg.logger,
		idGen:      newTxnIDGenerator(),
		reader:     frameReader{bodyTimeout: cfg.responseTimeout},
		replyChans: xsync.NewMapOf[uint16, chan modbus.PDU](),
		taskMgr:    hwc.NewTaskManager(ctx, cfg.logger),
	}

	c.BaseClient = modbus.NewBaseClient(c.transact)
	c.senderMsgChan = make(chan []byte, cfg.senderQueueSize)
	c.opState.Set(hwc.ClosedState)
	c.createContext()

	handlers := append([]hwc.ConnStateChangeHandler{c.connStateHandler}, cfg.connStateHandlers...)
	c.stateMgr = hwc.NewConnStateMgr(ctx, cfg.logger, handlers...)

	return c, nil
}

// Open establishes the Modbus TCP connection.
//
// If waitConnected is true, it blocks until the connection reaches the
// Connected state or an error occurs. If false, it initiates the connection
// process and returns immediately.
func (c *Connection) Open(waitConnected bool) error {
	c.shutdown.Store(false)
	c.loopCtx, c.loopCancel = context.WithCancel(c.pctx)

	return c.doOpen(waitConnected)
}

// Close closes the Modbus TCP connection gracefully.
//
// It terminates all running tasks, closes the TCP connection, fails pending
// requests with ErrConnClosed, and resets the connection state.
func (c *Connection) Close() error {
	c.reconnectGen.Add(1)
	c.shutdown.Store(true)

	// Cancel loopCtx to wake the connect loop immediately.
	if c.loopCancel != nil {
		c.loopCancel()
	}

	c.logger.Debug("modbustcp: start to close connection", "opState", c.opState.String())

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

			c.logger.Error("modbustcp: close connection timeout",
				"timeout", c.cfg.closeTimeout,
				"opState", c.opState.String())

			return errors.New("modbustcp: close connection timeout")

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
		c.logger.Warn("modbustcp: failed to set connection to opening state",
			"opState", c.opState.String())

		return nil
	}

	c.createContext()

	_ = c.stateMgr.ToConnecting()

	if err := c.openActive(); err != nil {
		return err
	}

	if waitConnected {
		// loopCtx spans the whole Open..Close cycle, unlike the per-dial
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

// --- TCP resource management ---

func (c *Connection) setupTCPConn(conn net.Conn) {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	c.tcpConn = conn
}

func (c *Connection) getTCPConn() net.Conn {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	return c.tcpConn
}

// closeTCP closes the TCP connection and returns the remote address.
func (c *Connection) closeTCP(timeout time.Duration) string {
	c.connMutex.Lock()
	conn := c.tcpConn
	if conn == nil {
		c.connMutex.Unlock()

		return ""
	}

	// Nil the reference under the write lock so subsequent calls are no-ops.
	c.tcpConn = nil
	c.connMutex.Unlock()

	remote := conn.RemoteAddr().String()

	if tcp, ok := conn.(*net.TCPConn); ok {
		linger := int(timeout.Seconds())
		if linger > 0 {
			_ = tcp.SetLinger(linger)
		} else {
			_ = tcp.SetLinger(0)
		}
	}

	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Error("modbustcp: failed to close TCP connection", "error", err)
	}

	return remote
}

// closeConn performs the full connection closing sequence: drains the sender
// channel, cancels the context, closes TCP, waits for all tasks, and fails
// pending requests.
func (c *Connection) closeConn(timeout time.Duration) error {
	if !c.opState.ToClosing() {
		if c.opState.IsClosed() {
			return nil
		}

		c.logger.Warn("modbustcp: failed to set connection to closing state",
			"opState", c.opState.String())

		return errors.New("modbustcp: failed to set connection to closing state")
	}

	closeCtx, closeCtxCancel := context.WithTimeout(context.Background(), timeout)
	defer closeCtxCancel()

	// Drain pending outgoing frames.
	c.drainSenderMsgChan(closeCtx)

	// Cancel the per-connect-cycle context.
	c.cancelContext()

	// Close TCP to unblock the receiver task.
	remoteAddr := c.closeTCP(timeout)

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
		c.logger.Error("modbustcp: close timeout", "error", closeCtx.Err(), "timeout", timeout)
		closeErr = errors.New("modbustcp: close timeout")
	}

	// Fail anyone still awaiting a response.
	c.dropAllPendingTxns()

	if !c.opState.ToClosed() {
		c.logger.Warn("modbustcp: failed to set connection to closed state",
			"opState", c.opState.String())

		return errors.New("modbustcp: failed to set connection to closed state")
	}

	c.logger.Debug("modbustcp: connection closed", "remoteAddr", remoteAddr)

	return closeErr
}

func (c *Connection) drainSenderMsgChan(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-c.senderMsgChan:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// --- Sender and receiver tasks ---

// startConnTasks starts the sender, receiver and optional probe tasks for a
// freshly established TCP connection.
func (c *Connection) startConnTasks() error {
	if err := hwc.StartChannel(c.taskMgr, "senderTask", c.senderTaskFunc, nil, c.senderMsgChan); err != nil {
		return err
	}

	if err := c.taskMgr.StartReceiver("receiverTask", modbus.MBAPHeaderSize, c.receiverTaskFunc, nil); err != nil {
		return err
	}

	if c.cfg.autoProbe {
		if err := c.taskMgr.StartInterval(probeTaskName, c.probeTaskFunc, c.cfg.probeInterval, false); err != nil {
			return err
		}
	}

	return nil
}

func (c *Connection) senderTaskFunc(frame []byte) bool {
	conn := c.getTCPConn()
	if conn == nil {
		return false
	}

	if c.cfg.sendTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.sendTimeout))
	}

	if _, err := conn.Write(frame); err != nil {
		if !isConnClosedError(err) {
			c.logger.Error("modbustcp: frame write failed", "error", err)
		}

		c.stateMgr.ToDisconnectedAsync()

		return false
	}

	return true
}

func (c *Connection) receiverTaskFunc(headerBuf []byte) bool {
	conn := c.getTCPConn()
	if conn == nil {
		return false
	}

	header, rsp, err := c.reader.ReadFrame(conn, headerBuf)
	if err != nil {
		if isConnClosedError(err) || isConnResetError(err) || errors.Is(err, io.EOF) {
			c.logger.Debug("modbustcp: connection closed by peer")
		} else {
			// Timeouts and framing errors leave the stream unsynchronized;
			// the only safe recovery is a fresh connection.
			c.logger.Error("modbustcp: frame read failed", "error", err)
		}

		c.stateMgr.ToDisconnectedAsync()

		return false
	}

	c.dispatchResponse(header, rsp)

	return true
}

// dispatchResponse matches a received frame to the waiter registered under
// its transaction ID. Responses nobody waits for anymore, such as one that
// arrives after the response timeout, are dropped.
func (c *Connection) dispatchResponse(header modbus.TCPHeader, rsp modbus.PDU) {
	replyChan, loaded := c.replyChans.LoadAndDelete(header.TransactionID)
	if !loaded {
		c.logger.Warn("modbustcp: response for unknown transaction, dropped",
			"txnID", header.TransactionID,
			"unit", header.UnitID,
			"code", rsp.Code.String())

		return
	}

	// The channel is buffered, so this never blocks; the default arm only
	// fires when the waiter timed out right between delete and send.
	select {
	case replyChan <- rsp:
	default:
	}
}

// probeTaskFunc sends one diagnostics echo to the probe unit. Any response,
// even an exception or a garbled echo, proves the device side of the link is
// alive; only a missing response forces a reconnect.
func (c *Connection) probeTaskFunc() bool {
	c.metrics.IncProbeSentCount()

	err := c.Echo(c.currentContext(), c.cfg.probeUnit, probePayload)
	if err == nil {
		return true
	}

	if !errors.Is(err, ErrResponseTimeout) && !errors.Is(err, ErrSendTimeout) &&
		!errors.Is(err, ErrNotConnected) && !errors.Is(err, ErrConnClosed) {
		c.logger.Debug("modbustcp: probe got an unusual but live response", "error", err)

		return true
	}

	c.metrics.IncProbeFailCount()
	c.logger.Warn("modbustcp: probe failed, forcing reconnect",
		"unit", c.cfg.probeUnit,
		"error", err)

	c.stateMgr.ToDisconnectedAsync()

	return false
}

// --- Request path ---

// transact is the RequestFunc registered with the embedded BaseClient. It
// retries timed-out requests up to the configured retry count; every other
// failure is surfaced immediately.
func (c *Connection) transact(ctx context.Context, unit uint8, req modbus.PDU) (modbus.PDU, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.retryCount; attempt++ {
		if attempt > 0 {
			c.metrics.IncRetryCount()
			c.logger.Debug("modbustcp: retrying request",
				"attempt", attempt,
				"code", req.Code.String(),
				"unit", unit)

			if !pool.Sleep(ctx, c.cfg.retryDelay) {
				return modbus.PDU{}, ctx.Err()
			}
		}

		rsp, err := c.transactOnce(ctx, unit, req)
		if err == nil {
			return rsp, nil
		}

		lastErr = err
		if !errors.Is(err, ErrResponseTimeout) {
			return modbus.PDU{}, err
		}
	}

	return modbus.PDU{}, lastErr
}

func (c *Connection) transactOnce(ctx context.Context, unit uint8, req modbus.PDU) (modbus.PDU, error) {
	if !c.stateMgr.IsConnected() {
		return modbus.PDU{}, ErrNotConnected
	}

	txnID := c.idGen.nextID()
	frame, err := modbus.EncodeTCPFrame(txnID, unit, req)
	if err != nil {
		return modbus.PDU{}, err
	}

	c.metrics.IncRequestCount()

	// Broadcast requests get no response; queue and return.
	if unit == modbus.BroadcastUnit {
		return modbus.PDU{}, c.enqueueFrame(ctx, frame)
	}

	replyChan := c.addPendingTxn(txnID)

	if err := c.enqueueFrame(ctx, frame); err != nil {
		c.removePendingTxn(txnID)

		return modbus.PDU{}, err
	}

	c.metrics.IncPendingGauge()
	defer c.metrics.DecPendingGauge()

	timer := pool.GetTimer(c.cfg.responseTimeout)
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
		c.removePendingTxn(txnID)

		return modbus.PDU{}, ctx.Err()

	case <-c.currentContext().Done():
		c.removePendingTxn(txnID)

		return modbus.PDU{}, ErrConnClosed

	case <-timer.C:
		c.removePendingTxn(txnID)
		c.metrics.IncTimeoutCount()
		c.logger.Warn("modbustcp: response timeout",
			"txnID", txnID,
			"unit", unit,
			"code", req.Code.String(),
			"timeout", c.cfg.responseTimeout)

		return modbus.PDU{}, ErrResponseTimeout

	case rsp, ok := <-replyChan:
		c.removePendingTxn(txnID)
		if !ok {
			return modbus.PDU{}, ErrConnClosed
		}

		c.metrics.IncResponseCount()
		if rsp.Code.IsException() {
			c.metrics.IncExceptionCount()
		}

		return rsp, nil
	}
}

// enqueueFrame puts an encoded frame onto the sender task's channel.
func (c *Connection) enqueueFrame(ctx context.Context, frame []byte) error {
	timer := pool.GetTimer(c.cfg.sendTimeout)
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.currentContext().Done():
		return ErrConnClosed
	case <-timer.C:
		return ErrSendTimeout
	case c.senderMsgChan <- frame:
		return nil
	}
}

// --- Pending transaction management ---

func (c *Connection) addPendingTxn(txnID uint16) <-chan modbus.PDU {
	ch := make(chan modbus.PDU, 1)
	c.replyChans.Store(txnID, ch)

	return ch
}

func (c *Connection) removePendingTxn(txnID uint16) {
	c.replyChans.Delete(txnID)
}

func (c *Connection) dropAllPendingTxns() {
	c.replyChans.Range(func(txnID uint16, ch chan modbus.PDU) bool {
		if ch != nil {
			close(ch)
		}

		return true
	})

	c.replyChans.Clear()
}

// --- Helpers ---

func isConnClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func isConnResetError(err error) bool {
	return strings.Contains(err.Error(), "connection reset by peer")
}
