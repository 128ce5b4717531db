package modbustcp

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/arloliu/go-hwc/hwc"
)

const (
	initialReconnectDelay = 100 * time.Millisecond
	reconnectDelayFactor  = 2
	maxReconnectDelay     = 30 * time.Second
)

// connStateHandler reacts to connection state transitions.
//
// State flow:
//
//	ConnectedState    → start sender, receiver and optional probe tasks
//	DisconnectedState → close TCP, restart connect loop for auto-reconnect
//	ConnectingState   → no-op; the connect loop handles dialing
func (c *Connection) connStateHandler(_ hwc.ConnState, newState hwc.ConnState) {
	c.logger.Debug("modbustcp: connection state change", "state", newState)

	switch newState {
	case hwc.ConnectedState:
		if c.shutdown.Load() {
			// Close raced a successful dial; tear the link back down.
			c.stateMgr.ToDisconnectedAsync()

			return
		}

		if err := c.startConnTasks(); err != nil {
			c.logger.Error("modbustcp: failed to start connection tasks", "error", err)
			c.stateMgr.ToDisconnectedAsync()

			return
		}

	case hwc.DisconnectedState:
		_ = c.closeConn(c.cfg.closeTimeout)

		if !c.shutdown.Load() && c.cfg.autoReconnect {
			c.stateMgr.ToConnectingAsync()
			c.startConnectLoop()
		}

	case hwc.ConnectingState:
		// The connect loop owns dialing; nothing to do here.
	}
}

// openActive performs the initial dial for Open.
//
// It tries a synchronous dial first so that callers using waitConnected=true
// can immediately block on WaitState. On failure, it either starts the
// background connect loop (auto-reconnect) or reverts and surfaces the error.
func (c *Connection) openActive() error {
	err := c.tryConnect(c.currentContext())
	if err == nil {
		return nil // connected on first attempt
	}

	if c.shutdown.Load() {
		c.stateMgr.ToDisconnectedAsync()

		return nil
	}

	if !c.cfg.autoReconnect {
		// One-shot open: revert so a later Open can run, and surface the error.
		c.cancelContext()
		c.opState.Set(hwc.ClosedState)
		c.stateMgr.ToDisconnected()

		return err
	}

	c.startConnectLoop()

	return nil
}

// startConnectLoop launches the background connect-retry goroutine.
// Only one loop runs at a time (guarded by connectLoopRunning CAS).
func (c *Connection) startConnectLoop() {
	if !c.connectLoopRunning.CompareAndSwap(false, true) {
		return
	}

	gen := c.reconnectGen.Load()
	loopCtx := c.loopCtx

	go c.connectLoop(loopCtx, gen)
}

// connectLoop is the core retry loop. It uses a local delay variable for the
// exponential backoff and exits when:
//   - loopCtx is cancelled (Close() was called),
//   - shutdown is set,
//   - reconnectGen changes (Close() was called), or
//   - a dial succeeds.
func (c *Connection) connectLoop(loopCtx context.Context, gen uint64) {
	defer c.connectLoopRunning.Store(false)

	delay := initialReconnectDelay

	for {
		timer := time.NewTimer(delay)

		select {
		case <-loopCtx.Done():
			timer.Stop()

			return

		case <-timer.C:
		}

		// Check guards after waking up.
		if c.reconnectGen.Load() != gen || c.shutdown.Load() {
			return
		}

		c.metrics.IncReconnectCount()

		// Prepare opState for the dial attempt. After closeConn the state
		// is Closed with the per-connect-cycle context cancelled.
		if c.opState.IsClosed() {
			if !c.opState.ToOpening() {
				continue
			}

			c.createContext()
		}

		if err := c.tryConnect(c.currentContext()); err != nil {
			// Revert so the next iteration can transition Closed → Opening.
			c.opState.Set(hwc.ClosedState)

			// Exponential backoff.
			delay *= reconnectDelayFactor
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}

			continue
		}

		// Connected. Future disconnects trigger Disconnected → closeConn →
		// startConnectLoop for a fresh loop.
		return
	}
}

// tryConnect performs the TCP dial and transitions to Connected on success.
func (c *Connection) tryConnect(ctx context.Context) error {
	address := net.JoinHostPort(c.cfg.host, strconv.Itoa(c.cfg.port))
	dialer := &net.Dialer{KeepAlive: 30 * time.Second}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.connectTimeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		c.logger.Debug("modbustcp: dial failed", "address", address, "error", err)

		return err
	}

	c.setupTCPConn(conn)

	// Close may have raced the dial; whoever observes the shutdown flag
	// after the conn is stored tears it down.
	if c.shutdown.Load() {
		c.closeTCP(0)

		return ErrConnClosed
	}

	if !c.opState.ToOpened() {
		c.logger.Warn("modbustcp: failed to set state to opened",
			"opState", c.opState.String())
	}

	c.logger.Debug("modbustcp: connected",
		"localAddr", conn.LocalAddr(),
		"remoteAddr", conn.RemoteAddr())

	c.stateMgr.ToConnectedAsync()

	return nil
}
