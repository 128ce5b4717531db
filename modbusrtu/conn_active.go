package modbusrtu

import (
	"context"
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
//	ConnectedState    → start the optional probe task
//	DisconnectedState → close the stream, restart connect loop for auto-reconnect
//	ConnectingState   → no-op; the connect loop handles opening
func (c *Connection) connStateHandler(_ hwc.ConnState, newState hwc.ConnState) {
	c.logger.Debug("modbusrtu: connection state change", "state", newState)

	switch newState {
	case hwc.ConnectedState:
		if c.shutdown.Load() {
			// Close raced a successful open; tear the link back down.
			c.stateMgr.ToDisconnectedAsync()

			return
		}

		if err := c.startConnTasks(); err != nil {
			c.logger.Error("modbusrtu: failed to start connection tasks", "error", err)
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
		// The connect loop owns opening; nothing to do here.
	}
}

// openActive performs the initial stream open for Open.
//
// It tries a synchronous open first so that callers using waitConnected=true
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
//   - an open succeeds.
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

		// Prepare opState for the open attempt. After closeConn the state
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

// tryConnect opens the configured stream and transitions to Connected on
// success.
func (c *Connection) tryConnect(ctx context.Context) error {
	stream, err := openStream(ctx, c.cfg)
	if err != nil {
		c.logger.Debug("modbusrtu: open failed", "target", c.cfg.Target(), "error", err)

		return err
	}

	c.setupStream(stream)

	// Close may have raced the open; whoever observes the shutdown flag
	// after the stream is stored tears it down.
	if c.shutdown.Load() {
		c.closeStream()

		return ErrConnClosed
	}

	if !c.opState.ToOpened() {
		c.logger.Warn("modbusrtu: failed to set state to opened",
			"opState", c.opState.String())
	}

	// A fresh stream starts with a clean line.
	c.transactMu.Lock()
	c.lineDirty = false
	c.transactMu.Unlock()

	c.logger.Debug("modbusrtu: connected", "target", c.cfg.Target())

	c.stateMgr.ToConnectedAsync()

	return nil
}
