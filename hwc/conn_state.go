package hwc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-hwc/logger"
)

// ConnState represents the lifecycle stage of a device connection.
type ConnState uint32

// Connection states shared by the Modbus transports.
const (
	// DisconnectedState indicates that no link to the device is established.
	DisconnectedState ConnState = iota
	// ConnectingState indicates that a connect attempt is in progress.
	ConnectingState
	// ConnectedState indicates that the link is established and ready for requests.
	ConnectedState
)

// IsDisconnected returns if the current state is disconnected.
func (cs ConnState) IsDisconnected() bool { return cs == DisconnectedState }

// IsConnecting returns if the current state is connecting.
func (cs ConnState) IsConnecting() bool { return cs == ConnectingState }

// IsConnected returns if the current state is connected.
func (cs ConnState) IsConnected() bool { return cs == ConnectedState }

// String returns string representation of the current state.
func (cs ConnState) String() string {
	switch cs {
	case DisconnectedState:
		return "disconnected"
	case ConnectingState:
		return "connecting"
	case ConnectedState:
		return "connected"
	default:
		return "unknown"
	}
}

// ConnStateChangeHandler is a function type that represents a handler for connection state changes.
// It is invoked when the state of a device connection changes.
//
// Note: the handler will be invoked in a blocking mode. Take care with long-running implementations.
//
// The handler function receives two arguments:
//   - prevState: The previous connection state.
//   - newState: The current connection state.
type ConnStateChangeHandler func(prevState ConnState, newState ConnState)

// ConnStateMgr manages the connection state of a device connection.
//
// It provides methods for managing state transitions and notifying listeners of state changes.
// The state transitions are safe for use in concurrent environments.
type ConnStateMgr struct {
	mu               sync.Mutex
	ctx              context.Context
	cond             *sync.Cond
	state            atomic.Uint32
	logger           logger.Logger
	asyncStateChange chan ConnState
	handlers         []ConnStateChangeHandler
}

// NewConnStateMgr creates a new ConnStateMgr instance, initializing it to the DisconnectedState.
//
// It accepts optional ConnStateChangeHandler functions that will be invoked when the connection state changes.
func NewConnStateMgr(ctx context.Context, l logger.Logger, handlers ...ConnStateChangeHandler) *ConnStateMgr {
	connState := &ConnStateMgr{
		ctx:              ctx,
		logger:           l,
		asyncStateChange: make(chan ConnState, 10),
		handlers:         make([]ConnStateChangeHandler, 0, len(handlers)),
	}

	for _, handler := range handlers {
		connState.AddHandler(handler)
	}

	if connState.logger == nil {
		connState.logger = logger.GetLogger()
	}

	connState.state.Store(uint32(DisconnectedState))
	connState.cond = sync.NewCond(&connState.mu)

	go connState.asyncStateChangeTask()

	return connState
}

// State returns the current connection state.
func (cs *ConnStateMgr) State() ConnState {
	return ConnState(cs.state.Load())
}

// AddHandler adds one or more ConnStateChangeHandler functions to be invoked on state changes.
func (cs *ConnStateMgr) AddHandler(handlers ...ConnStateChangeHandler) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.handlers = append(cs.handlers, handlers...)
}

// WaitState waits for the connection state to reach the specified state or until the context is done.
// It returns nil if the desired state is reached, or an error if the context is canceled or times out.
func (cs *ConnStateMgr) WaitState(ctx context.Context, state ConnState) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.logger.Debug("wait connection state", "cur_state", cs.State(), "desired_state", state)
	if cs.State() == state {
		return nil
	}

	stopFunc := context.AfterFunc(ctx, func() {
		cs.cond.Broadcast()
	})
	defer stopFunc()

	for cs.State() != state {
		select {
		case <-ctx.Done():
			cs.logger.Debug("wait connection state receive ctx done", "cur_state", cs.State(), "desired_state", state)
			return ctx.Err()
		default:
			cs.cond.Wait()
		}
	}
	cs.logger.Debug("wait connection state finished", "cur_state", cs.State(), "desired_state", state)

	return nil
}

// ToDisconnected transitions the connection state to DisconnectedState.
// This transition is allowed from any state and represents a disconnection or a reset of the connection.
func (cs *ConnStateMgr) ToDisconnected() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()

	if curState.IsDisconnected() {
		cs.logger.Debug("already in DisconnectedState, no need to transition")
		return
	}

	// change state to disconnected BEFORE all handlers finished
	cs.setState(DisconnectedState)

	cs.invokeHandlers(curState, DisconnectedState)
}

// ToConnecting transitions the connection state to ConnectingState.
//
// This transition is only allowed from the DisconnectedState and indicates that a
// connect attempt has started.
// If the state is already ConnectingState, the function is a no-op.
//
// Returns nil on success, or ErrInvalidTransition if the current state is not DisconnectedState.
func (cs *ConnStateMgr) ToConnecting() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()

	if curState.IsConnecting() {
		return nil // Already in ConnectingState, No-op
	}

	// Only allow transition from DisconnectedState
	if !curState.IsDisconnected() {
		return ErrInvalidTransition
	}

	cs.invokeHandlers(curState, ConnectingState)
	// change state after all handlers finished
	cs.setState(ConnectingState)

	return nil
}

// ToConnected transitions the connection state to ConnectedState.
//
// This transition is only allowed from the ConnectingState and indicates that the
// link is established and ready for requests.
// If the state is already ConnectedState, the function is a no-op.
//
// Returns nil on success, or ErrInvalidTransition if the current state is not ConnectingState.
func (cs *ConnStateMgr) ToConnected() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()

	if curState.IsConnected() {
		return nil // Already in ConnectedState, No-op
	}

	// Only allow transition from ConnectingState
	if !curState.IsConnecting() {
		return ErrInvalidTransition
	}

	cs.invokeHandlers(curState, ConnectedState)
	// change state after all handlers finished
	cs.setState(ConnectedState)

	return nil
}

// ToDisconnectedAsync transitions connection state to DisconnectedState asynchronously.
//
// It will notify a goroutine and transite state in the back asynchronously.
//
// If the state is the same as the current state, the function is a no-op.
func (cs *ConnStateMgr) ToDisconnectedAsync() {
	cs.changeStateAsync(DisconnectedState)
}

// ToConnectingAsync transitions connection state to ConnectingState asynchronously.
//
// It will notify a goroutine and transite state in the back asynchronously.
//
// If the state is the same as the current state, the function is a no-op.
func (cs *ConnStateMgr) ToConnectingAsync() {
	cs.changeStateAsync(ConnectingState)
}

// ToConnectedAsync transitions connection state to ConnectedState asynchronously.
//
// It will notify a goroutine and transite state in the back asynchronously.
//
// If the state is the same as the current state, the function is a no-op.
func (cs *ConnStateMgr) ToConnectedAsync() {
	cs.changeStateAsync(ConnectedState)
}

// IsDisconnected returns if the current state is disconnected.
func (cs *ConnStateMgr) IsDisconnected() bool {
	return cs.State().IsDisconnected()
}

// IsConnecting returns if the current state is connecting.
func (cs *ConnStateMgr) IsConnecting() bool {
	return cs.State().IsConnecting()
}

// IsConnected returns if the current state is connected.
func (cs *ConnStateMgr) IsConnected() bool {
	return cs.State().IsConnected()
}

// setState atomically set current state to the newState. It also broadcasts a signal to any waiting goroutines.
func (cs *ConnStateMgr) setState(newState ConnState) {
	cs.state.Store(uint32(newState))
	cs.cond.Broadcast()
}

// invokeHandlers invokes all registered ConnStateChangeHandler functions with the previous and new states.
func (cs *ConnStateMgr) invokeHandlers(prevState ConnState, newState ConnState) {
	for _, handler := range cs.handlers {
		if handler != nil {
			handler(prevState, newState)
		}
	}
}

// changeStateAsync transitions the desired connection state asynchronously.
//
// It will notify a goroutine and transite state in the back asynchronously.
//
// If the state is the same as the current state, the function is a no-op.
func (cs *ConnStateMgr) changeStateAsync(state ConnState) {
	if cs.State() == state {
		return
	}

	cs.asyncStateChange <- state
}

// asyncStateChangeTask handles state changing in the background.
func (cs *ConnStateMgr) asyncStateChangeTask() {
	defer cs.logger.Debug("asyncStateChangeTask terminated")

	for {
		select {
		case <-cs.ctx.Done():
			return

		case desiredState := <-cs.asyncStateChange:
			prevState := cs.State()

			cs.logger.Debug("[start] async connection state",
				"method", "asyncStateChangeTask",
				"prevState", prevState, "curState", cs.State(), "desiredState", desiredState,
			)
			if desiredState == prevState {
				cs.logger.Debug("same state, exit", "method", "asyncStateChangeTask", "state", desiredState)
				break
			}

			var err error
			switch desiredState {
			case DisconnectedState:
				cs.ToDisconnected()
			case ConnectingState:
				err = cs.ToConnecting()
			case ConnectedState:
				err = cs.ToConnected()
			}

			if err != nil {
				cs.logger.Error("[failed] async connection state",
					"method", "asyncStateChangeTask",
					"prevState", prevState, "curState", cs.State(), "desiredState", desiredState,
					"error", err,
				)
				if errors.Is(err, ErrInvalidTransition) {
					cs.asyncStateChange <- DisconnectedState
				}
			}
			cs.logger.Debug("[end] async connection state",
				"method", "asyncStateChangeTask",
				"prevState", prevState, "curState", cs.State(), "desiredState", desiredState,
			)
		}
	}
}
