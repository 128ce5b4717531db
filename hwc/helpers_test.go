package hwc

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
)

// fakeEngine is a scripted in-memory engine. Read cycles commit the values in
// readValues by signal name; write cycles record the staged values they saw.
type fakeEngine struct {
	mu         sync.Mutex
	bound      []Signal
	bindCount  int
	readCount  int
	writeCount int
	callOrder  []string
	readValues map[string]float64
	written    map[string]float64
	bindErr    error
	readErr    error
	writeErr   error
}

var _ Engine = (*fakeEngine)(nil)

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		readValues: make(map[string]float64),
		written:    make(map[string]float64),
	}
}

func (e *fakeEngine) Bind(signals []Signal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.bindCount++
	if e.bindErr != nil {
		return e.bindErr
	}
	e.bound = signals

	return nil
}

func (e *fakeEngine) ReadStates(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.readCount++
	e.callOrder = append(e.callOrder, "read")
	if e.readErr != nil {
		return e.readErr
	}

	for _, sig := range e.bound {
		if v, ok := e.readValues[sig.Name()]; ok {
			sig.Commit(v)
		}
	}

	return nil
}

func (e *fakeEngine) WriteStates(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.writeCount++
	e.callOrder = append(e.callOrder, "write")
	if e.writeErr != nil {
		return e.writeErr
	}

	for _, sig := range e.bound {
		if v, ok := sig.Staged(); ok {
			e.written[sig.Name()] = v
			// the device will report the accepted value on the next read
			e.readValues[sig.Name()] = v
		}
	}

	return nil
}

// setReadValue scripts the value the next read cycle commits for a signal.
func (e *fakeEngine) setReadValue(name string, v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.readValues[name] = v
}

func (e *fakeEngine) counts() (bind, read, write int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.bindCount, e.readCount, e.writeCount
}

func (e *fakeEngine) order() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, len(e.callOrder))
	copy(out, e.callOrder)

	return out
}

// MockEngine is a testify mock of the Engine interface.
type MockEngine struct {
	mock.Mock
}

var _ Engine = (*MockEngine)(nil)

func (m *MockEngine) Bind(signals []Signal) error {
	args := m.Called(signals)
	return args.Error(0)
}

func (m *MockEngine) ReadStates(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEngine) WriteStates(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// testChannelProp is a minimal device property for property lookup tests.
type testChannelProp struct {
	unit    uint8
	channel int
}

func (p testChannelProp) Device() string { return "test-device" }

// newTestGroup builds a group with a fake engine and the given signals.
func newTestGroup(t *testing.T, signals ...Signal) (*SignalGroup, *fakeEngine) {
	t.Helper()

	engine := newFakeEngine()
	grp, err := NewSignalGroup(engine, signals...)
	if err != nil {
		t.Fatalf("newTestGroup: %v", err)
	}

	return grp, engine
}
