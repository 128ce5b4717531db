package modbusrtu

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-hwc/hwc"
)

func TestNewSerialConfig_Defaults(t *testing.T) {
	cfg, err := NewSerialConfig("/dev/ttyUSB0")
	require.NoError(t, err)

	assert.True(t, cfg.IsSerial())
	assert.Equal(t, "/dev/ttyUSB0", cfg.Device())
	assert.Equal(t, "/dev/ttyUSB0", cfg.Target())

	assert.Equal(t, DefaultBaudRate, cfg.BaudRate())
	assert.Equal(t, ParityNone, cfg.Parity())
	assert.Equal(t, DefaultStopBits, cfg.StopBits())

	assert.Equal(t, DefaultResponseTimeout, cfg.ResponseTimeout())
	assert.Equal(t, DefaultRetryCount, cfg.RetryCount())
	assert.Equal(t, DefaultRetryDelay, cfg.RetryDelay())
	assert.Equal(t, DefaultTurnaroundDelay, cfg.TurnaroundDelay())
	assert.Equal(t, DefaultConnectTimeout, cfg.ConnectTimeout())
	assert.Equal(t, DefaultProbeInterval, cfg.ProbeInterval())
	assert.Equal(t, DefaultProbeUnit, cfg.ProbeUnit())

	// 3.5 characters of 11 bits at 9600 baud.
	assert.Equal(t, time.Duration(38_500_000_000/9600), cfg.InterFrameSilence())

	assert.True(t, cfg.AutoReconnect())
	assert.False(t, cfg.AutoProbe())

	assert.NotNil(t, cfg.GetLogger())
}

func TestNewTCPConfig_Defaults(t *testing.T) {
	cfg, err := NewTCPConfig("127.0.0.1", 4001)
	require.NoError(t, err)

	assert.False(t, cfg.IsSerial())
	assert.Equal(t, "127.0.0.1", cfg.Host())
	assert.Equal(t, 4001, cfg.Port())
	assert.Equal(t, "127.0.0.1:4001", cfg.Addr())
	assert.Equal(t, "127.0.0.1:4001", cfg.Target())

	// TCP streams have no character timing; the fixed floor applies.
	assert.Equal(t, 1750*time.Microsecond, cfg.InterFrameSilence())
}

func TestNewSerialConfig_WithOptions(t *testing.T) {
	handlerCalled := false
	cfg, err := NewSerialConfig("/dev/ttyS1",
		WithBaudRate(19200),
		WithParity(ParityEven),
		WithStopBits(2),
		WithResponseTimeout(500*time.Millisecond),
		WithRetryCount(5),
		WithRetryDelay(2*time.Second),
		WithInterFrameSilence(10*time.Millisecond),
		WithTurnaroundDelay(200*time.Millisecond),
		WithConnectTimeout(10*time.Second),
		WithCloseTimeout(1*time.Second),
		WithAutoReconnect(false),
		WithAutoProbe(true),
		WithProbeInterval(10*time.Second),
		WithProbeUnit(7),
		WithConnStateHandlers(func(prev hwc.ConnState, cur hwc.ConnState) {
			handlerCalled = true
		}),
	)
	require.NoError(t, err)

	assert.Equal(t, 19200, cfg.BaudRate())
	assert.Equal(t, ParityEven, cfg.Parity())
	assert.Equal(t, 2, cfg.StopBits())
	assert.Equal(t, 500*time.Millisecond, cfg.ResponseTimeout())
	assert.Equal(t, 5, cfg.RetryCount())
	assert.Equal(t, 2*time.Second, cfg.RetryDelay())
	assert.Equal(t, 10*time.Millisecond, cfg.InterFrameSilence())
	assert.Equal(t, 200*time.Millisecond, cfg.TurnaroundDelay())
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout())
	assert.False(t, cfg.AutoReconnect())
	assert.True(t, cfg.AutoProbe())
	assert.Equal(t, 10*time.Second, cfg.ProbeInterval())
	assert.Equal(t, uint8(7), cfg.ProbeUnit())

	require.Len(t, cfg.connStateHandlers, 1)
	cfg.connStateHandlers[0](hwc.DisconnectedState, hwc.ConnectingState)
	assert.True(t, handlerCalled)
}

func TestNewSerialConfig_FastBaudSilenceFloor(t *testing.T) {
	cfg, err := NewSerialConfig("/dev/ttyUSB0", WithBaudRate(115200))
	require.NoError(t, err)
	assert.Equal(t, 1750*time.Microsecond, cfg.InterFrameSilence())
}

func TestNewSerialConfig_EmptyDevice(t *testing.T) {
	_, err := NewSerialConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device")
}

func TestNewTCPConfig_InvalidHost(t *testing.T) {
	_, err := NewTCPConfig("!!!invalid!!!", 4001)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid host")
}

func TestNewTCPConfig_InvalidPort(t *testing.T) {
	_, err := NewTCPConfig("127.0.0.1", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")

	_, err = NewTCPConfig("127.0.0.1", 70000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}

func TestNewTCPConfig_SerialOptionsRejected(t *testing.T) {
	_, err := NewTCPConfig("127.0.0.1", 4001, WithBaudRate(19200))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serial connections only")

	_, err = NewTCPConfig("127.0.0.1", 4001, WithParity(ParityEven))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serial connections only")

	_, err = NewTCPConfig("127.0.0.1", 4001, WithStopBits(2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serial connections only")
}

// --- Option validation tests ---

func TestWithBaudRate_Invalid(t *testing.T) {
	_, err := NewSerialConfig("/dev/ttyUSB0", WithBaudRate(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "baud rate")

	_, err = NewSerialConfig("/dev/ttyUSB0", WithBaudRate(-9600))
	require.Error(t, err)
}

func TestWithParity_Invalid(t *testing.T) {
	_, err := NewSerialConfig("/dev/ttyUSB0", WithParity(Parity('X')))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parity")
}

func TestWithStopBits_Invalid(t *testing.T) {
	_, err := NewSerialConfig("/dev/ttyUSB0", WithStopBits(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop bits")

	_, err = NewSerialConfig("/dev/ttyUSB0", WithStopBits(3))
	require.Error(t, err)
}

func TestWithResponseTimeout_BoundaryValid(t *testing.T) {
	cfg, err := NewSerialConfig("/dev/ttyUSB0", WithResponseTimeout(MinResponseTimeout))
	require.NoError(t, err)
	assert.Equal(t, MinResponseTimeout, cfg.ResponseTimeout())

	cfg, err = NewSerialConfig("/dev/ttyUSB0", WithResponseTimeout(MaxResponseTimeout))
	require.NoError(t, err)
	assert.Equal(t, MaxResponseTimeout, cfg.ResponseTimeout())
}

func TestWithResponseTimeout_OutOfRange(t *testing.T) {
	_, err := NewSerialConfig("/dev/ttyUSB0", WithResponseTimeout(50*time.Millisecond))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "response timeout")

	_, err = NewSerialConfig("/dev/ttyUSB0", WithResponseTimeout(31*time.Second))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "response timeout")
}

func TestWithRetryCount_OutOfRange(t *testing.T) {
	_, err := NewSerialConfig("/dev/ttyUSB0", WithRetryCount(-1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry count")

	_, err = NewSerialConfig("/dev/ttyUSB0", WithRetryCount(MaxRetryCount+1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry count")
}

func TestWithRetryDelay_OutOfRange(t *testing.T) {
	_, err := NewSerialConfig("/dev/ttyUSB0", WithRetryDelay(-1*time.Second))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry delay")

	_, err = NewSerialConfig("/dev/ttyUSB0", WithRetryDelay(11*time.Second))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry delay")
}

func TestWithInterFrameSilence_OutOfRange(t *testing.T) {
	_, err := NewSerialConfig("/dev/ttyUSB0", WithInterFrameSilence(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inter-frame silence")

	_, err = NewSerialConfig("/dev/ttyUSB0", WithInterFrameSilence(2*time.Second))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inter-frame silence")
}

func TestWithTurnaroundDelay_OutOfRange(t *testing.T) {
	_, err := NewSerialConfig("/dev/ttyUSB0", WithTurnaroundDelay(-1*time.Millisecond))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turnaround delay")

	_, err = NewSerialConfig("/dev/ttyUSB0", WithTurnaroundDelay(11*time.Second))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turnaround delay")
}

func TestWithConnectTimeout_Invalid(t *testing.T) {
	_, err := NewSerialConfig("/dev/ttyUSB0", WithConnectTimeout(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect timeout")
}

func TestWithCloseTimeout_Invalid(t *testing.T) {
	_, err := NewSerialConfig("/dev/ttyUSB0", WithCloseTimeout(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close timeout")
}

func TestWithProbeInterval_OutOfRange(t *testing.T) {
	_, err := NewSerialConfig("/dev/ttyUSB0", WithProbeInterval(500*time.Millisecond))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probe interval")

	_, err = NewSerialConfig("/dev/ttyUSB0", WithProbeInterval(6*time.Minute))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probe interval")
}

func TestWithProbeUnit_Broadcast(t *testing.T) {
	_, err := NewSerialConfig("/dev/ttyUSB0", WithProbeUnit(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probe unit")
}

func TestWithLogger_Nil(t *testing.T) {
	_, err := NewSerialConfig("/dev/ttyUSB0", WithLogger(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger")
}

func TestParity_String(t *testing.T) {
	assert.Equal(t, "none", ParityNone.String())
	assert.Equal(t, "even", ParityEven.String())
	assert.Equal(t, "odd", ParityOdd.String())
}
