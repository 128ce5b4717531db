package modbusrtu

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/arloliu/go-hwc/hwc"
	"github.com/arloliu/go-hwc/logger"
)

// Parity selects the serial line parity bit.
type Parity byte

const (
	ParityNone Parity = 'N'
	ParityEven Parity = 'E'
	ParityOdd  Parity = 'O'
)

// String returns the parity name in lowercase.
func (p Parity) String() string {
	switch p {
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	default:
		return "none"
	}
}

// Default configuration values.
const (
	DefaultBaudRate = 9600
	DefaultStopBits = 1

	DefaultResponseTimeout = 1 * time.Second
	DefaultRetryCount      = 3
	DefaultRetryDelay      = 1 * time.Second
	DefaultTurnaroundDelay = 100 * time.Millisecond
	DefaultConnectTimeout  = 5 * time.Second
	DefaultCloseTimeout    = 3 * time.Second
	DefaultProbeInterval   = 30 * time.Second

	// DefaultProbeUnit is 1, the factory default address of most RTU slaves.
	DefaultProbeUnit uint8 = 1
)

// Configuration range limits.
const (
	MinResponseTimeout = 100 * time.Millisecond
	MaxResponseTimeout = 30 * time.Second

	MaxRetryCount = 10
	MaxRetryDelay = 10 * time.Second

	MaxInterFrameSilence = 1 * time.Second
	MaxTurnaroundDelay   = 10 * time.Second

	MinProbeInterval = 1 * time.Second
	MaxProbeInterval = 5 * time.Minute
)

// transportKind selects between a local serial port and RTU over TCP.
type transportKind int

const (
	serialTransport transportKind = iota
	tcpTransport
)

// ConnectionConfig holds all configuration for a Modbus RTU connection.
type ConnectionConfig struct {
	kind transportKind

	// Serial endpoint.
	device   string
	baudRate int
	parity   Parity
	stopBits int

	// TCP endpoint (serial device server).
	host string
	port int

	// responseTimeout is the time to wait for the first response byte before
	// a retry.
	responseTimeout time.Duration

	// retryCount is the number of additional attempts after a recoverable
	// exchange failure.
	retryCount int

	// retryDelay is the pause between attempts.
	retryDelay time.Duration

	// interFrameSilence is the quiet period that marks a frame boundary.
	// Zero means derive it from the baud rate.
	interFrameSilence time.Duration

	// turnaroundDelay is the pause after a broadcast write, giving every
	// slave time to act before the next request.
	turnaroundDelay time.Duration

	connectTimeout time.Duration
	closeTimeout   time.Duration

	// autoReconnect re-enters the connect loop after a lost link.
	autoReconnect bool

	// autoProbe sends a periodic diagnostics echo to detect dead links.
	autoProbe     bool
	probeInterval time.Duration
	probeUnit     uint8

	connStateHandlers []hwc.ConnStateChangeHandler

	logger logger.Logger
}

// NewSerialConfig creates a configuration for a locally attached serial
// line, such as an RS-485 adapter.
//
// device is the port path, e.g. "/dev/ttyUSB0" or "COM3". The line defaults
// to 9600 baud, 8 data bits, no parity, one stop bit. opts are functional
// options applied in order; see With* functions.
func NewSerialConfig(device string, opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := newDefaultConfig(serialTransport)

	if device == "" {
		return nil, errors.New("modbusrtu: serial device path is empty")
	}
	cfg.device = device

	if err := cfg.applyOptions(opts); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NewTCPConfig creates a configuration for RTU frames carried over a TCP
// stream, the framing a serial device server presents on its network side.
//
// host is the device server address. port is its TCP port. opts are
// functional options applied in order; see With* functions.
func NewTCPConfig(host string, port int, opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := newDefaultConfig(tcpTransport)

	if err := cfg.setHost(host); err != nil {
		return nil, err
	}
	if err := cfg.setPort(port); err != nil {
		return nil, err
	}

	if err := cfg.applyOptions(opts); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newDefaultConfig(kind transportKind) *ConnectionConfig {
	return &ConnectionConfig{
		kind:            kind,
		baudRate:        DefaultBaudRate,
		parity:          ParityNone,
		stopBits:        DefaultStopBits,
		responseTimeout: DefaultResponseTimeout,
		retryCount:      DefaultRetryCount,
		retryDelay:      DefaultRetryDelay,
		turnaroundDelay: DefaultTurnaroundDelay,
		connectTimeout:  DefaultConnectTimeout,
		closeTimeout:    DefaultCloseTimeout,
		autoReconnect:   true,
		autoProbe:       false,
		probeInterval:   DefaultProbeInterval,
		probeUnit:       DefaultProbeUnit,
		logger:          logger.GetLogger(),
	}
}

func (cfg *ConnectionConfig) applyOptions(opts []ConnOption) error {
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return err
		}
	}

	if cfg.interFrameSilence == 0 {
		cfg.interFrameSilence = defaultInterFrameSilence(cfg.kind, cfg.baudRate)
	}

	return nil
}

// defaultInterFrameSilence returns the 3.5 character silence interval for
// the given baud rate, with the conventional 1750µs floor used above 19200
// baud. TCP streams have no character timing, so they get the floor.
func defaultInterFrameSilence(kind transportKind, baudRate int) time.Duration {
	if kind == tcpTransport || baudRate > 19200 {
		return 1750 * time.Microsecond
	}

	// 3.5 characters of 11 bits each.
	return time.Duration(38_500_000_000 / int64(baudRate))
}

func (cfg *ConnectionConfig) setHost(host string) error {
	if ip := net.ParseIP(host); ip != nil {
		cfg.host = host
		return nil
	}

	host = strings.TrimPrefix(host, ".")
	host = strings.TrimSuffix(host, ".")
	if _, err := net.LookupHost(host); err == nil {
		cfg.host = host
		return nil
	}

	return fmt.Errorf("modbusrtu: invalid host %q", host)
}

func (cfg *ConnectionConfig) setPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("modbusrtu: port %d out of range [1, 65535]", port)
	}
	cfg.port = port

	return nil
}

// --- Getters ---

// IsSerial reports whether the connection targets a local serial port.
func (cfg *ConnectionConfig) IsSerial() bool { return cfg.kind == serialTransport }

// Device returns the serial port path. Empty for TCP configurations.
func (cfg *ConnectionConfig) Device() string { return cfg.device }

// Host returns the device server address. Empty for serial configurations.
func (cfg *ConnectionConfig) Host() string { return cfg.host }

// Port returns the device server TCP port. Zero for serial configurations.
func (cfg *ConnectionConfig) Port() int { return cfg.port }

// Addr returns "host:port" for TCP configurations.
func (cfg *ConnectionConfig) Addr() string { return fmt.Sprintf("%s:%d", cfg.host, cfg.port) }

// Target returns the endpoint in human-readable form, either the serial
// device path or "host:port".
func (cfg *ConnectionConfig) Target() string {
	if cfg.IsSerial() {
		return cfg.device
	}

	return cfg.Addr()
}

// BaudRate returns the serial line speed.
func (cfg *ConnectionConfig) BaudRate() int { return cfg.baudRate }

// Parity returns the serial parity setting.
func (cfg *ConnectionConfig) Parity() Parity { return cfg.parity }

// StopBits returns the serial stop bit count, 1 or 2.
func (cfg *ConnectionConfig) StopBits() int { return cfg.stopBits }

// ResponseTimeout returns the per-attempt response timeout.
func (cfg *ConnectionConfig) ResponseTimeout() time.Duration { return cfg.responseTimeout }

// RetryCount returns the number of additional attempts after a recoverable
// failure.
func (cfg *ConnectionConfig) RetryCount() int { return cfg.retryCount }

// RetryDelay returns the pause between attempts.
func (cfg *ConnectionConfig) RetryDelay() time.Duration { return cfg.retryDelay }

// InterFrameSilence returns the quiet period that marks a frame boundary.
func (cfg *ConnectionConfig) InterFrameSilence() time.Duration { return cfg.interFrameSilence }

// TurnaroundDelay returns the pause after a broadcast write.
func (cfg *ConnectionConfig) TurnaroundDelay() time.Duration { return cfg.turnaroundDelay }

// ConnectTimeout returns the transport open timeout.
func (cfg *ConnectionConfig) ConnectTimeout() time.Duration { return cfg.connectTimeout }

// AutoReconnect returns whether the connect loop restarts after a lost link.
func (cfg *ConnectionConfig) AutoReconnect() bool { return cfg.autoReconnect }

// AutoProbe returns whether the periodic liveness probe is enabled.
func (cfg *ConnectionConfig) AutoProbe() bool { return cfg.autoProbe }

// ProbeInterval returns the interval between liveness probes.
func (cfg *ConnectionConfig) ProbeInterval() time.Duration { return cfg.probeInterval }

// ProbeUnit returns the unit address the liveness probe targets.
func (cfg *ConnectionConfig) ProbeUnit() uint8 { return cfg.probeUnit }

// GetLogger returns the configured logger.
func (cfg *ConnectionConfig) GetLogger() logger.Logger { return cfg.logger }

// --- ConnOption ---

// ConnOption is a functional option for configuring a ConnectionConfig.
type ConnOption interface {
	apply(*ConnectionConfig) error
}

type connOptFunc func(*ConnectionConfig) error

func (f connOptFunc) apply(cfg *ConnectionConfig) error { return f(cfg) }

// WithBaudRate sets the serial line speed. Serial configurations only.
func WithBaudRate(baud int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if cfg.kind != serialTransport {
			return errors.New("modbusrtu: baud rate applies to serial connections only")
		}
		if baud <= 0 {
			return fmt.Errorf("modbusrtu: baud rate %d must be positive", baud)
		}
		cfg.baudRate = baud

		return nil
	})
}

// WithParity sets the serial parity bit. Serial configurations only.
func WithParity(p Parity) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if cfg.kind != serialTransport {
			return errors.New("modbusrtu: parity applies to serial connections only")
		}
		if p != ParityNone && p != ParityEven && p != ParityOdd {
			return fmt.Errorf("modbusrtu: invalid parity %q", p)
		}
		cfg.parity = p

		return nil
	})
}

// WithStopBits sets the serial stop bit count, 1 or 2. Serial configurations
// only.
func WithStopBits(n int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if cfg.kind != serialTransport {
			return errors.New("modbusrtu: stop bits apply to serial connections only")
		}
		if n != 1 && n != 2 {
			return fmt.Errorf("modbusrtu: stop bits %d must be 1 or 2", n)
		}
		cfg.stopBits = n

		return nil
	})
}

// WithResponseTimeout sets the per-attempt response timeout.
// Must be in [100ms, 30s].
func WithResponseTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < MinResponseTimeout || d > MaxResponseTimeout {
			return fmt.Errorf("modbusrtu: response timeout %v out of range [%v, %v]", d, MinResponseTimeout, MaxResponseTimeout)
		}
		cfg.responseTimeout = d

		return nil
	})
}

// WithRetryCount sets the number of additional attempts after a recoverable
// exchange failure. Must be in [0, 10]; zero disables retries.
func WithRetryCount(n int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if n < 0 || n > MaxRetryCount {
			return fmt.Errorf("modbusrtu: retry count %d out of range [0, %d]", n, MaxRetryCount)
		}
		cfg.retryCount = n

		return nil
	})
}

// WithRetryDelay sets the pause between attempts. Must be in [0, 10s].
func WithRetryDelay(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < 0 || d > MaxRetryDelay {
			return fmt.Errorf("modbusrtu: retry delay %v out of range [0, %v]", d, MaxRetryDelay)
		}
		cfg.retryDelay = d

		return nil
	})
}

// WithInterFrameSilence overrides the derived quiet period that marks a
// frame boundary. Must be in (0, 1s].
func WithInterFrameSilence(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d <= 0 || d > MaxInterFrameSilence {
			return fmt.Errorf("modbusrtu: inter-frame silence %v out of range (0, %v]", d, MaxInterFrameSilence)
		}
		cfg.interFrameSilence = d

		return nil
	})
}

// WithTurnaroundDelay sets the pause after a broadcast write.
// Must be in [0, 10s].
func WithTurnaroundDelay(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < 0 || d > MaxTurnaroundDelay {
			return fmt.Errorf("modbusrtu: turnaround delay %v out of range [0, %v]", d, MaxTurnaroundDelay)
		}
		cfg.turnaroundDelay = d

		return nil
	})
}

// WithConnectTimeout sets the transport open timeout.
func WithConnectTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d <= 0 {
			return errors.New("modbusrtu: connect timeout must be positive")
		}
		cfg.connectTimeout = d

		return nil
	})
}

// WithCloseTimeout sets the timeout for the connection closing sequence.
func WithCloseTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d <= 0 {
			return errors.New("modbusrtu: close timeout must be positive")
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithAutoReconnect enables or disables the automatic connect loop after a
// lost link. Enabled by default.
func WithAutoReconnect(enabled bool) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		cfg.autoReconnect = enabled

		return nil
	})
}

// WithAutoProbe enables or disables the periodic diagnostics echo probe.
// Any reply, including an exception, proves the link is alive; silence
// forces a disconnect and reconnect. Disabled by default, since RTU buses
// are usually under constant poll anyway.
func WithAutoProbe(enabled bool) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		cfg.autoProbe = enabled

		return nil
	})
}

// WithProbeInterval sets the interval between liveness probes.
// Must be in [1s, 5m].
func WithProbeInterval(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < MinProbeInterval || d > MaxProbeInterval {
			return fmt.Errorf("modbusrtu: probe interval %v out of range [%v, %v]", d, MinProbeInterval, MaxProbeInterval)
		}
		cfg.probeInterval = d

		return nil
	})
}

// WithProbeUnit sets the unit address the liveness probe targets.
// The broadcast unit 0 is not allowed since broadcasts get no reply.
func WithProbeUnit(unit uint8) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if unit == 0 {
			return errors.New("modbusrtu: probe unit must not be the broadcast unit")
		}
		cfg.probeUnit = unit

		return nil
	})
}

// WithConnStateHandlers registers handlers invoked on every connection state
// change, after the transport's own handler.
func WithConnStateHandlers(handlers ...hwc.ConnStateChangeHandler) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		cfg.connStateHandlers = append(cfg.connStateHandlers, handlers...)

		return nil
	})
}

// WithLogger sets the logger for the connection.
func WithLogger(l logger.Logger) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if l == nil {
			return errors.New("modbusrtu: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
