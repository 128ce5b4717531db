package modbustcp

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/arloliu/go-hwc/hwc"
	"github.com/arloliu/go-hwc/logger"
)

// Default configuration values.
const (
	DefaultResponseTimeout = 1 * time.Second
	DefaultRetryCount      = 3
	DefaultRetryDelay      = 1 * time.Second
	DefaultConnectTimeout  = 5 * time.Second
	DefaultProbeInterval   = 30 * time.Second
	DefaultSendTimeout     = 3 * time.Second
	DefaultCloseTimeout    = 3 * time.Second

	DefaultSenderQueueSize = 32

	// DefaultProbeUnit is 0xFF, the MBAP convention for addressing the device
	// itself rather than a unit behind a gateway.
	DefaultProbeUnit uint8 = 0xFF
)

// Configuration range limits.
const (
	MinResponseTimeout = 100 * time.Millisecond
	MaxResponseTimeout = 30 * time.Second

	MaxRetryCount = 10
	MaxRetryDelay = 10 * time.Second

	MinProbeInterval = 1 * time.Second
	MaxProbeInterval = 5 * time.Minute

	MaxSenderQueueSize = 1000
)

// ConnectionConfig holds all configuration for a Modbus TCP connection.
type ConnectionConfig struct {
	host string
	port int

	// responseTimeout is the time to wait for one response before a retry.
	responseTimeout time.Duration

	// retryCount is the number of additional attempts after a response timeout.
	retryCount int

	// retryDelay is the pause between attempts.
	retryDelay time.Duration

	// TCP-level timeouts.
	connectTimeout time.Duration
	sendTimeout    time.Duration
	closeTimeout   time.Duration

	// autoReconnect re-enters the connect loop after a lost link.
	autoReconnect bool

	// autoProbe sends a periodic diagnostics echo to detect half-dead links.
	autoProbe     bool
	probeInterval time.Duration
	probeUnit     uint8

	senderQueueSize int

	connStateHandlers []hwc.ConnStateChangeHandler

	logger logger.Logger
}

// NewConnectionConfig creates a new Modbus TCP connection configuration.
//
// host is the device address. port is the TCP port, typically 502.
// opts are functional options applied in order; see With* functions.
func NewConnectionConfig(host string, port int, opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		responseTimeout: DefaultResponseTimeout,
		retryCount:      DefaultRetryCount,
		retryDelay:      DefaultRetryDelay,
		connectTimeout:  DefaultConnectTimeout,
		sendTimeout:     DefaultSendTimeout,
		closeTimeout:    DefaultCloseTimeout,
		autoReconnect:   true,
		autoProbe:       false,
		probeInterval:   DefaultProbeInterval,
		probeUnit:       DefaultProbeUnit,
		senderQueueSize: DefaultSenderQueueSize,
		logger:          logger.GetLogger(),
	}

	if err := cfg.setHost(host); err != nil {
		return nil, err
	}
	if err := cfg.setPort(port); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
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

	return fmt.Errorf("modbustcp: invalid host %q", host)
}

func (cfg *ConnectionConfig) setPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("modbustcp: port %d out of range [1, 65535]", port)
	}
	cfg.port = port

	return nil
}

// --- Getters ---

// Host returns the configured device address.
func (cfg *ConnectionConfig) Host() string { return cfg.host }

// Port returns the configured TCP port.
func (cfg *ConnectionConfig) Port() int { return cfg.port }

// Addr returns "host:port".
func (cfg *ConnectionConfig) Addr() string { return fmt.Sprintf("%s:%d", cfg.host, cfg.port) }

// ResponseTimeout returns the per-attempt response timeout.
func (cfg *ConnectionConfig) ResponseTimeout() time.Duration { return cfg.responseTimeout }

// RetryCount returns the number of additional attempts after a timeout.
func (cfg *ConnectionConfig) RetryCount() int { return cfg.retryCount }

// RetryDelay returns the pause between attempts.
func (cfg *ConnectionConfig) RetryDelay() time.Duration { return cfg.retryDelay }

// ConnectTimeout returns the TCP dial timeout.
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

// WithResponseTimeout sets the per-attempt response timeout.
// Must be in [100ms, 30s].
func WithResponseTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < MinResponseTimeout || d > MaxResponseTimeout {
			return fmt.Errorf("modbustcp: response timeout %v out of range [%v, %v]", d, MinResponseTimeout, MaxResponseTimeout)
		}
		cfg.responseTimeout = d

		return nil
	})
}

// WithRetryCount sets the number of additional attempts after a response
// timeout. Must be in [0, 10]; zero disables retries.
func WithRetryCount(n int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if n < 0 || n > MaxRetryCount {
			return fmt.Errorf("modbustcp: retry count %d out of range [0, %d]", n, MaxRetryCount)
		}
		cfg.retryCount = n

		return nil
	})
}

// WithRetryDelay sets the pause between attempts. Must be in [0, 10s].
func WithRetryDelay(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < 0 || d > MaxRetryDelay {
			return fmt.Errorf("modbustcp: retry delay %v out of range [0, %v]", d, MaxRetryDelay)
		}
		cfg.retryDelay = d

		return nil
	})
}

// WithConnectTimeout sets the TCP dial timeout.
func WithConnectTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d <= 0 {
			return errors.New("modbustcp: connect timeout must be positive")
		}
		cfg.connectTimeout = d

		return nil
	})
}

// WithSendTimeout sets the timeout for both queueing a frame and the TCP
// write deadline.
func WithSendTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d <= 0 {
			return errors.New("modbustcp: send timeout must be positive")
		}
		cfg.sendTimeout = d

		return nil
	})
}

// WithCloseTimeout sets the timeout for the connection closing sequence.
func WithCloseTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d <= 0 {
			return errors.New("modbustcp: close timeout must be positive")
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
// Any reply, including an exception, proves the link is alive; a timeout
// forces a disconnect and reconnect. Disabled by default.
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
			return fmt.Errorf("modbustcp: probe interval %v out of range [%v, %v]", d, MinProbeInterval, MaxProbeInterval)
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
			return errors.New("modbustcp: probe unit must not be the broadcast unit")
		}
		cfg.probeUnit = unit

		return nil
	})
}

// WithSenderQueueSize sets the size of the outgoing frame queue, which
// bounds how many requests can be buffered before senders block.
// Must be in [1, 1000].
func WithSenderQueueSize(size int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if size < 1 || size > MaxSenderQueueSize {
			return fmt.Errorf("modbustcp: sender queue size %d out of range [1, %d]", size, MaxSenderQueueSize)
		}
		cfg.senderQueueSize = size

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
			return errors.New("modbustcp: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
