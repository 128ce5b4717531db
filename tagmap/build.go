package tagmap

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arloliu/go-hwc/hwc"
	"github.com/arloliu/go-hwc/logger"
	"github.com/arloliu/go-hwc/modbus"
	"github.com/arloliu/go-hwc/modbusrtu"
	"github.com/arloliu/go-hwc/modbustcp"
)

// Connection is the common surface of the transport connections a deployment
// manages. Both modbustcp and modbusrtu connections implement it.
type Connection interface {
	modbus.Client

	Open(waitConnected bool) error
	Close() error
	State() hwc.ConnState
	IsConnected() bool
	Metrics() *modbus.ClientMetrics
}

var (
	_ Connection = (*modbustcp.Connection)(nil)
	_ Connection = (*modbusrtu.Connection)(nil)
)

// BuildOption represents a functional option for Build.
type BuildOption interface {
	apply(b *builder) error
}

type buildOptFunc func(b *builder) error

func (f buildOptFunc) apply(b *builder) error { return f(b) }

// WithDriver makes a driver available to this build only, overriding a
// registry entry of the same name.
func WithDriver(name string, d Driver) BuildOption {
	return buildOptFunc(func(b *builder) error {
		if name == "" {
			return errors.New("tagmap: driver name is empty")
		}
		if d == nil {
			return errors.New("tagmap: driver must not be nil")
		}
		b.drivers[name] = d

		return nil
	})
}

// WithLogger sets the logger handed to every transport the build creates.
func WithLogger(l logger.Logger) BuildOption {
	return buildOptFunc(func(b *builder) error {
		if l == nil {
			return errors.New("tagmap: logger must not be nil")
		}
		b.logger = l

		return nil
	})
}

type builder struct {
	drivers map[string]Driver
	logger  logger.Logger
}

// Build turns a validated document into a Deployment: one connection per
// transport, one engine and signal group per engine declaration, and every
// signal constructed by its engine's driver.
//
// Nothing is dialed; call Deployment.Open. The ctx bounds the lifetime of
// every created connection.
func Build(ctx context.Context, cfg *Config, opts ...BuildOption) (*Deployment, error) {
	if cfg == nil {
		return nil, errors.New("tagmap: config must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &builder{drivers: registeredDrivers(), logger: logger.GetLogger()}
	for _, opt := range opts {
		if err := opt.apply(b); err != nil {
			return nil, err
		}
	}

	conns := make(map[string]Connection, len(cfg.Transports))
	for _, name := range sortedKeys(cfg.Transports) {
		conn, err := buildTransport(ctx, cfg.Transports[name], b.logger)
		if err != nil {
			return nil, fmt.Errorf("tagmap: transports.%s: %w", name, err)
		}
		conns[name] = conn
	}

	// Signals are built in document order and grouped per engine.
	signals := make(map[string]hwc.Signal, len(cfg.Signals))
	byEngine := make(map[string][]hwc.Signal, len(cfg.Engines))
	for i, sc := range cfg.Signals {
		driver, ok := b.drivers[cfg.Engines[sc.Engine].Driver]
		if !ok {
			return nil, fmt.Errorf("%w: engines.%s requests driver %q",
				ErrUnknownDriver, sc.Engine, cfg.Engines[sc.Engine].Driver)
		}

		sig, err := driver.NewSignal(sc)
		if err != nil {
			return nil, fmt.Errorf("tagmap: signals[%d] (%s): %w", i, sc.Name, err)
		}

		signals[sc.Name] = sig
		byEngine[sc.Engine] = append(byEngine[sc.Engine], sig)
	}

	groups := make(map[string]*hwc.SignalGroup, len(cfg.Engines))
	for _, name := range sortedKeys(cfg.Engines) {
		ec := cfg.Engines[name]

		driver, ok := b.drivers[ec.Driver]
		if !ok {
			return nil, fmt.Errorf("%w: engines.%s requests driver %q", ErrUnknownDriver, name, ec.Driver)
		}

		engine, err := driver.NewEngine(conns[ec.Transport], ec.Options)
		if err != nil {
			return nil, fmt.Errorf("tagmap: engines.%s: %w", name, err)
		}

		group, err := hwc.NewSignalGroup(engine, byEngine[name]...)
		if err != nil {
			return nil, fmt.Errorf("tagmap: engines.%s: %w", name, err)
		}
		groups[name] = group
	}

	return &Deployment{conns: conns, groups: groups, signals: signals, logger: b.logger}, nil
}

// buildTransport creates the connection a transport declaration describes.
func buildTransport(ctx context.Context, tc TransportConfig, l logger.Logger) (Connection, error) {
	switch tc.Kind {
	case TransportTCP:
		host, port, err := splitAddress(tc.Address)
		if err != nil {
			return nil, err
		}

		opts := []modbustcp.ConnOption{modbustcp.WithLogger(l)}
		if tc.ResponseTimeout > 0 {
			opts = append(opts, modbustcp.WithResponseTimeout(time.Duration(tc.ResponseTimeout)))
		}

		cfg, err := modbustcp.NewConnectionConfig(host, port, opts...)
		if err != nil {
			return nil, err
		}

		return modbustcp.NewConnection(ctx, cfg)

	case TransportRTUSerial:
		opts := []modbusrtu.ConnOption{modbusrtu.WithLogger(l)}
		if tc.Baud > 0 {
			opts = append(opts, modbusrtu.WithBaudRate(tc.Baud))
		}
		if tc.ResponseTimeout > 0 {
			opts = append(opts, modbusrtu.WithResponseTimeout(time.Duration(tc.ResponseTimeout)))
		}

		cfg, err := modbusrtu.NewSerialConfig(tc.Port, opts...)
		if err != nil {
			return nil, err
		}

		return modbusrtu.NewConnection(ctx, cfg)

	case TransportRTUTCP:
		host, port, err := splitAddress(tc.Address)
		if err != nil {
			return nil, err
		}

		opts := []modbusrtu.ConnOption{modbusrtu.WithLogger(l)}
		if tc.ResponseTimeout > 0 {
			opts = append(opts, modbusrtu.WithResponseTimeout(time.Duration(tc.ResponseTimeout)))
		}

		cfg, err := modbusrtu.NewTCPConfig(host, port, opts...)
		if err != nil {
			return nil, err
		}

		return modbusrtu.NewConnection(ctx, cfg)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, tc.Kind)
	}
}

// Deployment is a built signal map: connections keyed by transport name,
// signal groups keyed by engine name, and signals keyed by their own names.
type Deployment struct {
	conns   map[string]Connection
	groups  map[string]*hwc.SignalGroup
	signals map[string]hwc.Signal
	logger  logger.Logger
}

// Open opens every transport concurrently and waits until all of them are
// connected or ctx ends.
//
// Transports reconnect automatically, so with an unreachable device Open
// blocks until ctx ends; the connect loops keep running in the background
// until Close.
func (d *Deployment) Open(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for name, conn := range d.conns {
		g.Go(func() error {
			done := make(chan error, 1)
			go func() { done <- conn.Open(true) }()

			select {
			case err := <-done:
				if err != nil {
					return fmt.Errorf("tagmap: open transport %s: %w", name, err)
				}
				d.logger.Info("transport connected", "transport", name)

				return nil

			case <-ctx.Done():
				return fmt.Errorf("tagmap: open transport %s: %w", name, ctx.Err())
			}
		})
	}

	return g.Wait()
}

// Close closes every transport and reports the joined errors.
func (d *Deployment) Close() error {
	var errs []error
	for _, name := range sortedKeys(d.conns) {
		if err := d.conns[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("tagmap: close transport %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// Group returns the signal group of the named engine.
func (d *Deployment) Group(name string) (*hwc.SignalGroup, bool) {
	g, ok := d.groups[name]

	return g, ok
}

// Groups returns all signal groups keyed by engine name.
func (d *Deployment) Groups() map[string]*hwc.SignalGroup {
	return maps.Clone(d.groups)
}

// Signal returns the named signal, across all groups.
func (d *Deployment) Signal(name string) (hwc.Signal, bool) {
	sig, ok := d.signals[name]

	return sig, ok
}

// Connections returns all transport connections keyed by transport name,
// e.g. for exporting their metrics.
func (d *Deployment) Connections() map[string]Connection {
	return maps.Clone(d.conns)
}
