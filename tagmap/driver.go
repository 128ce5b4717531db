package tagmap

import (
	"fmt"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/arloliu/go-hwc/hwc"
	"github.com/arloliu/go-hwc/modbus"
	"github.com/arloliu/go-hwc/waveshare"
)

// Builtin driver names.
const (
	DriverWaveshareAO8   = "waveshare-ao8"
	DriverWaveshareAI8   = "waveshare-ai8"
	DriverWaveshareRelay = "waveshare-relay"
)

// Driver builds engines and signals for one device family.
//
// Build looks drivers up by the `driver` field of the engines section, first
// among the WithDriver build options, then in the package registry.
type Driver interface {
	// NewEngine creates an engine over the given transport client. options is
	// the raw `options` map of the engine declaration; drivers decode and
	// validate it themselves.
	NewEngine(client modbus.Client, options map[string]any) (hwc.Engine, error)

	// NewSignal creates the signal a declaration describes, carrying whatever
	// device property the driver's engines expect to find on Bind.
	NewSignal(cfg SignalConfig) (hwc.Signal, error)
}

var (
	driversMu sync.RWMutex
	drivers   = map[string]Driver{
		DriverWaveshareAO8:   ao8Driver{},
		DriverWaveshareAI8:   ai8Driver{},
		DriverWaveshareRelay: relayDriver{},
	}
)

// RegisterDriver makes a driver available to Build under the given name.
// It panics when the name is empty or taken, or the driver is nil, following
// the database/sql registration convention. For a per-build driver use the
// WithDriver option instead.
func RegisterDriver(name string, d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if d == nil {
		panic("tagmap: RegisterDriver driver is nil")
	}
	if name == "" {
		panic("tagmap: RegisterDriver name is empty")
	}
	if _, dup := drivers[name]; dup {
		panic("tagmap: RegisterDriver called twice for driver " + name)
	}
	drivers[name] = d
}

// registeredDrivers snapshots the registry for one build.
func registeredDrivers() map[string]Driver {
	driversMu.RLock()
	defer driversMu.RUnlock()

	out := make(map[string]Driver, len(drivers))
	for name, d := range drivers {
		out[name] = d
	}

	return out
}

// decodeDriverOptions decodes an options map into out, rejecting unknown keys.
func decodeDriverOptions(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return fmt.Errorf("driver options decoder: %w", err)
	}

	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("driver options: %w", err)
	}

	return nil
}

// signalKind parses a declaration's kind and checks it against what the
// driver supports.
func signalKind(cfg SignalConfig, driver string, want ...hwc.Kind) (hwc.Kind, error) {
	kind, ok := kindFromString(cfg.Kind)
	if !ok {
		return 0, fmt.Errorf("%w: signal %s has kind %q", ErrUnknownKind, cfg.Name, cfg.Kind)
	}

	for _, w := range want {
		if kind == w {
			return kind, nil
		}
	}

	return 0, fmt.Errorf("driver %s cannot build %s signals", driver, kind)
}

// --- waveshare-ao8 ---

type ao8Driver struct{}

func (ao8Driver) NewEngine(client modbus.Client, options map[string]any) (hwc.Engine, error) {
	var none struct{}
	if err := decodeDriverOptions(options, &none); err != nil {
		return nil, err
	}

	return waveshare.NewAnalogOutputEngine(client)
}

func (ao8Driver) NewSignal(cfg SignalConfig) (hwc.Signal, error) {
	if _, err := signalKind(cfg, DriverWaveshareAO8, hwc.KindAnalogOutput); err != nil {
		return nil, err
	}

	var scale hwc.Scale
	if cfg.Scale != nil {
		scale = cfg.Scale.Scale()
	}

	prop := waveshare.AOChannel{Unit: cfg.Unit, Channel: cfg.Channel, Scale: scale}

	return hwc.NewAnalogOutput(cfg.Name,
		hwc.WithProperties(prop),
		hwc.WithImmediateUpdate(cfg.Immediate),
	), nil
}

// --- waveshare-ai8 ---

type ai8Driver struct{}

func (ai8Driver) NewEngine(client modbus.Client, options map[string]any) (hwc.Engine, error) {
	var none struct{}
	if err := decodeDriverOptions(options, &none); err != nil {
		return nil, err
	}

	return waveshare.NewAnalogInputEngine(client)
}

func (ai8Driver) NewSignal(cfg SignalConfig) (hwc.Signal, error) {
	if _, err := signalKind(cfg, DriverWaveshareAI8, hwc.KindAnalogInput); err != nil {
		return nil, err
	}

	var scale hwc.Scale
	if cfg.Scale != nil {
		scale = cfg.Scale.Scale()
	}

	prop := waveshare.AIChannel{Unit: cfg.Unit, Channel: cfg.Channel, Scale: scale}

	return hwc.NewAnalogInput(cfg.Name,
		hwc.WithProperties(prop),
		hwc.WithImmediateUpdate(cfg.Immediate),
	), nil
}

// --- waveshare-relay ---

type relayDriver struct{}

type relayOptions struct {
	Channels int `mapstructure:"channels"`
}

func (relayDriver) NewEngine(client modbus.Client, options map[string]any) (hwc.Engine, error) {
	var ro relayOptions
	if err := decodeDriverOptions(options, &ro); err != nil {
		return nil, err
	}

	var opts []waveshare.RelayOption
	if ro.Channels != 0 {
		opts = append(opts, waveshare.WithChannelCount(ro.Channels))
	}

	return waveshare.NewRelayEngine(client, opts...)
}

func (relayDriver) NewSignal(cfg SignalConfig) (hwc.Signal, error) {
	kind, err := signalKind(cfg, DriverWaveshareRelay, hwc.KindDigitalOutput, hwc.KindDigitalInput)
	if err != nil {
		return nil, err
	}

	if kind == hwc.KindDigitalOutput {
		prop := waveshare.RelayChannel{Unit: cfg.Unit, Channel: cfg.Channel}

		return hwc.NewDigitalOutput(cfg.Name,
			hwc.WithProperties(prop),
			hwc.WithImmediateUpdate(cfg.Immediate),
		), nil
	}

	prop := waveshare.InputChannel{Unit: cfg.Unit, Channel: cfg.Channel}

	return hwc.NewDigitalInput(cfg.Name,
		hwc.WithProperties(prop),
		hwc.WithImmediateUpdate(cfg.Immediate),
	), nil
}
