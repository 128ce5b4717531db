package tagmap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-hwc/hwc"
)

// Transport kinds.
const (
	// TransportRTUSerial is Modbus RTU over a local serial port.
	TransportRTUSerial = "rtu-serial"
	// TransportRTUTCP is Modbus RTU framing over a TCP serial device server.
	TransportRTUTCP = "rtu-tcp"
	// TransportTCP is Modbus TCP (MBAP framing).
	TransportTCP = "tcp"
)

// Modbus unit address bounds for signals. Unit 0 is the broadcast address
// and cannot own a signal.
const (
	MinUnit = 1
	MaxUnit = 247
)

// Duration decodes YAML scalars like "250ms" or "1s" via time.ParseDuration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("tagmap: duration must be a string like \"1s\": %w", err)
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("tagmap: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)

	return nil
}

func (d Duration) String() string { return time.Duration(d).String() }

// Config is a parsed signal map document.
type Config struct {
	Transports map[string]TransportConfig `yaml:"transports"`
	Engines    map[string]EngineConfig    `yaml:"engines"`
	Signals    []SignalConfig             `yaml:"signals"`
}

// TransportConfig declares one bus endpoint.
type TransportConfig struct {
	// Kind selects the transport: rtu-serial, rtu-tcp or tcp.
	Kind string `yaml:"kind"`
	// Port is the serial device path for rtu-serial.
	Port string `yaml:"port,omitempty"`
	// Baud is the serial baud rate for rtu-serial; zero keeps the default.
	Baud int `yaml:"baud,omitempty"`
	// Address is "host:port" for the tcp and rtu-tcp kinds.
	Address string `yaml:"address,omitempty"`
	// ResponseTimeout overrides the transport's per-attempt response timeout.
	ResponseTimeout Duration `yaml:"response_timeout,omitempty"`
}

// EngineConfig declares one device engine on a transport.
type EngineConfig struct {
	// Driver names the registered Driver building the engine.
	Driver string `yaml:"driver"`
	// Transport references a key of the transports section.
	Transport string `yaml:"transport"`
	// Options carries driver-specific settings, decoded by the driver.
	Options map[string]any `yaml:"options,omitempty"`
}

// SignalConfig declares one named I/O point.
type SignalConfig struct {
	Name      string       `yaml:"name"`
	Kind      string       `yaml:"kind"`
	Engine    string       `yaml:"engine"`
	Unit      uint8        `yaml:"unit"`
	Channel   int          `yaml:"channel"`
	Immediate bool         `yaml:"immediate,omitempty"`
	Scale     *ScaleConfig `yaml:"scale,omitempty"`
}

// ScaleConfig is the document form of hwc.Scale.
type ScaleConfig struct {
	SymbolicMin float64 `yaml:"symbolic_min"`
	SymbolicMax float64 `yaml:"symbolic_max"`
	PhysicalMin uint16  `yaml:"physical_min"`
	PhysicalMax uint16  `yaml:"physical_max"`
}

// Scale returns the hwc form of the document scale.
func (s ScaleConfig) Scale() hwc.Scale {
	return hwc.Scale{
		SymbolicMin: s.SymbolicMin,
		SymbolicMax: s.SymbolicMax,
		PhysicalMin: s.PhysicalMin,
		PhysicalMax: s.PhysicalMax,
	}
}

// kindFromString maps document kind names onto hwc signal kinds.
func kindFromString(s string) (hwc.Kind, bool) {
	switch s {
	case hwc.KindDigitalInput.String():
		return hwc.KindDigitalInput, true
	case hwc.KindDigitalOutput.String():
		return hwc.KindDigitalOutput, true
	case hwc.KindAnalogInput.String():
		return hwc.KindAnalogInput, true
	case hwc.KindAnalogOutput.String():
		return hwc.KindAnalogOutput, true
	default:
		return 0, false
	}
}

// Parse decodes a signal map document strictly (unknown fields are rejected)
// and validates it.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("tagmap: empty document")
		}

		return nil, fmt.Errorf("tagmap: parse: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Load reads and parses the signal map at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tagmap: read %s: %w", path, err)
	}

	return Parse(data)
}

// Validate checks the document for structural problems: unknown transport and
// signal kinds, unresolvable references, duplicate signal names, and units or
// channels outside their ranges. Driver names are checked by Build, since
// callers may register drivers of their own.
func (c *Config) Validate() error {
	for _, name := range sortedKeys(c.Transports) {
		if err := validateTransport(name, c.Transports[name]); err != nil {
			return err
		}
	}

	for _, name := range sortedKeys(c.Engines) {
		ec := c.Engines[name]
		if ec.Driver == "" {
			return fmt.Errorf("tagmap: engines.%s has no driver", name)
		}
		if ec.Transport == "" {
			return fmt.Errorf("tagmap: engines.%s has no transport", name)
		}
		if _, ok := c.Transports[ec.Transport]; !ok {
			return fmt.Errorf("%w: engines.%s references %q", ErrUnknownTransport, name, ec.Transport)
		}
	}

	seen := make(map[string]struct{}, len(c.Signals))
	for i, sc := range c.Signals {
		loc := fmt.Sprintf("signals[%d]", i)
		if sc.Name == "" {
			return fmt.Errorf("tagmap: %s has no name", loc)
		}
		if _, dup := seen[sc.Name]; dup {
			return fmt.Errorf("%w: %s %q", ErrDuplicateName, loc, sc.Name)
		}
		seen[sc.Name] = struct{}{}

		if _, ok := kindFromString(sc.Kind); !ok {
			return fmt.Errorf("%w: %s (%s) has kind %q", ErrUnknownKind, loc, sc.Name, sc.Kind)
		}
		if _, ok := c.Engines[sc.Engine]; !ok {
			return fmt.Errorf("%w: %s (%s) references %q", ErrUnknownEngine, loc, sc.Name, sc.Engine)
		}
		if sc.Unit < MinUnit || sc.Unit > MaxUnit {
			return fmt.Errorf("tagmap: %s (%s) unit %d out of range [%d, %d]", loc, sc.Name, sc.Unit, MinUnit, MaxUnit)
		}
		if sc.Channel < 1 {
			return fmt.Errorf("tagmap: %s (%s) channel %d out of range", loc, sc.Name, sc.Channel)
		}
		if sc.Scale != nil {
			if err := sc.Scale.Scale().Validate(); err != nil {
				return fmt.Errorf("tagmap: %s (%s): %w", loc, sc.Name, err)
			}
		}
	}

	return nil
}

func validateTransport(name string, tc TransportConfig) error {
	switch tc.Kind {
	case TransportRTUSerial:
		if tc.Port == "" {
			return fmt.Errorf("tagmap: transports.%s has no port", name)
		}
		if tc.Baud < 0 {
			return fmt.Errorf("tagmap: transports.%s has negative baud rate %d", name, tc.Baud)
		}

	case TransportRTUTCP, TransportTCP:
		if tc.Address == "" {
			return fmt.Errorf("tagmap: transports.%s has no address", name)
		}
		if _, _, err := splitAddress(tc.Address); err != nil {
			return fmt.Errorf("tagmap: transports.%s: %w", name, err)
		}

	case "":
		return fmt.Errorf("%w: transports.%s has no kind", ErrUnknownKind, name)

	default:
		return fmt.Errorf("%w: transports.%s has kind %q", ErrUnknownKind, name, tc.Kind)
	}

	if tc.ResponseTimeout < 0 {
		return fmt.Errorf("tagmap: transports.%s has negative response timeout", name)
	}

	return nil
}

// splitAddress splits "host:port" and parses the port.
func splitAddress(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}

	return host, port, nil
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
