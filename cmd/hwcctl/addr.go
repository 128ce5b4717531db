package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/arloliu/go-hwc/logger"
	"github.com/arloliu/go-hwc/modbusrtu"
	"github.com/arloliu/go-hwc/modbustcp"
	"github.com/arloliu/go-hwc/tagmap"
)

// Address schemes of the --addr flag.
const (
	schemeTCP    = "tcp"
	schemeRTU    = "rtu"
	schemeRTUTCP = "rtutcp"
)

// deviceAddr is a parsed --addr flag.
type deviceAddr struct {
	scheme string
	host   string
	port   int
	device string
	baud   int
}

// parseDeviceAddr parses tcp://host:port, rtu:///dev/ttyUSB0?baud=9600 and
// rtutcp://host:port address forms.
func parseDeviceAddr(addr string) (deviceAddr, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return deviceAddr{}, fmt.Errorf("invalid address %q: %w", addr, err)
	}

	switch u.Scheme {
	case schemeTCP, schemeRTUTCP:
		host, portStr, err := net.SplitHostPort(u.Host)
		if err != nil {
			return deviceAddr{}, fmt.Errorf("invalid address %q: %w", addr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return deviceAddr{}, fmt.Errorf("invalid port in %q: %w", addr, err)
		}

		return deviceAddr{scheme: u.Scheme, host: host, port: port}, nil

	case schemeRTU:
		if u.Path == "" {
			return deviceAddr{}, fmt.Errorf("address %q has no serial device path", addr)
		}

		da := deviceAddr{scheme: schemeRTU, device: u.Path}
		for key, values := range u.Query() {
			if key != "baud" {
				return deviceAddr{}, fmt.Errorf("unknown address option %q in %q", key, addr)
			}
			baud, err := strconv.Atoi(values[0])
			if err != nil || baud <= 0 {
				return deviceAddr{}, fmt.Errorf("invalid baud rate %q in %q", values[0], addr)
			}
			da.baud = baud
		}

		return da, nil

	default:
		return deviceAddr{}, fmt.Errorf("unknown address scheme %q (want tcp, rtu or rtutcp)", u.Scheme)
	}
}

// dialDeviceAddr parses addr and opens a one-shot connection to it: the
// reconnect loop is disabled, so an unreachable device fails fast instead of
// retrying forever. A non-negative retries overrides the transport's retry
// count; scanning passes zero so silent units fail after one timeout.
func dialDeviceAddr(ctx context.Context, addr string, timeout time.Duration, retries int) (tagmap.Connection, error) {
	da, err := parseDeviceAddr(addr)
	if err != nil {
		return nil, err
	}

	conn, err := newConnection(ctx, da, timeout, retries)
	if err != nil {
		return nil, err
	}

	if err := conn.Open(true); err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}

	return conn, nil
}

func newConnection(ctx context.Context, da deviceAddr, timeout time.Duration, retries int) (tagmap.Connection, error) {
	l := logger.GetLogger()

	switch da.scheme {
	case schemeTCP:
		opts := []modbustcp.ConnOption{
			modbustcp.WithAutoReconnect(false),
			modbustcp.WithResponseTimeout(timeout),
			modbustcp.WithLogger(l),
		}
		if retries >= 0 {
			opts = append(opts, modbustcp.WithRetryCount(retries))
		}

		cfg, err := modbustcp.NewConnectionConfig(da.host, da.port, opts...)
		if err != nil {
			return nil, err
		}

		return modbustcp.NewConnection(ctx, cfg)

	case schemeRTU:
		opts := []modbusrtu.ConnOption{
			modbusrtu.WithAutoReconnect(false),
			modbusrtu.WithResponseTimeout(timeout),
			modbusrtu.WithLogger(l),
		}
		if da.baud > 0 {
			opts = append(opts, modbusrtu.WithBaudRate(da.baud))
		}
		if retries >= 0 {
			opts = append(opts, modbusrtu.WithRetryCount(retries))
		}

		cfg, err := modbusrtu.NewSerialConfig(da.device, opts...)
		if err != nil {
			return nil, err
		}

		return modbusrtu.NewConnection(ctx, cfg)

	case schemeRTUTCP:
		opts := []modbusrtu.ConnOption{
			modbusrtu.WithAutoReconnect(false),
			modbusrtu.WithResponseTimeout(timeout),
			modbusrtu.WithLogger(l),
		}
		if retries >= 0 {
			opts = append(opts, modbusrtu.WithRetryCount(retries))
		}

		cfg, err := modbusrtu.NewTCPConfig(da.host, da.port, opts...)
		if err != nil {
			return nil, err
		}

		return modbusrtu.NewConnection(ctx, cfg)

	default:
		return nil, fmt.Errorf("unknown address scheme %q", da.scheme)
	}
}
