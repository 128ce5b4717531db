package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/go-hwc/modbus"
	"github.com/arloliu/go-hwc/tagmap"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Probe a unit address range for responding devices",
	Long: `Sends a diagnostics echo to every unit in the range and falls back to a
one-register read for devices that do not implement diagnostics. An exception
response counts as present: the device rejected the request, but it answered.`,
	Example: `  hwcctl scan --addr tcp://192.168.1.200:502 --units 1-32
  hwcctl scan --addr rtu:///dev/ttyUSB0?baud=9600 --units 1,5,9-12`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().String("addr", "", "device address")
	scanCmd.Flags().String("units", "1-247", "unit addresses to probe, e.g. 1-32 or 1,5,9-12")
	scanCmd.Flags().Duration("timeout", 500*time.Millisecond, "per-probe response timeout")
	scanCmd.Flags().Int("parallel", 8, "concurrent probes, TCP only")
	_ = scanCmd.MarkFlagRequired("addr")
}

func runScan(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	unitsFlag, _ := cmd.Flags().GetString("units")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	parallel, _ := cmd.Flags().GetInt("parallel")

	units, err := parseUnitSet(unitsFlag)
	if err != nil {
		return err
	}
	if parallel < 1 {
		return fmt.Errorf("--parallel must be at least 1")
	}

	ctx, cancel := signalContext()
	defer cancel()

	conn, err := dialDeviceAddr(ctx, addr, timeout, 0)
	if err != nil {
		return err
	}
	defer conn.Close()

	// An RTU bus is half duplex, so probes stay sequential there.
	da, _ := parseDeviceAddr(addr)
	if da.scheme != schemeTCP {
		parallel = 1
	}

	present := make([]bool, len(units))

	var g errgroup.Group
	g.SetLimit(parallel)
	for i, unit := range units {
		g.Go(func() error {
			present[i] = probeUnit(ctx, conn, unit)

			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	found := 0
	for i, unit := range units {
		if present[i] {
			cmd.Printf("unit %3d: present\n", unit)
			found++
		}
	}
	cmd.Printf("%d of %d units responded\n", found, len(units))

	return nil
}

// probeUnit reports whether anything answers on unit, first with a
// diagnostics echo, then with a one-register read.
func probeUnit(ctx context.Context, conn tagmap.Connection, unit uint8) bool {
	if devicePresent(conn.Echo(ctx, unit, []byte{0xA5, 0x5A})) {
		return true
	}

	_, err := conn.ReadHoldingRegisters(ctx, unit, 0, 1)

	return devicePresent(err)
}

// devicePresent maps a probe result onto presence. An exception response
// means the request reached a live device, except for the gateway codes a
// bridge answers with when the downstream unit stays silent.
func devicePresent(err error) bool {
	if err == nil {
		return true
	}

	var exc *modbus.ExceptionError
	if !errors.As(err, &exc) {
		return false
	}

	return exc.Exception != modbus.ExceptionGatewayPathUnavailable &&
		exc.Exception != modbus.ExceptionGatewayTargetFailed
}

// parseUnitSet parses a comma separated list of unit addresses and ranges,
// e.g. "1-32" or "1,5,9-12". Units are reported in ascending order without
// duplicates.
func parseUnitSet(s string) ([]uint8, error) {
	var set [248]bool

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		lo, hi, ok := strings.Cut(part, "-")
		if !ok {
			hi = lo
		}

		first, err := parseUnit(lo)
		if err != nil {
			return nil, err
		}
		last, err := parseUnit(hi)
		if err != nil {
			return nil, err
		}
		if last < first {
			return nil, fmt.Errorf("invalid unit range %q", part)
		}

		for unit := first; unit <= last; unit++ {
			set[unit] = true
		}
	}

	var units []uint8
	for unit := tagmap.MinUnit; unit <= tagmap.MaxUnit; unit++ {
		if set[unit] {
			units = append(units, uint8(unit))
		}
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("no units in %q", s)
	}

	return units, nil
}

func parseUnit(s string) (int, error) {
	unit, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || unit < tagmap.MinUnit || unit > tagmap.MaxUnit {
		return 0, fmt.Errorf("invalid unit %q (want %d-%d)", s, tagmap.MinUnit, tagmap.MaxUnit)
	}

	return unit, nil
}
