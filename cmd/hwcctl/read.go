package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var readCmd = &cobra.Command{
	Use:   "read {coils|discrete|holding|input}",
	Short: "Read a range of data points from a device",
	Long: `Reads coils, discrete inputs, holding registers or input registers and
prints one data point per line.`,
	Example: `  hwcctl read holding --addr tcp://192.168.1.200:502 --unit 1 --start 0 --count 8
  hwcctl read coils --addr rtu:///dev/ttyUSB0?baud=9600 --unit 5 --count 16`,
	Args: cobra.ExactArgs(1),
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)

	readCmd.Flags().String("addr", "", "device address")
	readCmd.Flags().Uint8("unit", 1, "Modbus unit address")
	readCmd.Flags().Uint16("start", 0, "first data point address")
	readCmd.Flags().Uint16("count", 1, "number of data points")
	readCmd.Flags().Duration("timeout", time.Second, "per-request response timeout")
	_ = readCmd.MarkFlagRequired("addr")
}

func runRead(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	unit, _ := cmd.Flags().GetUint8("unit")
	start, _ := cmd.Flags().GetUint16("start")
	count, _ := cmd.Flags().GetUint16("count")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := signalContext()
	defer cancel()

	conn, err := dialDeviceAddr(ctx, addr, timeout, -1)
	if err != nil {
		return err
	}
	defer conn.Close()

	switch args[0] {
	case "coils":
		bits, err := conn.ReadCoils(ctx, unit, start, count)
		if err != nil {
			return err
		}
		printBits(cmd, start, bits)

	case "discrete":
		bits, err := conn.ReadDiscreteInputs(ctx, unit, start, count)
		if err != nil {
			return err
		}
		printBits(cmd, start, bits)

	case "holding":
		regs, err := conn.ReadHoldingRegisters(ctx, unit, start, count)
		if err != nil {
			return err
		}
		printRegisters(cmd, start, regs)

	case "input":
		regs, err := conn.ReadInputRegisters(ctx, unit, start, count)
		if err != nil {
			return err
		}
		printRegisters(cmd, start, regs)

	default:
		return fmt.Errorf("unknown data space %q (want coils, discrete, holding or input)", args[0])
	}

	return nil
}

func printBits(cmd *cobra.Command, start uint16, bits []bool) {
	for i, on := range bits {
		state := "off"
		if on {
			state = "on"
		}
		cmd.Printf("%5d  %s\n", int(start)+i, state)
	}
}

func printRegisters(cmd *cobra.Command, start uint16, regs []uint16) {
	for i, value := range regs {
		cmd.Printf("%5d  %5d  0x%04X\n", int(start)+i, value, value)
	}
}
