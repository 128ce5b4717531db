package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-hwc/tagmap"
)

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write data points on a device",
}

var writeCoilCmd = &cobra.Command{
	Use:     "coil",
	Short:   "Write one coil",
	Example: `  hwcctl write coil --addr tcp://192.168.1.200:502 --unit 1 --address 3 --value on`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		value, _ := cmd.Flags().GetString("value")
		on, err := parseOnOff(value)
		if err != nil {
			return err
		}

		return writeDevice(cmd, func(t writeTarget) error {
			if err := t.conn.WriteSingleCoil(t.ctx, t.unit, t.address, on); err != nil {
				return err
			}
			cmd.Printf("coil %d = %s\n", t.address, value)

			return nil
		})
	},
}

var writeRegisterCmd = &cobra.Command{
	Use:     "register",
	Short:   "Write one holding register",
	Example: `  hwcctl write register --addr tcp://192.168.1.200:502 --unit 1 --address 0 --value 2500`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		value, _ := cmd.Flags().GetUint16("value")

		return writeDevice(cmd, func(t writeTarget) error {
			if err := t.conn.WriteSingleRegister(t.ctx, t.unit, t.address, value); err != nil {
				return err
			}
			cmd.Printf("register %d = %d\n", t.address, value)

			return nil
		})
	},
}

var writeCoilsCmd = &cobra.Command{
	Use:     "coils",
	Short:   "Write a bank of coils",
	Example: `  hwcctl write coils --addr tcp://192.168.1.200:502 --unit 1 --address 0 --values on,off,on`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetStringSlice("values")
		if len(raw) == 0 {
			return fmt.Errorf("--values is empty")
		}

		values := make([]bool, len(raw))
		for i, s := range raw {
			on, err := parseOnOff(s)
			if err != nil {
				return err
			}
			values[i] = on
		}

		return writeDevice(cmd, func(t writeTarget) error {
			if err := t.conn.WriteMultipleCoils(t.ctx, t.unit, t.address, values); err != nil {
				return err
			}
			cmd.Printf("%d coils written from %d\n", len(values), t.address)

			return nil
		})
	},
}

var writeRegistersCmd = &cobra.Command{
	Use:     "registers",
	Short:   "Write a bank of holding registers",
	Example: `  hwcctl write registers --addr tcp://192.168.1.200:502 --unit 1 --address 0 --values 2500,0,10000`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetUintSlice("values")
		if len(raw) == 0 {
			return fmt.Errorf("--values is empty")
		}

		values := make([]uint16, len(raw))
		for i, v := range raw {
			if v > 0xFFFF {
				return fmt.Errorf("register value %d exceeds 65535", v)
			}
			values[i] = uint16(v)
		}

		return writeDevice(cmd, func(t writeTarget) error {
			if err := t.conn.WriteMultipleRegisters(t.ctx, t.unit, t.address, values); err != nil {
				return err
			}
			cmd.Printf("%d registers written from %d\n", len(values), t.address)

			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(writeCmd)

	writeCmd.PersistentFlags().String("addr", "", "device address")
	writeCmd.PersistentFlags().Uint8("unit", 1, "Modbus unit address")
	writeCmd.PersistentFlags().Uint16("address", 0, "data point address")
	writeCmd.PersistentFlags().Duration("timeout", time.Second, "per-request response timeout")
	_ = writeCmd.MarkPersistentFlagRequired("addr")

	writeCoilCmd.Flags().String("value", "", "coil state: on or off")
	writeRegisterCmd.Flags().Uint16("value", 0, "register value")
	writeCoilsCmd.Flags().StringSlice("values", nil, "coil states, e.g. on,off,on")
	writeRegistersCmd.Flags().UintSlice("values", nil, "register values, e.g. 2500,0,10000")

	for _, cmd := range []*cobra.Command{writeCoilCmd, writeRegisterCmd, writeCoilsCmd, writeRegistersCmd} {
		writeCmd.AddCommand(cmd)
	}
}

type writeTarget struct {
	ctx     context.Context
	conn    tagmap.Connection
	unit    uint8
	address uint16
}

// writeDevice dials the --addr flag's device and runs fn against it.
func writeDevice(cmd *cobra.Command, fn func(t writeTarget) error) error {
	addr, _ := cmd.Flags().GetString("addr")
	unit, _ := cmd.Flags().GetUint8("unit")
	address, _ := cmd.Flags().GetUint16("address")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := signalContext()
	defer cancel()

	conn, err := dialDeviceAddr(ctx, addr, timeout, -1)
	if err != nil {
		return err
	}
	defer conn.Close()

	return fn(writeTarget{ctx: ctx, conn: conn, unit: unit, address: address})
}

// parseOnOff parses a coil state: on/off plus everything strconv.ParseBool
// accepts.
func parseOnOff(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}

	on, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid coil state %q (want on or off)", s)
	}

	return on, nil
}
