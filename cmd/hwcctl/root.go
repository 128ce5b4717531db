package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-hwc/logger"
)

var rootCmd = &cobra.Command{
	Use:   "hwcctl",
	Short: "hwcctl talks to Modbus I/O modules",
	Long: `hwcctl reads and writes Modbus data points, scans buses for devices,
and polls signal maps into logs, metrics and sinks.

Device addresses use a URL scheme:

  tcp://host:port               Modbus TCP
  rtu:///dev/ttyUSB0?baud=9600  Modbus RTU on a local serial port
  rtutcp://host:port            Modbus RTU over a TCP serial device server`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			logger.SetLevel(logger.DebugLevel)
		}
	},
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	rootCmd.SetOut(os.Stdout)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
