package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/OpenTraceLab/ubittool/pkg/probe"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose       bool
	adapterType   string
	adapterSerial string
	simBoard      string
	usbTimeout    time.Duration
)

// errDifferences makes the process exit with status 1 without printing an
// error, after compare has already reported what differs.
var errDifferences = errors.New("differences found")

var rootCmd = &cobra.Command{
	Use:   "ubit",
	Short: "Read memory from a micro:bit over its DAPLink interface",
	Long: `Read the flash, RAM and UICR of a micro:bit through a CMSIS-DAP debug probe,
recover the MicroPython script stored in flash and compare flash contents with
a hex file.

Examples:
  ubit read-flash                                   # Whole flash as Intel HEX
  ubit read-flash --pretty --address 0x3E000 -c 64  # Hex dump of part of flash
  ubit read-code -f main.py                         # Save the MicroPython script
  ubit compare -f firmware.hex                      # Show flash vs file in a browser
  ubit -a sim --sim-board 9904 read-uicr            # Run against the simulator`,
	Version:       "0.9.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errDifferences) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&adapterType, "adapter", "a", "cmsisdap",
		"debug probe type (cmsisdap, sim)")
	rootCmd.PersistentFlags().StringVarP(&adapterSerial, "serial", "s", "",
		"probe serial number (if multiple probes)")
	rootCmd.PersistentFlags().StringVar(&simBoard, "sim-board", "9900",
		"simulator: board ID of the simulated micro:bit")
	rootCmd.PersistentFlags().DurationVar(&usbTimeout, "usb-timeout", probe.DefaultTimeout,
		"timeout for each USB exchange with the probe")
}
