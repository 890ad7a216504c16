package cmd

import (
	"fmt"
	"log"

	"github.com/OpenTraceLab/ubittool/pkg/memmap"
	"github.com/OpenTraceLab/ubittool/pkg/probe"
	"github.com/OpenTraceLab/ubittool/pkg/ubit"
	"github.com/spf13/cobra"
)

func createProbe(cmd *cobra.Command, adapterType, serial string) (probe.Probe, error) {
	switch adapterType {
	case "simulator", "sim":
		if verbose {
			fmt.Fprintf(cmd.ErrOrStderr(), "Using simulated micro:bit with board ID %s\n", simBoard)
		}
		sim, err := ubit.SimulatedBoard(simBoard, memmap.DefaultTable(), ubit.DemoScript)
		if err != nil {
			return nil, fmt.Errorf("invalid --sim-board: %w", err)
		}
		return sim, nil

	case "cmsisdap", "cmsis", "daplink", "dap":
		if verbose {
			if serial != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Using CMSIS-DAP probe %s\n", serial)
			} else {
				fmt.Fprintln(cmd.ErrOrStderr(), "Using first CMSIS-DAP probe found")
			}
		}
		p := probe.NewCMSISDAPProbe(serial)
		p.Timeout = usbTimeout
		return p, nil

	default:
		return nil, fmt.Errorf("unknown adapter type: %s (supported: cmsisdap, sim)", adapterType)
	}
}

// newTool builds the facade for the adapter selected by the global flags.
func newTool(cmd *cobra.Command) (*ubit.Tool, error) {
	p, err := createProbe(cmd, adapterType, adapterSerial)
	if err != nil {
		return nil, fmt.Errorf("failed to create adapter: %w", err)
	}
	tool := ubit.New(p)
	if verbose {
		tool.Logger = log.New(cmd.ErrOrStderr(), "ubit: ", 0)
	}
	return tool, nil
}
