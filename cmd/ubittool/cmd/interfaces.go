package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/OpenTraceLab/ubittool/pkg/memmap"
	"github.com/OpenTraceLab/ubittool/pkg/probe"
	"github.com/spf13/cobra"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List available debug probes",
	Long: `Scan the host for CMSIS-DAP probes (DAPLink and compatibles) and print a summary
of the detected devices, including the micro:bit revision when the probe serial
carries a known board ID. Use this to pick a probe for --serial.`,
	RunE: runInterfaces,
}

func init() {
	rootCmd.AddCommand(interfacesCmd)
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	infos, err := probe.DiscoverInterfaces(ctx)
	if err != nil {
		return fmt.Errorf("discover interfaces: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No interfaces found.")
		return nil
	}

	table := memmap.DefaultTable()
	fmt.Fprintln(out, "Detected debug probes:")
	for _, iface := range infos {
		fmt.Fprintf(out, "  - %s [%s] (VID:PID %04X:%04X)", iface.Label(), iface.Kind, iface.VendorID, iface.ProductID)
		if iface.Serial != "" {
			fmt.Fprintf(out, " serial %s", iface.Serial)
		}
		if set, err := table.Resolve(iface.BoardID()); err == nil {
			fmt.Fprintf(out, " %s", set.Name)
		}
		fmt.Fprintln(out)
	}

	return nil
}
