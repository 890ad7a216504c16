package cmd

import (
	"fmt"

	"github.com/OpenTraceLab/ubittool/pkg/ubit"
	"github.com/spf13/cobra"
)

// Compare command flags
var (
	compareFile     string
	compareCustomer bool
	noBrowser       bool
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare the micro:bit flash with a hex file",
	Long: `Read flash (or the UICR customer area with --uicr-customer) as Intel HEX and
compare it line by line with a hex file. The comparison opens as an HTML page in
the default browser; with --no-browser, or when no browser can be launched, a
unified diff is printed instead.

The exit status is 1 when the contents differ.

Examples:
  ubit compare -f firmware.hex
  ubit compare --uicr-customer --no-browser -f customer.hex`,
	Args: cobra.NoArgs,
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)

	compareCmd.Flags().StringVarP(&compareFile, "file", "f", "",
		"hex file to compare against")
	compareCmd.Flags().BoolVar(&compareCustomer, "uicr-customer", false,
		"compare the UICR customer area instead of flash")
	compareCmd.Flags().BoolVar(&noBrowser, "no-browser", false,
		"print a unified diff instead of opening a browser")
	compareCmd.MarkFlagRequired("file")
}

func runCompare(cmd *cobra.Command, args []string) error {
	tool, err := newTool(cmd)
	if err != nil {
		return err
	}
	defer tool.Wait()

	compare := tool.CompareFlash
	if compareCustomer {
		compare = tool.CompareUICRCustomer
	}

	out := cmd.OutOrStdout()
	differ, err := compare(cmd.Context(), compareFile, ubit.CompareOptions{
		NoBrowser: noBrowser,
		Out:       out,
	})
	if err != nil {
		return err
	}

	if !differ {
		fmt.Fprintln(out, "No differences found.")
		return nil
	}
	fmt.Fprintf(out, "The micro:bit contents differ from %s.\n", compareFile)
	if !noBrowser && tool.Viewer != nil {
		fmt.Fprintf(out, "The comparison page is removed after %s.\n", tool.Viewer.Delay)
	}
	return errDifferences
}
