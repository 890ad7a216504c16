package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/OpenTraceLab/ubittool/pkg/ubit"
	"github.com/spf13/cobra"
)

// Read command flags
var (
	outputFile   string
	prettyOutput bool
	readAddress  string
	readCount    string
)

var readFlashCmd = &cobra.Command{
	Use:   "read-flash",
	Short: "Read the flash contents",
	Long: `Read flash memory and print it as Intel HEX, or as a hex dump with --pretty.
Without --address and --count the whole flash is read.

Examples:
  ubit read-flash -f flash.hex
  ubit read-flash --pretty --address 0x3E000 --count 256`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRegionRead(cmd, (*ubit.Tool).ReadFlashHex)
	},
}

var readRAMCmd = &cobra.Command{
	Use:   "read-ram",
	Short: "Read the RAM contents",
	Long: `Read RAM and print it as Intel HEX, or as a hex dump with --pretty.
The core is halted while reading, so the contents reflect the running program.

Examples:
  ubit read-ram --pretty
  ubit read-ram --address 0x20000000 --count 0x400 -f ram.hex`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRegionRead(cmd, (*ubit.Tool).ReadRAMHex)
	},
}

var readUICRCmd = &cobra.Command{
	Use:   "read-uicr",
	Short: "Read the User Information Configuration Registers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFixedRead(cmd, func(tool *ubit.Tool, ctx context.Context) (string, error) {
			return tool.ReadUICRHex(ctx, readFormat())
		})
	},
}

var readUICRCustomerCmd = &cobra.Command{
	Use:   "read-uicr-customer",
	Short: "Read the customer area of the UICR",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFixedRead(cmd, func(tool *ubit.Tool, ctx context.Context) (string, error) {
			return tool.ReadUICRCustomerHex(ctx, readFormat())
		})
	},
}

var readFlashUICRCmd = &cobra.Command{
	Use:   "read-flash-uicr",
	Short: "Read flash and UICR into a single Intel HEX file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFixedRead(cmd, (*ubit.Tool).ReadFlashUICRHex)
	},
}

var readMicroPythonCmd = &cobra.Command{
	Use:   "read-micropython",
	Short: "Read the MicroPython runtime area of flash as Intel HEX",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFixedRead(cmd, (*ubit.Tool).ReadMicroPython)
	},
}

var readCodeCmd = &cobra.Command{
	Use:   "read-code",
	Short: "Extract the MicroPython script stored in flash",
	Long: `Read the MicroPython script area of flash and decode the script stored there.

Examples:
  ubit read-code
  ubit read-code -f main.py`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFixedRead(cmd, (*ubit.Tool).ReadPythonCode)
	},
}

func init() {
	for _, c := range []*cobra.Command{
		readFlashCmd, readRAMCmd, readUICRCmd, readUICRCustomerCmd,
		readFlashUICRCmd, readMicroPythonCmd, readCodeCmd,
	} {
		rootCmd.AddCommand(c)
		c.Flags().StringVarP(&outputFile, "file", "f", "",
			"write to this file instead of stdout (must not exist)")
	}

	for _, c := range []*cobra.Command{readFlashCmd, readRAMCmd, readUICRCmd, readUICRCustomerCmd} {
		c.Flags().BoolVarP(&prettyOutput, "pretty", "p", false,
			"print a hex dump instead of Intel HEX")
	}

	for _, c := range []*cobra.Command{readFlashCmd, readRAMCmd} {
		c.Flags().StringVar(&readAddress, "address", "",
			"start address (hex with 0x prefix, or decimal); default is the region start")
		c.Flags().StringVarP(&readCount, "count", "c", "",
			"number of bytes to read (hex with 0x prefix, or decimal); default is to the region end")
	}
}

func readFormat() ubit.Format {
	if prettyOutput {
		return ubit.PrettyHex
	}
	return ubit.IntelHex
}

type regionRead func(t *ubit.Tool, ctx context.Context, f ubit.Format, address, count *uint32) (string, error)

func runRegionRead(cmd *cobra.Command, read regionRead) error {
	address, err := parseUint32Flag("address", readAddress)
	if err != nil {
		return err
	}
	count, err := parseUint32Flag("count", readCount)
	if err != nil {
		return err
	}
	return runFixedRead(cmd, func(tool *ubit.Tool, ctx context.Context) (string, error) {
		return read(tool, ctx, readFormat(), address, count)
	})
}

func runFixedRead(cmd *cobra.Command, read func(t *ubit.Tool, ctx context.Context) (string, error)) error {
	// Fail before touching the board if the output cannot be written
	out, err := openOutput(cmd, outputFile)
	if err != nil {
		return err
	}
	defer out.Close()

	tool, err := newTool(cmd)
	if err != nil {
		return err
	}
	text, err := read(tool, cmd.Context())
	if err != nil {
		out.discard()
		return err
	}

	if _, err := io.WriteString(out, text); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return out.Close()
}

// parseUint32Flag parses an optional numeric flag. An empty value means the
// flag was not given.
func parseUint32Flag(name, value string) (*uint32, error) {
	if value == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(value, 0, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s %q: %w", name, value, err)
	}
	v32 := uint32(v)
	return &v32, nil
}

// output is stdout or a freshly created file that is removed again if the
// read fails.
type output struct {
	io.Writer
	file   *os.File
	closed bool
}

func openOutput(cmd *cobra.Command, path string) (*output, error) {
	if path == "" {
		return &output{Writer: cmd.OutOrStdout()}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("file %s already exists", path)
	}
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return &output{Writer: f, file: f}, nil
}

func (o *output) Close() error {
	if o.file == nil || o.closed {
		return nil
	}
	o.closed = true
	return o.file.Close()
}

func (o *output) discard() {
	if o.file == nil {
		return
	}
	o.Close()
	os.Remove(o.file.Name())
}
