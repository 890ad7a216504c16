package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/OpenTraceLab/ubittool/pkg/probe"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// resetFlags puts every flag back to its default so tests do not leak state
// through the package-level command tree.
func resetFlags() {
	reset := func(fs *pflag.FlagSet) {
		fs.VisitAll(func(f *pflag.Flag) {
			f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}
	reset(rootCmd.PersistentFlags())
	for _, c := range rootCmd.Commands() {
		reset(c.Flags())
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

// TestReadE2E runs the read commands against the simulated micro:bit
func TestReadE2E(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		wantErr     bool
		wantContain []string
	}{
		{
			name: "flash hex dump",
			args: []string{"-a", "sim", "--sim-board", "9904", "read-flash", "--pretty", "--address", "0x3E000", "--count", "16"},
			wantContain: []string{
				"3E000  4D 50",
				"|MP",
			},
		},
		{
			name: "flash decimal address",
			args: []string{"-a", "sim", "read-flash", "--address", "253952", "-c", "0x10"},
			wantContain: []string{
				":020000040003F7",
				":10E000004D50",
				":00000001FF",
			},
		},
		{
			name: "uicr customer",
			args: []string{"-a", "sim", "read-uicr-customer"},
			wantContain: []string{
				":020000041000EA",
				":1010800075626974",
			},
		},
		{
			name:        "uicr pretty",
			args:        []string{"-a", "sim", "read-uicr", "-p"},
			wantContain: []string{"10001080  75 62 69 74", "|ubit"},
		},
		{
			name:        "ram",
			args:        []string{"-a", "sim", "read-ram", "--pretty", "--count", "32"},
			wantContain: []string{"20000000  00 01 02 03", "20000010  10 11 12 13"},
		},
		{
			name:        "python code",
			args:        []string{"-a", "sim", "--sim-board", "9906", "read-code"},
			wantContain: []string{"from microbit import *", "display.scroll('Hello, World!')"},
		},
		{
			name:        "flash and uicr",
			args:        []string{"-a", "sim", "read-flash-uicr"},
			wantContain: []string{":020000040000FA", ":020000041000EA"},
		},
		{
			name:        "micropython runtime",
			args:        []string{"-a", "sim", "read-micropython"},
			wantContain: []string{":020000040000FA", ":020000040003F7"},
		},
		{
			name:    "ram out of bounds",
			args:    []string{"-a", "sim", "read-ram", "--address", "0x20003FF0", "--count", "0x20"},
			wantErr: true,
		},
		{
			name:    "zero count",
			args:    []string{"-a", "sim", "read-flash", "--count", "0"},
			wantErr: true,
		},
		{
			name:    "bad address",
			args:    []string{"-a", "sim", "read-flash", "--address", "0xZZ"},
			wantErr: true,
		},
		{
			name:    "unknown board",
			args:    []string{"-a", "sim", "--sim-board", "1234", "read-uicr"},
			wantErr: true,
		},
		{
			name:    "unknown adapter",
			args:    []string{"-a", "buspirate", "read-uicr"},
			wantErr: true,
		},
		{
			name:    "pretty not offered for code",
			args:    []string{"-a", "sim", "read-code", "--pretty"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := execute(t, tt.args...)

			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error but got none\nOutput: %s", output)
				}
				return
			}

			if err != nil {
				t.Errorf("Unexpected error: %v\nOutput: %s", err, output)
				return
			}

			for _, want := range tt.wantContain {
				if !strings.Contains(output, want) {
					t.Errorf("Output missing expected string: %q\nGot:\n%.2000s", want, output)
				}
			}
		})
	}
}

// TestReadToFileE2E checks that output files are written once and never
// overwritten
func TestReadToFileE2E(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.py")

	output, err := execute(t, "-a", "sim", "read-code", "-f", path)
	if err != nil {
		t.Fatalf("read-code: %v", err)
	}
	if output != "" {
		t.Errorf("unexpected stdout output %q", output)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output file: %v", err)
	}
	if !strings.Contains(string(data), "display.show(Image.HEART)") {
		t.Errorf("output file content = %q", data)
	}

	if _, err := execute(t, "-a", "sim", "read-code", "-f", path); err == nil {
		t.Errorf("expected error when the output file exists")
	}

	failed := filepath.Join(t.TempDir(), "ram.hex")
	if _, err := execute(t, "-a", "sim", "read-ram", "--address", "0x30000000", "-f", failed); err == nil {
		t.Fatalf("expected out of bounds error")
	}
	if _, err := os.Stat(failed); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("output file left behind after a failed read: %v", err)
	}
}

// TestCompareE2E compares the simulated board with files made from its own
// contents
func TestCompareE2E(t *testing.T) {
	dir := t.TempDir()

	customer, err := execute(t, "-a", "sim", "read-uicr-customer")
	if err != nil {
		t.Fatalf("read-uicr-customer: %v", err)
	}
	same := filepath.Join(dir, "same.hex")
	if err := os.WriteFile(same, []byte(customer), 0o644); err != nil {
		t.Fatal(err)
	}
	changed := filepath.Join(dir, "changed.hex")
	edited := strings.Replace(customer, ":1010800075626974", ":1010800075626975", 1)
	if err := os.WriteFile(changed, []byte(edited), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("identical", func(t *testing.T) {
		output, err := execute(t, "-a", "sim", "compare", "--uicr-customer", "--no-browser", "-f", same)
		if err != nil {
			t.Fatalf("compare: %v\nOutput: %s", err, output)
		}
		if !strings.Contains(output, "No differences found.") {
			t.Errorf("output = %q", output)
		}
	})

	t.Run("different", func(t *testing.T) {
		output, err := execute(t, "-a", "sim", "compare", "--uicr-customer", "--no-browser", "-f", changed)
		if !errors.Is(err, errDifferences) {
			t.Fatalf("compare = %v, want errDifferences", err)
		}
		for _, want := range []string{"--- micro:bit", "+++ Hex file", "@@", "differ from"} {
			if !strings.Contains(output, want) {
				t.Errorf("Output missing expected string: %q\nGot:\n%s", want, output)
			}
		}
	})

	t.Run("flash", func(t *testing.T) {
		_, err := execute(t, "-a", "sim", "compare", "--no-browser", "-f", same)
		if !errors.Is(err, errDifferences) {
			t.Fatalf("compare = %v, want errDifferences", err)
		}
	})

	t.Run("missing file flag", func(t *testing.T) {
		if _, err := execute(t, "-a", "sim", "compare"); err == nil {
			t.Errorf("Expected error but got none")
		}
	})

	t.Run("file does not exist", func(t *testing.T) {
		if _, err := execute(t, "-a", "sim", "compare", "-f", filepath.Join(dir, "nope.hex")); err == nil {
			t.Errorf("Expected error but got none")
		}
	})
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{
		"interfaces", "read-flash", "read-ram", "read-uicr", "read-uicr-customer",
		"read-flash-uicr", "read-micropython", "read-code", "compare",
	}
	have := map[string]*cobra.Command{}
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = c
	}
	for _, name := range want {
		if _, ok := have[name]; !ok {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestUSBTimeoutFlag(t *testing.T) {
	resetFlags()
	t.Cleanup(resetFlags)

	if err := rootCmd.PersistentFlags().Set("usb-timeout", "250ms"); err != nil {
		t.Fatalf("set --usb-timeout: %v", err)
	}
	p, err := createProbe(rootCmd, "daplink", "9904000012345678")
	if err != nil {
		t.Fatalf("createProbe: %v", err)
	}
	dap, ok := p.(*probe.CMSISDAPProbe)
	if !ok {
		t.Fatalf("createProbe returned %T, want *probe.CMSISDAPProbe", p)
	}
	if dap.Timeout != 250*time.Millisecond {
		t.Errorf("Timeout = %v, want 250ms", dap.Timeout)
	}
	if dap.Serial != "9904000012345678" {
		t.Errorf("Serial = %q", dap.Serial)
	}

	resetFlags()
	p, _ = createProbe(rootCmd, "cmsisdap", "")
	if got := p.(*probe.CMSISDAPProbe).Timeout; got != probe.DefaultTimeout {
		t.Errorf("default Timeout = %v, want %v", got, probe.DefaultTimeout)
	}
}
