// Package ubit implements the user-level operations of the tool: reading
// memory regions of a micro:bit as Intel HEX or as a hex dump, pulling the
// MicroPython script out of flash and comparing flash with a hex file.
//
// Every operation opens the board, performs one logical read and disconnects
// before returning, whatever the outcome.
package ubit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/OpenTraceLab/ubittool/pkg/diffview"
	"github.com/OpenTraceLab/ubittool/pkg/hexfmt"
	"github.com/OpenTraceLab/ubittool/pkg/mcu"
	"github.com/OpenTraceLab/ubittool/pkg/memmap"
	"github.com/OpenTraceLab/ubittool/pkg/probe"
	"github.com/OpenTraceLab/ubittool/pkg/upyscript"
)

// ErrScriptDecode is returned when no script can be recovered from flash.
var ErrScriptDecode = errors.New("could not decode the MicroPython code from flash")

// Format selects the text rendering of a read.
type Format int

const (
	IntelHex Format = iota
	PrettyHex
)

func (f Format) String() string {
	switch f {
	case IntelHex:
		return "intel-hex"
	case PrettyHex:
		return "pretty-hex"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Tool runs operations against the board behind Probe.
type Tool struct {
	Probe probe.Probe
	// Table resolves board IDs. A table with no entries means
	// memmap.DefaultTable.
	Table memmap.Table
	// Viewer shows comparison pages. Nil means diffview.NewViewer.
	Viewer *diffview.Viewer
	// Extract pulls a script out of an Intel HEX image. Nil means
	// upyscript.Extract.
	Extract func(hexText string) (string, error)

	Logger *log.Logger
}

// New returns a tool using the default table, viewer and extractor.
func New(p probe.Probe) *Tool {
	return &Tool{
		Probe:   p,
		Table:   memmap.DefaultTable(),
		Viewer:  diffview.NewViewer(),
		Extract: upyscript.Extract,
	}
}

func (t *Tool) logger() *log.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return log.New(io.Discard, "", 0)
}

func (t *Tool) table() memmap.Table {
	if len(t.Table.BoardIDs()) == 0 {
		return memmap.DefaultTable()
	}
	return t.Table
}

// withDevice connects a device for the duration of fn.
func (t *Tool) withDevice(ctx context.Context, fn func(dev *mcu.Device) error) error {
	dev := mcu.NewDevice(t.Probe, mcu.WithTable(t.table()), mcu.WithLogger(t.Logger))
	defer dev.Disconnect()

	if err := dev.Connect(ctx); err != nil {
		return err
	}
	return fn(dev)
}

type readFunc func(ctx context.Context, dev *mcu.Device) (mcu.ReadResult, error)

func (t *Tool) readHex(ctx context.Context, f Format, read readFunc) (string, error) {
	var res mcu.ReadResult
	err := t.withDevice(ctx, func(dev *mcu.Device) error {
		var err error
		res, err = read(ctx, dev)
		return err
	})
	if err != nil {
		return "", err
	}
	return encode(f, hexfmt.Segment{Address: res.Address, Data: res.Data})
}

func encode(f Format, segs ...hexfmt.Segment) (string, error) {
	var sb strings.Builder
	var err error
	switch f {
	case IntelHex:
		err = hexfmt.WriteIntelHex(&sb, segs...)
	case PrettyHex:
		err = hexfmt.WritePrettyHex(&sb, segs...)
	default:
		err = fmt.Errorf("ubit: unknown format %v", f)
	}
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// ReadFlashHex reads flash. Nil address or count read from the start of flash
// or to its end.
func (t *Tool) ReadFlashHex(ctx context.Context, f Format, address, count *uint32) (string, error) {
	return t.readHex(ctx, f, func(ctx context.Context, dev *mcu.Device) (mcu.ReadResult, error) {
		return dev.ReadFlash(ctx, address, count)
	})
}

// ReadRAMHex reads RAM.
func (t *Tool) ReadRAMHex(ctx context.Context, f Format, address, count *uint32) (string, error) {
	return t.readHex(ctx, f, func(ctx context.Context, dev *mcu.Device) (mcu.ReadResult, error) {
		return dev.ReadRAM(ctx, address, count)
	})
}

// ReadUICRHex reads the whole UICR.
func (t *Tool) ReadUICRHex(ctx context.Context, f Format) (string, error) {
	return t.readHex(ctx, f, func(ctx context.Context, dev *mcu.Device) (mcu.ReadResult, error) {
		return dev.ReadUICR(ctx, mcu.Whole, mcu.Whole)
	})
}

// ReadUICRCustomerHex reads the customer registers of the UICR.
func (t *Tool) ReadUICRCustomerHex(ctx context.Context, f Format) (string, error) {
	return t.readHex(ctx, f, func(ctx context.Context, dev *mcu.Device) (mcu.ReadResult, error) {
		return dev.ReadUICRCustomer(ctx)
	})
}

// ReadFlashUICRHex reads flash and the UICR in one session and returns a
// single Intel HEX image holding both.
func (t *Tool) ReadFlashUICRHex(ctx context.Context) (string, error) {
	var flash, uicr mcu.ReadResult
	err := t.withDevice(ctx, func(dev *mcu.Device) error {
		var err error
		if flash, err = dev.ReadFlash(ctx, mcu.Whole, mcu.Whole); err != nil {
			return err
		}
		uicr, err = dev.ReadUICR(ctx, mcu.Whole, mcu.Whole)
		return err
	})
	if err != nil {
		return "", err
	}
	return encode(IntelHex,
		hexfmt.Segment{Address: flash.Address, Data: flash.Data},
		hexfmt.Segment{Address: uicr.Address, Data: uicr.Data},
	)
}

// readWindow reads a flash sub-window chosen from the connected board's
// layout.
func (t *Tool) readWindow(ctx context.Context, window func(memmap.RegionSet) memmap.Window) (string, error) {
	return t.readHex(ctx, IntelHex, func(ctx context.Context, dev *mcu.Device) (mcu.ReadResult, error) {
		set, err := dev.Regions()
		if err != nil {
			return mcu.ReadResult{}, err
		}
		w := window(set)
		return dev.ReadFlash(ctx, &w.Start, &w.Size)
	})
}

// ReadMicroPython returns the MicroPython runtime area of flash as Intel HEX.
func (t *Tool) ReadMicroPython(ctx context.Context) (string, error) {
	return t.readWindow(ctx, memmap.RegionSet.MicroPython)
}

// ReadPythonCode returns the MicroPython script stored in flash.
func (t *Tool) ReadPythonCode(ctx context.Context) (string, error) {
	text, err := t.readWindow(ctx, memmap.RegionSet.UserCode)
	if err != nil {
		return "", err
	}

	extract := t.Extract
	if extract == nil {
		extract = upyscript.Extract
	}
	code, err := extract(text)
	if err != nil {
		t.logger().Printf("script extraction: %v", err)
		return "", fmt.Errorf("%w: %w", ErrScriptDecode, err)
	}
	return code, nil
}
