package ubit

import (
	"context"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/OpenTraceLab/ubittool/pkg/diffview"
)

const (
	deviceTitle = "micro:bit"
	fileTitle   = "Hex file"
)

// CompareOptions controls how a comparison is presented.
type CompareOptions struct {
	// NoBrowser skips the HTML page and writes a unified diff to Out.
	NoBrowser bool
	// Out receives the unified diff, and the browser failure notice when the
	// page cannot be shown. May be nil.
	Out io.Writer
}

// CompareFlash compares the whole flash, as Intel HEX, with the hex file at
// path. It reports whether the two differ.
func (t *Tool) CompareFlash(ctx context.Context, path string, opts CompareOptions) (bool, error) {
	return t.compare(ctx, path, opts, func(ctx context.Context) (string, error) {
		return t.ReadFlashHex(ctx, IntelHex, nil, nil)
	})
}

// CompareUICRCustomer compares the UICR customer registers, as Intel HEX,
// with the hex file at path.
func (t *Tool) CompareUICRCustomer(ctx context.Context, path string, opts CompareOptions) (bool, error) {
	return t.compare(ctx, path, opts, func(ctx context.Context) (string, error) {
		return t.ReadUICRCustomerHex(ctx, IntelHex)
	})
}

func (t *Tool) compare(ctx context.Context, path string, opts CompareOptions, read func(context.Context) (string, error)) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("ubit: read hex file: %w", err)
	}
	if !utf8.Valid(raw) {
		return false, fmt.Errorf("ubit: %s is not a UTF-8 text file", path)
	}
	fileLines := diffview.SplitLines(string(raw))

	deviceHex, err := read(ctx)
	if err != nil {
		return false, err
	}
	deviceLines := diffview.SplitLines(deviceHex)

	differ := diffview.HasDifferences(deviceLines, fileLines)
	t.logger().Printf("compared %d device lines with %d lines of %s, differences: %v",
		len(deviceLines), len(fileLines), path, differ)

	if !opts.NoBrowser {
		err := t.showHTML(deviceLines, fileLines)
		if err == nil {
			return differ, nil
		}
		if opts.Out == nil {
			return differ, err
		}
		fmt.Fprintf(opts.Out, "Could not open the comparison in a browser: %v\n", err)
	}

	if opts.Out != nil {
		diff, err := diffview.UnifiedDiff(deviceTitle, deviceLines, fileTitle, fileLines)
		if err != nil {
			return differ, err
		}
		io.WriteString(opts.Out, diff)
	}
	return differ, nil
}

func (t *Tool) showHTML(deviceLines, fileLines []string) error {
	html, err := diffview.RenderHTML(deviceTitle, deviceLines, fileTitle, fileLines)
	if err != nil {
		return err
	}
	v := t.Viewer
	if v == nil {
		v = diffview.NewViewer()
		t.Viewer = v
	}
	if v.Logger == nil {
		v.Logger = t.Logger
	}
	return v.Show(html)
}

// Wait blocks until pages shown by comparisons have been removed from disk.
func (t *Tool) Wait() {
	if t.Viewer != nil {
		t.Viewer.Wait()
	}
}
