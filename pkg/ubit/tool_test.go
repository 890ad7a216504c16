package ubit

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/OpenTraceLab/ubittool/pkg/diffview"
	"github.com/OpenTraceLab/ubittool/pkg/hexfmt"
	"github.com/OpenTraceLab/ubittool/pkg/mcu"
	"github.com/OpenTraceLab/ubittool/pkg/memmap"
	"github.com/OpenTraceLab/ubittool/pkg/probe"
)

type fixture struct {
	sim    *probe.SimProbe
	tool   *Tool
	opened []string
}

func newFixture(t *testing.T, boardID, script string) *fixture {
	t.Helper()
	sim, err := SimulatedBoard(boardID, memmap.DefaultTable(), script)
	if err != nil {
		t.Fatalf("SimulatedBoard: %v", err)
	}
	f := &fixture{sim: sim}
	f.tool = New(sim)
	f.tool.Viewer = &diffview.Viewer{
		Open:  func(path string) error { f.opened = append(f.opened, path); return nil },
		Delay: time.Millisecond,
		Dir:   t.TempDir(),
	}
	t.Cleanup(f.tool.Wait)
	return f
}

// released checks that the last session was closed and nothing holds the
// probe.
func (f *fixture) released(t *testing.T) {
	t.Helper()
	if f.sim.Held() {
		t.Fatalf("probe still held")
	}
	ops := f.sim.Ops()
	if len(ops) == 0 || ops[len(ops)-1] != probe.SimOpClose {
		t.Fatalf("last probe op = %v, want close", ops)
	}
}

func (f *fixture) memory(t *testing.T, w memmap.Window) []byte {
	t.Helper()
	dev := mcu.NewDevice(f.sim)
	defer dev.Disconnect()
	res, err := dev.ReadFlash(context.Background(), &w.Start, &w.Size)
	if err != nil {
		t.Fatalf("ReadFlash: %v", err)
	}
	return res.Data
}

func TestReadFlashHex(t *testing.T) {
	f := newFixture(t, "9900", DemoScript)
	ctx := context.Background()

	got, err := f.tool.ReadFlashHex(ctx, IntelHex, nil, nil)
	if err != nil {
		t.Fatalf("ReadFlashHex: %v", err)
	}
	f.released(t)

	want, err := hexfmt.BytesToIntelHex(f.memory(t, memmap.V1().Flash()), 0)
	if err != nil {
		t.Fatalf("BytesToIntelHex: %v", err)
	}
	if got != want {
		t.Errorf("ReadFlashHex output differs from encoding the flash contents")
	}
	if !strings.HasPrefix(got, ":020000040000FA\n") {
		t.Errorf("full flash image does not start with an extended address record")
	}
}

func TestReadFlashHexPretty(t *testing.T) {
	f := newFixture(t, "9904", DemoScript)

	got, err := f.tool.ReadFlashHex(context.Background(), PrettyHex, mcu.Uint32(0x3E000), mcu.Uint32(16))
	if err != nil {
		t.Fatalf("ReadFlashHex: %v", err)
	}
	if !strings.HasPrefix(got, "3E000  4D 50 ") {
		t.Errorf("pretty dump = %q, want MP header at 0x3E000", got)
	}
	if !strings.Contains(got, "|MP") {
		t.Errorf("pretty dump ASCII column missing header: %q", got)
	}
}

func TestReadRAMHexOutOfBounds(t *testing.T) {
	f := newFixture(t, "9900", "")

	_, err := f.tool.ReadRAMHex(context.Background(), IntelHex, mcu.Uint32(0x20003FF0), mcu.Uint32(0x20))
	if !errors.Is(err, mcu.ErrOutOfBounds) {
		t.Fatalf("ReadRAMHex = %v, want ErrOutOfBounds", err)
	}
	f.released(t)
}

func TestReadUICRHex(t *testing.T) {
	f := newFixture(t, "9903", "")
	ctx := context.Background()

	whole, err := f.tool.ReadUICRHex(ctx, PrettyHex)
	if err != nil {
		t.Fatalf("ReadUICRHex: %v", err)
	}
	rows := strings.Count(whole, "\n")
	if rows != int(memmap.V2().UICRSize+15)/16 {
		t.Errorf("UICR dump has %d rows, want %d", rows, (memmap.V2().UICRSize+15)/16)
	}

	cust, err := f.tool.ReadUICRCustomerHex(ctx, IntelHex)
	if err != nil {
		t.Fatalf("ReadUICRCustomerHex: %v", err)
	}
	segs, err := hexfmt.ParseIntelHexString(cust)
	if err != nil {
		t.Fatalf("ParseIntelHex: %v", err)
	}
	if len(segs) != 1 || segs[0].Address != 0x10001080 || len(segs[0].Data) != 0x180 {
		t.Fatalf("customer image = %d segments", len(segs))
	}
	if !bytes.HasPrefix(segs[0].Data, []byte("ubit")) {
		t.Errorf("customer data = % X", segs[0].Data[:8])
	}
	f.released(t)
}

func TestReadFlashUICRHex(t *testing.T) {
	f := newFixture(t, "9901", "")

	got, err := f.tool.ReadFlashUICRHex(context.Background())
	if err != nil {
		t.Fatalf("ReadFlashUICRHex: %v", err)
	}
	segs, err := hexfmt.ParseIntelHexString(got)
	if err != nil {
		t.Fatalf("ParseIntelHex: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].Address != 0 || len(segs[0].Data) != int(memmap.V1().FlashSize) {
		t.Errorf("flash segment = 0x%X+0x%X", segs[0].Address, len(segs[0].Data))
	}
	if segs[1].Address != memmap.V1().UICRStart || len(segs[1].Data) != int(memmap.V1().UICRSize) {
		t.Errorf("UICR segment = 0x%X+0x%X", segs[1].Address, len(segs[1].Data))
	}

	opens := 0
	for _, op := range f.sim.Ops() {
		if op == probe.SimOpOpen {
			opens++
		}
	}
	if opens != 1 {
		t.Errorf("probe opened %d times, want 1", opens)
	}
}

func TestReadMicroPython(t *testing.T) {
	f := newFixture(t, "9906", DemoScript)

	got, err := f.tool.ReadMicroPython(context.Background())
	if err != nil {
		t.Fatalf("ReadMicroPython: %v", err)
	}
	want, _ := hexfmt.BytesToIntelHex(f.memory(t, memmap.V2().MicroPython()), 0)
	if got != want {
		t.Errorf("ReadMicroPython output differs from the runtime window")
	}
}

func TestReadPythonCode(t *testing.T) {
	for _, id := range []string{"9900", "9904"} {
		t.Run(id, func(t *testing.T) {
			f := newFixture(t, id, DemoScript)
			got, err := f.tool.ReadPythonCode(context.Background())
			if err != nil {
				t.Fatalf("ReadPythonCode: %v", err)
			}
			if got != DemoScript {
				t.Errorf("ReadPythonCode() = %q, want %q", got, DemoScript)
			}
			f.released(t)
		})
	}
}

func TestReadPythonCodeErrors(t *testing.T) {
	t.Run("no script", func(t *testing.T) {
		f := newFixture(t, "9900", "")
		_, err := f.tool.ReadPythonCode(context.Background())
		if !errors.Is(err, ErrScriptDecode) {
			t.Fatalf("ReadPythonCode = %v, want ErrScriptDecode", err)
		}
		f.released(t)
	})

	t.Run("extractor fails", func(t *testing.T) {
		f := newFixture(t, "9900", DemoScript)
		boom := errors.New("bad image")
		var seen string
		f.tool.Extract = func(hexText string) (string, error) {
			seen = hexText
			return "", boom
		}
		_, err := f.tool.ReadPythonCode(context.Background())
		if !errors.Is(err, ErrScriptDecode) || !errors.Is(err, boom) {
			t.Fatalf("ReadPythonCode = %v, want ErrScriptDecode wrapping extractor error", err)
		}
		if !strings.HasPrefix(seen, ":020000040003F7\n:10E000004D50") {
			t.Errorf("extractor input does not start at the script area: %.40q", seen)
		}
	})
}

func TestConnectionErrors(t *testing.T) {
	sim := probe.NewSimProbe("9900")
	sim.OpenErr = probe.ErrNoProbe
	tool := New(sim)

	if _, err := tool.ReadFlashHex(context.Background(), IntelHex, nil, nil); !errors.Is(err, mcu.ErrNoBoard) {
		t.Errorf("ReadFlashHex = %v, want ErrNoBoard", err)
	}

	f := newFixture(t, "9900", "")
	f.tool.Table, _ = memmap.NewTable(map[string]memmap.RegionSet{"9904": memmap.V2()})
	if _, err := f.tool.ReadUICRHex(context.Background(), IntelHex); !errors.Is(err, mcu.ErrIncompatibleBoard) {
		t.Errorf("ReadUICRHex = %v, want ErrIncompatibleBoard", err)
	}
	f.released(t)
}

func TestUnknownFormat(t *testing.T) {
	f := newFixture(t, "9900", "")
	if _, err := f.tool.ReadUICRHex(context.Background(), Format(7)); err == nil {
		t.Errorf("expected error for unknown format")
	}
	f.released(t)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestCompareUICRCustomer(t *testing.T) {
	f := newFixture(t, "9900", "")
	ctx := context.Background()

	same, err := f.tool.ReadUICRCustomerHex(ctx, IntelHex)
	if err != nil {
		t.Fatalf("ReadUICRCustomerHex: %v", err)
	}

	differ, err := f.tool.CompareUICRCustomer(ctx, writeFile(t, "same.hex", same), CompareOptions{})
	if err != nil {
		t.Fatalf("CompareUICRCustomer: %v", err)
	}
	if differ {
		t.Errorf("identical file reported as different")
	}
	if len(f.opened) != 1 {
		t.Fatalf("browser opened %d times, want 1", len(f.opened))
	}

	changed := strings.Replace(same, ":10108000", ":10108001", 1)
	differ, err = f.tool.CompareUICRCustomer(ctx, writeFile(t, "changed.hex", changed), CompareOptions{})
	if err != nil {
		t.Fatalf("CompareUICRCustomer: %v", err)
	}
	if !differ {
		t.Errorf("changed file reported as identical")
	}
	f.released(t)
}

func TestCompareFlashNoBrowser(t *testing.T) {
	f := newFixture(t, "9900", DemoScript)
	ctx := context.Background()

	var out bytes.Buffer
	differ, err := f.tool.CompareFlash(ctx, writeFile(t, "short.hex", ":00000001FF\n"), CompareOptions{NoBrowser: true, Out: &out})
	if err != nil {
		t.Fatalf("CompareFlash: %v", err)
	}
	if !differ {
		t.Errorf("differences not reported")
	}
	if len(f.opened) != 0 {
		t.Errorf("browser opened with NoBrowser set")
	}
	if !strings.Contains(out.String(), "--- micro:bit") || !strings.Contains(out.String(), "+++ Hex file") {
		t.Errorf("unified diff missing headers: %.200q", out.String())
	}
}

func TestCompareBrowserFailureFallsBack(t *testing.T) {
	f := newFixture(t, "9900", "")
	f.tool.Viewer.Open = func(string) error { return errors.New("no display") }

	var out bytes.Buffer
	differ, err := f.tool.CompareUICRCustomer(context.Background(), writeFile(t, "x.hex", ":00000001FF\n"), CompareOptions{Out: &out})
	if err != nil {
		t.Fatalf("CompareUICRCustomer: %v", err)
	}
	if !differ {
		t.Errorf("differences not reported")
	}
	if !strings.Contains(out.String(), "no display") || !strings.Contains(out.String(), "@@") {
		t.Errorf("fallback output = %q", out.String())
	}

	if _, err := f.tool.CompareUICRCustomer(context.Background(), writeFile(t, "y.hex", ":00000001FF\n"), CompareOptions{}); err == nil {
		t.Errorf("expected browser error without an output writer")
	}
}

func TestCompareFileErrors(t *testing.T) {
	f := newFixture(t, "9900", "")
	ctx := context.Background()

	if _, err := f.tool.CompareFlash(ctx, filepath.Join(t.TempDir(), "missing.hex"), CompareOptions{}); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("CompareFlash = %v, want os.ErrNotExist", err)
	}
	if _, err := f.tool.CompareFlash(ctx, writeFile(t, "bin.hex", "\xff\xfe\x00"), CompareOptions{}); err == nil {
		t.Errorf("expected error for non UTF-8 file")
	}
	if ops := f.sim.Ops(); len(ops) != 0 {
		t.Errorf("probe used before the file was validated: %v", ops)
	}
}

func TestSimulatedBoardUnknownID(t *testing.T) {
	if _, err := SimulatedBoard("1234", memmap.DefaultTable(), ""); !errors.Is(err, memmap.ErrUnknownHardware) {
		t.Errorf("SimulatedBoard = %v, want ErrUnknownHardware", err)
	}
}
