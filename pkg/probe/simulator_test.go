package probe

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestSimProbeSessionLifecycle(t *testing.T) {
	sim := NewSimProbe("9904000000000000")
	sim.Map(0x1000, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	sess, err := sim.Open(context.Background())
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if !sim.Held() {
		t.Fatalf("probe not held after Open")
	}
	if sess.UniqueID() != "9904000000000000" {
		t.Errorf("UniqueID = %q", sess.UniqueID())
	}

	if err := sess.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := sess.Halt(); err != nil {
		t.Fatalf("Halt: %v", err)
	}
	if !sim.Halted() {
		t.Errorf("core not halted")
	}

	got, err := sess.ReadBlock(0x1002, 4)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if !bytes.Equal(got, []byte{3, 4, 5, 6}) {
		t.Errorf("ReadBlock = %v, want [3 4 5 6]", got)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if sim.Held() {
		t.Errorf("probe still held after Close")
	}

	want := []SimOp{SimOpOpen, SimOpResume, SimOpHalt, SimOpRead, SimOpClose}
	if !reflect.DeepEqual(sim.Ops(), want) {
		t.Errorf("ops = %v, want %v", sim.Ops(), want)
	}
}

func TestSimProbeBusy(t *testing.T) {
	sim := NewSimProbe("9900")
	sess, err := sim.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	if _, err := sim.Open(context.Background()); !errors.Is(err, ErrProbeBusy) {
		t.Fatalf("second Open = %v, want ErrProbeBusy", err)
	}
}

func TestSimProbeOpenErrors(t *testing.T) {
	sim := NewSimProbe("9900")
	sim.OpenErr = ErrNoProbe
	if _, err := sim.Open(context.Background()); !errors.Is(err, ErrNoProbe) {
		t.Errorf("Open = %v, want ErrNoProbe", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewSimProbe("9900").Open(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Open with cancelled context = %v, want context.Canceled", err)
	}
}

func TestSimSessionReadErrors(t *testing.T) {
	sim := NewSimProbe("9900")
	sim.Map(0, make([]byte, 16))
	sess, err := sim.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	tests := []struct {
		name    string
		address uint32
		count   int
	}{
		{"unmapped", 0x2000, 4},
		{"runs past region", 0x0C, 8},
		{"zero count", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := sess.ReadBlock(tt.address, tt.count); err == nil {
				t.Errorf("expected error")
			}
		})
	}

	var te *TransferError
	if _, err := sess.ReadBlock(0x2000, 4); !errors.As(err, &te) || te.Ack != AckFault {
		t.Errorf("unmapped read = %v, want FAULT TransferError", err)
	}

	sess.Close()
	if _, err := sess.ReadBlock(0, 4); !errors.Is(err, ErrClosed) {
		t.Errorf("read after Close = %v, want ErrClosed", err)
	}
	if err := sess.Resume(); !errors.Is(err, ErrClosed) {
		t.Errorf("Resume after Close = %v, want ErrClosed", err)
	}
}

func TestSimProbeReadHook(t *testing.T) {
	sim := NewSimProbe("9900")
	boom := errors.New("link dropped")
	var seen []SimOp
	var held bool
	sim.OnRead = func(address uint32, count int) ([]byte, error) {
		seen = sim.Ops()
		held = sim.Held() && sim.Halted()
		return nil, boom
	}

	sess, err := sim.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()
	if err := sess.Halt(); err != nil {
		t.Fatalf("Halt: %v", err)
	}

	if _, err := sess.ReadBlock(0, 4); !errors.Is(err, boom) {
		t.Errorf("ReadBlock = %v, want hook error", err)
	}
	if want := []SimOp{SimOpOpen, SimOpHalt, SimOpRead}; !reflect.DeepEqual(seen, want) {
		t.Errorf("ops seen by hook = %v, want %v", seen, want)
	}
	if !held {
		t.Errorf("hook did not see the held and halted state")
	}
}

func TestSimProbeInjectedErrors(t *testing.T) {
	resumeErr := errors.New("resume refused")
	haltErr := errors.New("core locked up")

	sim := NewSimProbe("9900")
	sim.ResumeErr = resumeErr
	sim.HaltErr = haltErr

	sess, err := sim.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	if err := sess.Resume(); !errors.Is(err, resumeErr) {
		t.Errorf("Resume = %v, want injected error", err)
	}
	if err := sess.Halt(); !errors.Is(err, haltErr) {
		t.Errorf("Halt = %v, want injected error", err)
	}
	if sim.Halted() {
		t.Errorf("failed Halt left the core halted")
	}
	if want := []SimOp{SimOpOpen, SimOpResume, SimOpHalt}; !reflect.DeepEqual(sim.Ops(), want) {
		t.Errorf("ops = %v, want %v", sim.Ops(), want)
	}
}

func TestSimProbeMapCopies(t *testing.T) {
	data := []byte{0xAA, 0xBB}
	sim := NewSimProbe("9900")
	sim.Map(0x10, data)
	data[0] = 0

	sess, _ := sim.Open(context.Background())
	defer sess.Close()
	got, err := sess.ReadBlock(0x10, 2)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if got[0] != 0xAA {
		t.Errorf("Map did not copy caller data")
	}
}
