// Package mcu reads memory from the main microcontroller of a micro:bit
// through a debug probe. A Device owns one debug session at a time, resolves
// the board's memory layout on connect and bounds-checks every read against
// it.
package mcu

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/OpenTraceLab/ubittool/pkg/memmap"
	"github.com/OpenTraceLab/ubittool/pkg/probe"
)

// Region names a logical memory area of the target.
type Region int

const (
	Flash Region = iota
	RAM
	UICR
	UICRCustomer
)

func (r Region) String() string {
	switch r {
	case Flash:
		return "flash"
	case RAM:
		return "RAM"
	case UICR:
		return "UICR"
	case UICRCustomer:
		return "UICR customer"
	}
	return fmt.Sprintf("Region(%d)", int(r))
}

// Window returns the address range of the region in set.
func (r Region) Window(set memmap.RegionSet) (memmap.Window, error) {
	switch r {
	case Flash:
		return set.Flash(), nil
	case RAM:
		return set.RAM(), nil
	case UICR:
		return set.UICR(), nil
	case UICRCustomer:
		return set.UICRCustomer(), nil
	}
	return memmap.Window{}, fmt.Errorf("mcu: unknown region %d", int(r))
}

// ReadResult is the outcome of a read. Address is the first address read.
type ReadResult struct {
	Address uint32
	Data    []byte
}

// Whole selects the start or the size of the region when passed as the
// address or count of a read.
var Whole *uint32

// Uint32 returns a pointer to v, for the address and count of a read.
func Uint32(v uint32) *uint32 {
	return &v
}

// Option configures a Device.
type Option func(*Device)

// WithTable sets the board ID table used to resolve the memory layout.
func WithTable(t memmap.Table) Option {
	return func(d *Device) { d.table = t }
}

// WithLogger sets the logger for connection and read diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

// Device is the micro:bit target behind a probe. Operations are serialized;
// the zero value is not usable, use NewDevice.
type Device struct {
	probe probe.Probe
	table memmap.Table
	log   *log.Logger

	mu      sync.Mutex
	session probe.Session
	boardID string
	regions memmap.RegionSet
}

// debugPortReporter is implemented by sessions that identify the target's
// debug port.
type debugPortReporter interface {
	DebugPort() probe.DPIDR
}

// NewDevice returns an unconnected device. The default table is
// memmap.DefaultTable.
func NewDevice(p probe.Probe, opts ...Option) *Device {
	d := &Device{
		probe: p,
		table: memmap.DefaultTable(),
		log:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect opens the debug session, resumes and then halts the core so memory
// is read from a stopped target, and resolves the board's memory layout.
// Connecting a connected device does nothing. On failure no session is left
// open.
func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connect(ctx)
}

func (d *Device) connect(ctx context.Context) error {
	if d.session != nil {
		return nil
	}
	if d.probe == nil {
		return &ConnectionError{Kind: ErrNoBoard, Err: probe.ErrNoProbe}
	}

	sess, err := d.probe.Open(ctx)
	if err != nil {
		return &ConnectionError{Kind: ErrNoBoard, Err: err}
	}

	if err := sess.Resume(); err != nil {
		d.closeSession(sess)
		return &ConnectionError{Kind: ErrNoBoard, Err: fmt.Errorf("resume target: %w", err)}
	}
	if err := sess.Halt(); err != nil {
		d.closeSession(sess)
		return &ConnectionError{Kind: ErrNoBoard, Err: fmt.Errorf("halt target: %w", err)}
	}

	id := sess.UniqueID()
	set, err := d.table.Resolve(id)
	if err != nil {
		d.release(sess)
		return &ConnectionError{Kind: ErrIncompatibleBoard, BoardID: id, Err: err}
	}

	d.session = sess
	d.boardID = id[:memmap.BoardIDLength]
	d.regions = set
	d.log.Printf("connected to %s (board ID %s, unique ID %s)", set.Name, d.boardID, id)
	if dp, ok := sess.(debugPortReporter); ok {
		d.log.Printf("debug port: %s", dp.DebugPort())
	}
	return nil
}

// Disconnect resumes the core and closes the session. It is safe to call on
// an unconnected device and more than once. Failures are logged; the device
// is always left disconnected.
func (d *Device) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil
	}
	sess := d.session
	d.session = nil
	d.regions = memmap.RegionSet{}
	d.release(sess)
	d.log.Printf("disconnected from board %s", d.boardID)
	return nil
}

func (d *Device) release(sess probe.Session) {
	if err := sess.Resume(); err != nil {
		d.log.Printf("resume on disconnect: %v", err)
	}
	d.closeSession(sess)
}

func (d *Device) closeSession(sess probe.Session) {
	if err := sess.Close(); err != nil {
		d.log.Printf("close debug session: %v", err)
	}
}

// Connected reports whether a session is open.
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session != nil
}

// BoardID returns the board ID of the last connected board, or "" if the
// device never connected.
func (d *Device) BoardID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.boardID
}

// Regions returns the memory layout of the connected board.
func (d *Device) Regions() (memmap.RegionSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return memmap.RegionSet{}, ErrNotConnected
	}
	return d.regions, nil
}

// ReadFlash reads count bytes of flash from address. Whole for either
// argument selects the start or the size of flash.
func (d *Device) ReadFlash(ctx context.Context, address, count *uint32) (ReadResult, error) {
	return d.Read(ctx, Flash, address, count)
}

// ReadRAM reads count bytes of RAM from address.
func (d *Device) ReadRAM(ctx context.Context, address, count *uint32) (ReadResult, error) {
	return d.Read(ctx, RAM, address, count)
}

// ReadUICR reads count bytes of the UICR from address.
func (d *Device) ReadUICR(ctx context.Context, address, count *uint32) (ReadResult, error) {
	return d.Read(ctx, UICR, address, count)
}

// ReadUICRCustomer reads the whole customer window of the UICR.
func (d *Device) ReadUICRCustomer(ctx context.Context) (ReadResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.connect(ctx); err != nil {
		return ReadResult{}, err
	}
	w := d.regions.UICRCustomer()
	return d.read(ctx, UICR, &w.Start, &w.Size)
}

// Read connects if needed and reads count bytes of region from address. The
// whole range must lie inside the region; nothing is clamped.
func (d *Device) Read(ctx context.Context, region Region, address, count *uint32) (ReadResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.connect(ctx); err != nil {
		return ReadResult{}, err
	}
	return d.read(ctx, region, address, count)
}

func (d *Device) read(ctx context.Context, region Region, address, count *uint32) (ReadResult, error) {
	w, err := region.Window(d.regions)
	if err != nil {
		return ReadResult{}, err
	}

	addr, n := w.Start, w.Size
	if address != nil {
		addr = *address
	}
	if count != nil {
		n = *count
	}
	if n == 0 {
		return ReadResult{}, fmt.Errorf("%w: %s read at 0x%08X", ErrInvalidCount, region, addr)
	}
	if !w.Contains(addr, n) {
		return ReadResult{}, &OutOfBoundsError{Region: region, Address: addr, Count: n, Valid: w}
	}
	if err := ctx.Err(); err != nil {
		return ReadResult{}, err
	}

	d.log.Printf("reading %d bytes of %s from 0x%08X", n, region, addr)
	data, err := d.session.ReadBlock(addr, int(n))
	if err != nil {
		return ReadResult{}, fmt.Errorf("mcu: read %s at 0x%08X: %w", region, addr, err)
	}
	if len(data) != int(n) {
		return ReadResult{}, fmt.Errorf("mcu: read %s at 0x%08X: got %d bytes, want %d", region, addr, len(data), n)
	}
	return ReadResult{Address: addr, Data: data}, nil
}
