// Package memmap describes the memory layout of the micro:bit target
// microcontrollers and maps DAPLink board IDs to those layouts.
package memmap

import "fmt"

// Revision identifies a micro:bit hardware generation.
type Revision int

const (
	RevisionV1 Revision = 1 // nRF51822, 256 KiB flash
	RevisionV2 Revision = 2 // nRF52833, 512 KiB flash
)

func (r Revision) String() string {
	return fmt.Sprintf("v%d", int(r))
}

// MicroPython stores the user script at a fixed flash location when no
// filesystem is in use. Everything below it is the interpreter.
const (
	MicroPythonStart uint32 = 0x0
	PythonCodeStart  uint32 = 0x3E000
)

// Window is a contiguous address range.
type Window struct {
	Start uint32
	Size  uint32
}

// End returns the first address past the window. It is computed in 64 bits so
// windows touching the top of the address space do not wrap.
func (w Window) End() uint64 {
	return uint64(w.Start) + uint64(w.Size)
}

// Contains reports whether addr lies inside w and [addr, addr+count) does not
// run past its end.
func (w Window) Contains(addr uint32, count uint32) bool {
	if addr < w.Start || uint64(addr) >= w.End() {
		return false
	}
	return uint64(addr)+uint64(count) <= w.End()
}

func (w Window) String() string {
	return fmt.Sprintf("0x%08X-0x%08X", w.Start, w.End())
}

// RegionSet is the address map of one hardware revision. Values are copied
// around and never modified after the table is built.
type RegionSet struct {
	Name     string
	Revision Revision

	FlashStart uint32
	FlashSize  uint32
	RAMStart   uint32
	RAMSize    uint32
	UICRStart  uint32
	UICRSize   uint32

	UICRCustomerOffset uint32
	UICRCustomerSize   uint32
}

func (r RegionSet) Flash() Window { return Window{Start: r.FlashStart, Size: r.FlashSize} }
func (r RegionSet) RAM() Window   { return Window{Start: r.RAMStart, Size: r.RAMSize} }
func (r RegionSet) UICR() Window  { return Window{Start: r.UICRStart, Size: r.UICRSize} }

// UICRCustomer returns the customer-reserved registers nested inside the UICR.
func (r RegionSet) UICRCustomer() Window {
	return Window{Start: r.UICRStart + r.UICRCustomerOffset, Size: r.UICRCustomerSize}
}

// MicroPython returns the flash window holding the MicroPython runtime.
func (r RegionSet) MicroPython() Window {
	start := r.FlashStart + MicroPythonStart
	return Window{Start: start, Size: r.FlashStart + PythonCodeStart - start}
}

// UserCode returns the flash window from the fixed script location to the end
// of flash.
func (r RegionSet) UserCode() Window {
	start := r.FlashStart + PythonCodeStart
	return Window{Start: start, Size: uint32(r.Flash().End() - uint64(start))}
}

// Validate checks that the customer window sits inside the UICR and that
// every region has a size.
func (r RegionSet) Validate() error {
	if r.FlashSize == 0 || r.RAMSize == 0 || r.UICRSize == 0 {
		return fmt.Errorf("memmap: %s: empty region", r.Name)
	}
	if r.UICRCustomerSize == 0 || uint64(r.UICRCustomerOffset)+uint64(r.UICRCustomerSize) > uint64(r.UICRSize) {
		return fmt.Errorf("memmap: %s: UICR customer window 0x%X+0x%X outside UICR size 0x%X",
			r.Name, r.UICRCustomerOffset, r.UICRCustomerSize, r.UICRSize)
	}
	if uint64(PythonCodeStart) >= uint64(r.FlashSize) {
		return fmt.Errorf("memmap: %s: flash too small for the MicroPython script area", r.Name)
	}
	return nil
}

// V1 returns the layout of the nRF51822 based micro:bit.
func V1() RegionSet {
	return RegionSet{
		Name:               "micro:bit v1",
		Revision:           RevisionV1,
		FlashStart:         0x0000_0000,
		FlashSize:          256 * 1024,
		RAMStart:           0x2000_0000,
		RAMSize:            16 * 1024,
		UICRStart:          0x1000_1000,
		UICRSize:           0x100,
		UICRCustomerOffset: 0x80,
		UICRCustomerSize:   0x80,
	}
}

// V2 returns the layout of the nRF52833 based micro:bit.
func V2() RegionSet {
	return RegionSet{
		Name:               "micro:bit v2",
		Revision:           RevisionV2,
		FlashStart:         0x0000_0000,
		FlashSize:          512 * 1024,
		RAMStart:           0x2000_0000,
		RAMSize:            128 * 1024,
		UICRStart:          0x1000_1000,
		UICRSize:           0x308,
		UICRCustomerOffset: 0x80,
		UICRCustomerSize:   0x180,
	}
}
