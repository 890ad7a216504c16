package probe

import "fmt"

// DPIDR is the decoded SWD debug port identification register.
type DPIDR struct {
	Raw      uint32
	Revision uint8  // [31:28]
	PartNo   uint8  // [27:20]
	Min      bool   // bit 16, minimal debug port
	Version  uint8  // [15:12] DP architecture version
	Designer uint16 // [11:1] JEP106 continuation and identity code
	RAO      bool   // bit 0 reads as one on a real DP
}

// ParseDPIDR splits a raw DPIDR value into its fields.
func ParseDPIDR(raw uint32) DPIDR {
	return DPIDR{
		Raw:      raw,
		Revision: uint8(raw >> 28),
		PartNo:   uint8(raw >> 20),
		Min:      raw&(1<<16) != 0,
		Version:  uint8((raw >> 12) & 0xF),
		Designer: uint16((raw >> 1) & 0x7FF),
		RAO:      raw&1 == 1,
	}
}

// Valid reports whether the value came from a debug port rather than from a
// floating or shorted SWDIO line.
func (d DPIDR) Valid() bool {
	return d.RAO && d.Raw != 0xFFFFFFFF && d.Version != 0
}

// designers holds the JEP106 codes of debug port designers seen on micro:bit
// and common CMSIS-DAP targets.
var designers = map[uint16]string{
	0x23B: "ARM",
	0x020: "STMicroelectronics",
	0x244: "Nordic Semiconductor",
}

// DesignerName returns the designer's name, or its code when unknown.
func (d DPIDR) DesignerName() string {
	if name, ok := designers[d.Designer]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (0x%03X)", d.Designer)
}

func (d DPIDR) String() string {
	return fmt.Sprintf("DPIDR 0x%08X (%s DPv%d, part 0x%02X, rev %d)",
		d.Raw, d.DesignerName(), d.Version, d.PartNo, d.Revision)
}
