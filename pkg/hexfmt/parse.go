package hexfmt

import (
	"fmt"
	"io"
	"strings"

	"github.com/marcinbor85/gohex"
)

// ParseIntelHex decodes an Intel HEX document into ordered, non-overlapping
// segments. Touching records are joined into one segment.
func ParseIntelHex(r io.Reader) ([]Segment, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, fmt.Errorf("hexfmt: parse intel hex: %w", err)
	}

	var segs []Segment
	for _, ds := range mem.GetDataSegments() {
		segs = append(segs, Segment{Address: ds.Address, Data: ds.Data})
	}
	return normalize("parse intel hex", segs)
}

// ParseIntelHexString is ParseIntelHex for text already in memory.
func ParseIntelHexString(s string) ([]Segment, error) {
	return ParseIntelHex(strings.NewReader(s))
}

// Flatten copies the bytes of segs in [address, address+size) into a single
// buffer, filling gaps with pad.
func Flatten(segs []Segment, address, size uint32, pad byte) ([]byte, error) {
	mem := gohex.NewMemory()
	for _, s := range segs {
		if err := mem.AddBinary(s.Address, s.Data); err != nil {
			return nil, fmt.Errorf("hexfmt: segment at 0x%08X: %w", s.Address, err)
		}
	}
	return mem.ToBinary(address, size, pad), nil
}
