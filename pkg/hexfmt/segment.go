// Package hexfmt renders memory images as Intel HEX records or as an
// annotated hex dump, and parses Intel HEX back into segments.
//
// Intel HEX output follows the record layout of the Python intelhex package
// so files can be compared against images produced by other tools. The dump
// keeps its row layout but shows only bytes 0x20 to 0x7E as text.
package hexfmt

import (
	"errors"
	"fmt"
	"sort"
)

// ErrEncoding is matched by every EncodingError.
var ErrEncoding = errors.New("hexfmt: encoding error")

// EncodingError reports input that cannot be encoded or a failed write.
type EncodingError struct {
	Op  string
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("hexfmt: %s: %v", e.Op, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

func (e *EncodingError) Is(target error) bool {
	return target == ErrEncoding
}

// Segment is a contiguous run of bytes starting at Address.
type Segment struct {
	Address uint32
	Data    []byte
}

func (s Segment) end() uint64 {
	return uint64(s.Address) + uint64(len(s.Data))
}

// FromInts converts a list of integer byte values, rejecting any value that
// does not fit in a byte.
func FromInts(values []int) ([]byte, error) {
	data := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 0xFF {
			return nil, &EncodingError{Op: "convert", Err: fmt.Errorf("value %d at index %d is not a byte", v, i)}
		}
		data[i] = byte(v)
	}
	return data, nil
}

// normalize sorts segments, drops empty ones and joins touching ones. Segments
// that overlap or run past the 32-bit address space are rejected.
func normalize(op string, segs []Segment) ([]Segment, error) {
	sorted := make([]Segment, 0, len(segs))
	for _, s := range segs {
		if len(s.Data) == 0 {
			continue
		}
		if s.end() > 1<<32 {
			return nil, &EncodingError{Op: op, Err: fmt.Errorf("segment at 0x%08X with %d bytes exceeds the 32-bit address space", s.Address, len(s.Data))}
		}
		sorted = append(sorted, s)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	out := make([]Segment, 0, len(sorted))
	for _, s := range sorted {
		if n := len(out); n > 0 {
			last := &out[n-1]
			switch {
			case uint64(s.Address) < last.end():
				return nil, &EncodingError{Op: op, Err: fmt.Errorf("segment at 0x%08X overlaps segment at 0x%08X", s.Address, last.Address)}
			case uint64(s.Address) == last.end():
				last.Data = append(last.Data[:len(last.Data):len(last.Data)], s.Data...)
				continue
			}
		}
		out = append(out, s)
	}
	return out, nil
}
