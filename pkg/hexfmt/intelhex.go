package hexfmt

import (
	"bufio"
	"encoding/hex"
	"io"
	"strings"
)

// Intel HEX record types
const (
	recordData         = 0x00
	recordEOF          = 0x01
	recordExtLinearAdr = 0x04
)

const maxRecordLen = 16

// WriteIntelHex writes segs as Intel HEX. Data records carry at most 16
// bytes and never cross a 64 KiB boundary. When any byte lies above 0xFFFF an
// extended linear address record precedes the first data record and each
// change of the upper 16 address bits.
func WriteIntelHex(w io.Writer, segs ...Segment) error {
	segs, err := normalize("intel hex", segs)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	if len(segs) > 0 {
		maxAddr := segs[len(segs)-1].end() - 1
		needOffset := maxAddr > 0xFFFF
		high := -1

		for _, s := range segs {
			for off := 0; off < len(s.Data); {
				addr := s.Address + uint32(off)
				if needOffset && int(addr>>16) != high {
					high = int(addr >> 16)
					writeRecord(bw, 0, recordExtLinearAdr, []byte{byte(high >> 8), byte(high)})
				}

				n := len(s.Data) - off
				if n > maxRecordLen {
					n = maxRecordLen
				}
				if left := 0x10000 - int(addr&0xFFFF); n > left {
					n = left
				}
				writeRecord(bw, uint16(addr), recordData, s.Data[off:off+n])
				off += n
			}
		}
	}
	writeRecord(bw, 0, recordEOF, nil)

	if err := bw.Flush(); err != nil {
		return &EncodingError{Op: "write intel hex", Err: err}
	}
	return nil
}

func writeRecord(w *bufio.Writer, addr uint16, typ byte, data []byte) {
	rec := make([]byte, 0, 5+len(data))
	rec = append(rec, byte(len(data)), byte(addr>>8), byte(addr), typ)
	rec = append(rec, data...)

	var sum byte
	for _, b := range rec {
		sum += b
	}
	rec = append(rec, -sum)

	w.WriteByte(':')
	w.WriteString(strings.ToUpper(hex.EncodeToString(rec)))
	w.WriteByte('\n')
}

// BytesToIntelHex encodes data located at offset as an Intel HEX document.
func BytesToIntelHex(data []byte, offset uint32) (string, error) {
	var sb strings.Builder
	if err := WriteIntelHex(&sb, Segment{Address: offset, Data: data}); err != nil {
		return "", err
	}
	return sb.String(), nil
}
