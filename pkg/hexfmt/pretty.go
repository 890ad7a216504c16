package hexfmt

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const dumpWidth = 16

// WritePrettyHex writes a hex dump of segs, 16 bytes per row. Each row shows
// the row address, the byte values and an ASCII column, where bytes outside
// 0x20 to 0x7E print as '.'. Slots with no data are shown as "--" and a blank
// ASCII cell; every row between the first and the last byte is printed.
func WritePrettyHex(w io.Writer, segs ...Segment) error {
	segs, err := normalize("pretty hex", segs)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	if len(segs) > 0 {
		minAddr := uint64(segs[0].Address)
		maxAddr := segs[len(segs)-1].end() - 1
		start := minAddr / dumpWidth * dumpWidth
		end := (maxAddr/dumpWidth + 1) * dumpWidth

		digits := len(fmt.Sprintf("%X", end))
		if digits < 4 {
			digits = 4
		}

		seg := 0
		ascii := make([]byte, dumpWidth)
		for row := start; row < end; row += dumpWidth {
			fmt.Fprintf(bw, "%0*X ", digits, row)
			for j := uint64(0); j < dumpWidth; j++ {
				addr := row + j
				for seg < len(segs) && segs[seg].end() <= addr {
					seg++
				}
				if seg < len(segs) && uint64(segs[seg].Address) <= addr {
					b := segs[seg].Data[addr-uint64(segs[seg].Address)]
					fmt.Fprintf(bw, " %02X", b)
					ascii[j] = printable(b)
				} else {
					bw.WriteString(" --")
					ascii[j] = ' '
				}
			}
			bw.WriteString("  |")
			bw.Write(ascii)
			bw.WriteString("|\n")
		}
	}

	if err := bw.Flush(); err != nil {
		return &EncodingError{Op: "write pretty hex", Err: err}
	}
	return nil
}

func printable(b byte) byte {
	if b >= 32 && b < 127 {
		return b
	}
	return '.'
}

// BytesToPrettyHex renders data located at offset as a hex dump.
func BytesToPrettyHex(data []byte, offset uint32) (string, error) {
	var sb strings.Builder
	if err := WritePrettyHex(&sb, Segment{Address: offset, Data: data}); err != nil {
		return "", err
	}
	return sb.String(), nil
}
