// Package upyscript finds the user script that MicroPython for the micro:bit
// appends to flash at a fixed address when no filesystem is used.
//
// The script area starts with the bytes "MP", a little-endian 16-bit length
// and the UTF-8 source, padded with NUL bytes.
package upyscript

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/OpenTraceLab/ubittool/pkg/hexfmt"
)

const (
	// Address is where the script area starts in flash.
	Address uint32 = 0x3E000
	// MaxSize is the largest script that fits the area with its header.
	MaxSize = 8188

	headerLen = 4
)

var magic = []byte("MP")

var (
	// ErrNoScript is returned when the image carries no readable script.
	ErrNoScript = errors.New("upyscript: no MicroPython script found")
	// ErrTooLarge is returned by Embed for scripts over MaxSize bytes.
	ErrTooLarge = errors.New("upyscript: script too large")
)

// Extract returns the script embedded in an Intel HEX image of flash. The
// header must be present in the image; bytes of the area missing from the
// image read as erased flash.
func Extract(hexText string) (string, error) {
	segs, err := hexfmt.ParseIntelHexString(hexText)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoScript, err)
	}

	found := false
	for _, seg := range segs {
		end := uint64(seg.Address) + uint64(len(seg.Data))
		if seg.Address <= Address && uint64(Address)+headerLen <= end {
			found = true
			break
		}
	}
	if !found {
		return "", fmt.Errorf("%w: no data at 0x%05X", ErrNoScript, Address)
	}

	area, err := hexfmt.Flatten(segs, Address, headerLen+MaxSize, 0xFF)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoScript, err)
	}
	return Decode(area)
}

// Decode reads a script from the raw bytes of the script area.
func Decode(area []byte) (string, error) {
	if len(area) < headerLen || !bytes.Equal(area[:2], magic) {
		return "", fmt.Errorf("%w: missing MP header", ErrNoScript)
	}

	n := int(binary.LittleEndian.Uint16(area[2:]))
	if headerLen+n > len(area) {
		return "", fmt.Errorf("%w: script length %d runs past the end of the data", ErrNoScript, n)
	}

	script := bytes.TrimRight(area[headerLen:headerLen+n], "\x00")
	if !utf8.Valid(script) {
		return "", fmt.Errorf("%w: script is not valid UTF-8", ErrNoScript)
	}
	return string(script), nil
}

// Embed builds the script area for script: header, source and NUL padding up
// to a 16-byte boundary.
func Embed(script string) ([]byte, error) {
	if len(script) > MaxSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(script), MaxSize)
	}

	size := (headerLen + len(script) + 15) &^ 15
	area := make([]byte, size)
	copy(area, magic)
	binary.LittleEndian.PutUint16(area[2:], uint16(len(script)))
	copy(area[headerLen:], script)
	return area, nil
}
