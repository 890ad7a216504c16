package mcu

import (
	"errors"
	"fmt"

	"github.com/OpenTraceLab/ubittool/pkg/memmap"
)

var (
	// ErrNoBoard is matched by connection errors caused by a missing probe or a
	// debug session that could not be opened.
	ErrNoBoard = errors.New("mcu: did not find any connected boards")

	// ErrIncompatibleBoard is matched by connection errors caused by a board ID
	// that is not in the region table.
	ErrIncompatibleBoard = errors.New("mcu: incompatible board ID from connected device")

	// ErrOutOfBounds is matched by every OutOfBoundsError.
	ErrOutOfBounds = errors.New("mcu: read out of boundaries")

	// ErrInvalidCount is returned for reads of zero bytes.
	ErrInvalidCount = errors.New("mcu: count must be positive")

	// ErrNotConnected is returned by queries that need a resolved board.
	ErrNotConnected = errors.New("mcu: not connected")
)

// ConnectionError reports a failed Connect. Kind is ErrNoBoard or
// ErrIncompatibleBoard; Err is the underlying cause.
type ConnectionError struct {
	Kind    error
	BoardID string
	Err     error
}

func (e *ConnectionError) Error() string {
	msg := e.Kind.Error()
	if e.BoardID != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.BoardID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ConnectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// OutOfBoundsError reports a read that does not fit inside its region. The
// read is rejected as a whole.
type OutOfBoundsError struct {
	Region  Region
	Address uint32
	Count   uint32
	Valid   memmap.Window
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("mcu: cannot read a %s location out of boundaries: reading from 0x%08X to 0x%08X, limits are from 0x%08X to 0x%08X",
		e.Region, e.Address, uint64(e.Address)+uint64(e.Count), e.Valid.Start, e.Valid.End())
}

func (e *OutOfBoundsError) Is(target error) bool {
	return target == ErrOutOfBounds
}
