// Package probe talks to the debug probe sitting between the host and the
// micro:bit target. It exposes just enough of a debug session to halt the
// core and read memory blocks; everything above that lives in package mcu.
package probe

import (
	"context"
	"errors"
)

// Probe opens exclusive debug sessions on one physical or simulated probe.
type Probe interface {
	// Open establishes the debug link. The returned session holds the probe
	// until Close is called; a second Open on a held probe fails with
	// ErrProbeBusy.
	Open(ctx context.Context) (Session, error)
}

// Session is an open debug link to the target.
type Session interface {
	// UniqueID returns the probe's unique ID. For DAPLink the first four
	// characters are the board ID.
	UniqueID() string
	// Resume lets the target core run.
	Resume() error
	// Halt stops the target core.
	Halt() error
	// ReadBlock reads count bytes of target memory starting at address.
	ReadBlock(address uint32, count int) ([]byte, error)
	// Close releases the probe. Calling Close more than once is allowed.
	Close() error
}

var (
	// ErrNoProbe is returned when no supported probe is connected.
	ErrNoProbe = errors.New("probe: no debug probe found")

	// ErrProbeBusy is returned when the probe is already held by another
	// session in this process.
	ErrProbeBusy = errors.New("probe: debug probe already in use")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("probe: session closed")
)
