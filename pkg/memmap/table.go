package memmap

import (
	"errors"
	"fmt"
	"sort"
)

// BoardIDLength is the number of leading characters of the DAPLink unique ID
// that identify the board.
const BoardIDLength = 4

// ErrUnknownHardware is matched by errors.Is for every UnknownHardwareError.
var ErrUnknownHardware = errors.New("memmap: unknown hardware")

// UnknownHardwareError reports a board ID that is not in the table.
type UnknownHardwareError struct {
	BoardID string
}

func (e *UnknownHardwareError) Error() string {
	return fmt.Sprintf("memmap: unknown board ID %q", e.BoardID)
}

func (e *UnknownHardwareError) Is(target error) bool {
	return target == ErrUnknownHardware
}

// Table maps board IDs to region sets. The zero value resolves nothing.
type Table struct {
	sets map[string]RegionSet
}

// NewTable builds a table from the given mapping. The map is copied so later
// changes by the caller are not observed.
func NewTable(sets map[string]RegionSet) (Table, error) {
	t := Table{sets: make(map[string]RegionSet, len(sets))}
	for id, set := range sets {
		if len(id) != BoardIDLength {
			return Table{}, fmt.Errorf("memmap: board ID %q must be %d characters", id, BoardIDLength)
		}
		if err := set.Validate(); err != nil {
			return Table{}, err
		}
		t.sets[id] = set
	}
	return t, nil
}

// DefaultTable returns the published DAPLink board IDs for both micro:bit
// revisions.
func DefaultTable() Table {
	return Table{sets: map[string]RegionSet{
		"9900": V1(),
		"9901": V1(),
		"9903": V2(),
		"9904": V2(),
		"9905": V2(),
		"9906": V2(),
	}}
}

// Resolve returns the region set for a board, keyed by the first
// BoardIDLength characters of id. Longer IDs, such as the full DAPLink unique
// ID, are accepted.
func (t Table) Resolve(id string) (RegionSet, error) {
	if len(id) < BoardIDLength {
		return RegionSet{}, &UnknownHardwareError{BoardID: id}
	}
	set, ok := t.sets[id[:BoardIDLength]]
	if !ok {
		return RegionSet{}, &UnknownHardwareError{BoardID: id[:BoardIDLength]}
	}
	return set, nil
}

// BoardIDs lists the known board IDs in ascending order.
func (t Table) BoardIDs() []string {
	ids := make([]string, 0, len(t.sets))
	for id := range t.sets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
