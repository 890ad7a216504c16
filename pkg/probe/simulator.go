package probe

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// SimOp names a session call recorded by the simulator.
type SimOp string

const (
	SimOpOpen   SimOp = "open"
	SimOpResume SimOp = "resume"
	SimOpHalt   SimOp = "halt"
	SimOpRead   SimOp = "read"
	SimOpClose  SimOp = "close"
)

// SimRegion is a block of simulated target memory.
type SimRegion struct {
	Start uint32
	Data  []byte
}

// ReadHook lets tests replace the simulated memory read.
type ReadHook func(address uint32, count int) ([]byte, error)

// SimProbe is an in-memory probe useful for unit tests and for running the
// tool without hardware. Reads outside the mapped regions fail the way a bus
// fault does on the real target.
type SimProbe struct {
	ID string

	// OpenErr, when set, is returned by Open.
	OpenErr error
	// ResumeErr and HaltErr, when set, fail the matching session call. The
	// call is still recorded.
	ResumeErr error
	HaltErr   error
	// OnRead, when set, replaces the memory lookup. It runs without the
	// simulator lock held.
	OnRead ReadHook

	mu      sync.Mutex
	regions []SimRegion
	ops     []SimOp
	held    bool
	halted  bool
}

// NewSimProbe constructs a simulator reporting the given unique ID.
func NewSimProbe(uniqueID string) *SimProbe {
	return &SimProbe{ID: uniqueID}
}

// Map adds a region of memory. The data is copied.
func (s *SimProbe) Map(start uint32, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.regions = append(s.regions, SimRegion{Start: start, Data: append([]byte(nil), data...)})
	sort.Slice(s.regions, func(i, j int) bool { return s.regions[i].Start < s.regions[j].Start })
}

// Ops returns a copy of the recorded session calls.
func (s *SimProbe) Ops() []SimOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SimOp(nil), s.ops...)
}

// Held reports whether a session is currently open.
func (s *SimProbe) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// Halted reports whether the simulated core is halted.
func (s *SimProbe) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

func (s *SimProbe) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if s.held {
		return nil, fmt.Errorf("%w: simulator %s", ErrProbeBusy, s.ID)
	}
	s.held = true
	s.ops = append(s.ops, SimOpOpen)
	return &simSession{probe: s}, nil
}

func (s *SimProbe) record(op SimOp) {
	s.ops = append(s.ops, op)
}

func (s *SimProbe) read(address uint32, count int) ([]byte, error) {
	end := uint64(address) + uint64(count)
	for _, r := range s.regions {
		rEnd := uint64(r.Start) + uint64(len(r.Data))
		if address >= r.Start && end <= rEnd {
			off := address - r.Start
			return append([]byte(nil), r.Data[off:off+uint32(count)]...), nil
		}
	}
	return nil, &TransferError{Ack: AckFault}
}

type simSession struct {
	probe  *SimProbe
	closed bool
}

func (ss *simSession) UniqueID() string {
	return ss.probe.ID
}

func (ss *simSession) Resume() error {
	s := ss.probe
	s.mu.Lock()
	defer s.mu.Unlock()

	if ss.closed {
		return ErrClosed
	}
	s.record(SimOpResume)
	if s.ResumeErr != nil {
		return s.ResumeErr
	}
	s.halted = false
	return nil
}

func (ss *simSession) Halt() error {
	s := ss.probe
	s.mu.Lock()
	defer s.mu.Unlock()

	if ss.closed {
		return ErrClosed
	}
	s.record(SimOpHalt)
	if s.HaltErr != nil {
		return s.HaltErr
	}
	s.halted = true
	return nil
}

func (ss *simSession) ReadBlock(address uint32, count int) ([]byte, error) {
	s := ss.probe
	s.mu.Lock()
	if ss.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if count <= 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("count must be positive, got %d", count)
	}
	s.record(SimOpRead)
	hook := s.OnRead
	if hook == nil {
		defer s.mu.Unlock()
		return s.read(address, count)
	}
	s.mu.Unlock()

	return hook(address, count)
}

func (ss *simSession) Close() error {
	s := ss.probe
	s.mu.Lock()
	defer s.mu.Unlock()

	if ss.closed {
		return nil
	}
	ss.closed = true
	s.held = false
	s.record(SimOpClose)
	return nil
}
