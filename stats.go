package artnet

import (
	"errors"
	"sync"
)

// Stats accumulates decode and drop counters per spec.md §7. The
// counters are cumulative: Snapshot copies them without resetting.
type Stats struct {
	mu sync.Mutex

	DecodedPoll      uint64
	DecodedPollReply uint64
	DecodedDMX       uint64
	DecodedUnknown   uint64

	DroppedBadMagic        uint64
	DroppedBadOpCode       uint64
	DroppedTruncatedFrame  uint64
	DroppedFieldOutOfRange uint64
	DroppedSequence        uint64
}

func (s *Stats) recordDecodeError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case errors.Is(err, ErrBadMagic):
		s.DroppedBadMagic++
	case errors.Is(err, ErrTruncatedFrame):
		s.DroppedTruncatedFrame++
	case errors.Is(err, ErrFieldOutOfRange):
		s.DroppedFieldOutOfRange++
	case errors.Is(err, ErrBadOpCode):
		s.DroppedBadOpCode++
	default:
		s.DroppedBadOpCode++
	}
}

func (s *Stats) recordDecoded(opCode uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch opCode {
	case OpPoll:
		s.DecodedPoll++
	case OpPollReply:
		s.DecodedPollReply++
	case OpDmx:
		s.DecodedDMX++
	default:
		s.DecodedUnknown++
	}
}

func (s *Stats) recordSequenceDrop() {
	s.mu.Lock()
	s.DroppedSequence++
	s.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s
	cp.mu = sync.Mutex{}
	return cp
}
