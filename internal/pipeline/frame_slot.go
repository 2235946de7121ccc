package pipeline

import (
	"context"
	"sync"
)

// FrameSlot hands the latest annotated frame to rendering consumers.
// It holds exactly one frame: Put replaces, it never queues.
type FrameSlot struct {
	mu      sync.Mutex
	seq     uint64
	data    []byte
	updated chan struct{}
}

func NewFrameSlot() *FrameSlot {
	return &FrameSlot{updated: make(chan struct{})}
}

// Put stores a frame. Frames not newer than the current one are ignored.
func (s *FrameSlot) Put(seq uint64, data []byte) bool {
	if len(data) == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data != nil && seq <= s.seq {
		return false
	}
	s.seq = seq
	s.data = data
	close(s.updated)
	s.updated = make(chan struct{})
	return true
}

// Latest returns the current frame, if any
func (s *FrameSlot) Latest() (uint64, []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq, s.data, s.data != nil
}

// Next blocks until a frame newer than afterSeq is available
func (s *FrameSlot) Next(ctx context.Context, afterSeq uint64) (uint64, []byte, error) {
	for {
		s.mu.Lock()
		if s.data != nil && s.seq > afterSeq {
			seq, data := s.seq, s.data
			s.mu.Unlock()
			return seq, data, nil
		}
		wait := s.updated
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-wait:
		}
	}
}
