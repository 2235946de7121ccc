package pipeline

import (
	"sort"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/logs"
)

// State is the mutable context threaded through the per-frame stages.
// Only the processor holds it, and only one frame mutates it at a time.
type State struct {
	Light  LightState
	Tracks map[int]*Track

	nonRedStreak int
}

func NewState() *State {
	return &State{
		Light:  LightState{Color: LightUnknown},
		Tracks: make(map[int]*Track),
	}
}

// SortedTrackIDs returns the active track IDs in ascending order
func (s *State) SortedTrackIDs() []int {
	ids := make([]int, 0, len(s.Tracks))
	for id := range s.Tracks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// clearRedLatches drops every sticky violation flag and dedup latch. It
// runs whenever the resolved light is not red, whether or not the
// evaluator gets to run on that frame.
func (s *State) clearRedLatches() {
	if s.Light.Color == LightRed {
		return
	}
	for _, t := range s.Tracks {
		t.CrossedDuringRed = false
		t.reported = false
	}
}

// TrackSettings controls the per-track state machine
type TrackSettings struct {
	PositionHistorySize  int
	MovementWindow       int
	ViolationHistorySize int
	MovementThreshold    float32
	MaxPositionJump      float32
	MaxSuspiciousJumps   int
}

// Track is the state kept for one tracker ID
type Track struct {
	ID         int
	Class      string
	Confidence float32
	BBox       BBox
	FirstSeen  uint64
	LastSeen   uint64

	positions  *boundedQueue[float32]
	movement   *boundedQueue[bool]
	violations *boundedQueue[bool]

	hasLast         bool
	LastPosition    float32
	SuspiciousJumps int
	IsMoving        bool

	// CrossedDuringRed is the sticky violation flag
	CrossedDuringRed bool

	// Reassigned is set for the frame in which the jump counter tripped
	Reassigned bool

	// reported latches after a record is emitted, until the sticky flag clears
	reported bool
}

func newTrack(id int, s TrackSettings, seq uint64) *Track {
	return &Track{
		ID:         id,
		FirstSeen:  seq,
		positions:  newBoundedQueue[float32](s.PositionHistorySize),
		movement:   newBoundedQueue[bool](s.MovementWindow),
		violations: newBoundedQueue[bool](s.ViolationHistorySize),
	}
}

// PositionHistory returns the bottom-edge y history, oldest first
func (t *Track) PositionHistory() []float32 { return t.positions.Values() }

// RecentMovement returns the per-frame movement flags, oldest first
func (t *Track) RecentMovement() []bool { return t.movement.Values() }

// ViolationHistory returns the raw per-frame crossing flags, oldest first
func (t *Track) ViolationHistory() []bool { return t.violations.Values() }

// Status returns the read-only view of the track
func (t *Track) Status(isViolation bool) TrackStatus {
	return TrackStatus{
		ID:               t.ID,
		Class:            t.Class,
		Confidence:       t.Confidence,
		BBox:             t.BBox,
		BottomY:          t.BBox.BottomY(),
		IsMoving:         t.IsMoving,
		IsViolation:      isViolation,
		CrossedDuringRed: t.CrossedDuringRed,
		SuspiciousJumps:  t.SuspiciousJumps,
	}
}

// TrackMachine creates, updates and removes tracks in State
type TrackMachine struct {
	settings TrackSettings
	log      logs.Log
}

func NewTrackMachine(settings TrackSettings, log logs.Log) *TrackMachine {
	return &TrackMachine{settings: settings, log: log}
}

// Update applies one frame of tracker output. Tracks missing an ID or a
// usable box are dropped for this frame. Tracks absent from the output
// are deleted. Returns the IDs that were removed.
func (m *TrackMachine) Update(state *State, tracked []Detection, seq uint64) []int {
	seen := make(map[int]bool, len(tracked))
	for _, d := range tracked {
		if d.TrackID == nil || *d.TrackID < 1 {
			m.log.Warnf("Dropping tracked %s without a valid track id", d.Class)
			continue
		}
		id := *d.TrackID
		if !d.BBox.Valid() {
			m.log.Warnf("Dropping track %d: invalid bbox %+v", id, d.BBox)
			continue
		}
		if seen[id] {
			m.log.Warnf("Duplicate track id %d in frame %d, keeping the first", id, seq)
			continue
		}
		seen[id] = true

		t, ok := state.Tracks[id]
		if !ok {
			t = newTrack(id, m.settings, seq)
			state.Tracks[id] = t
		}
		m.step(t, d, seq)
	}

	var removed []int
	for id := range state.Tracks {
		if !seen[id] {
			delete(state.Tracks, id)
			removed = append(removed, id)
		}
	}
	sort.Ints(removed)
	return removed
}

func (m *TrackMachine) step(t *Track, d Detection, seq uint64) {
	t.Class = d.Class
	t.Confidence = d.Confidence
	t.BBox = d.BBox
	t.LastSeen = seq
	t.Reassigned = false

	y := d.BBox.BottomY()

	if t.hasLast {
		jump := math32.Abs(y - t.LastPosition)
		if jump > m.settings.MaxPositionJump {
			t.SuspiciousJumps++
			m.log.Debugf("Track %d jumped %.1fpx (%d suspicious)", t.ID, jump, t.SuspiciousJumps)
			if t.SuspiciousJumps > m.settings.MaxSuspiciousJumps {
				m.log.Warnf("Track %d looks reassigned after %d jumps, clearing its state", t.ID, t.SuspiciousJumps)
				t.CrossedDuringRed = false
				t.reported = false
				t.SuspiciousJumps = 0
				t.Reassigned = true
				// Earlier samples belong to a different object
				t.positions.Clear()
				t.movement.Clear()
			}
		}
	}

	t.positions.Push(y)
	t.LastPosition = y
	t.hasLast = true

	t.movement.Push(m.movementDetected(t))
	t.IsMoving = isMoving(t.movement)
}

func (m *TrackMachine) movementDetected(t *Track) bool {
	n := t.positions.Len()
	if n < 3 {
		return false
	}
	last := t.positions.FromEnd(1)
	if math32.Abs(last-t.positions.FromEnd(3)) > m.settings.MovementThreshold {
		return true
	}
	if n >= 5 && math32.Abs(last-t.positions.FromEnd(5)) > 1.5*m.settings.MovementThreshold {
		return true
	}
	return false
}

func isMoving(recent *boundedQueue[bool]) bool {
	n := recent.Len()
	if n < 2 {
		return false
	}
	moving := 0
	for _, v := range recent.items {
		if v {
			moving++
		}
	}
	return float32(moving) >= 0.5*float32(n)
}
