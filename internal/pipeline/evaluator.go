package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// historyTailLength is how many trailing positions a record carries
const historyTailLength = 10

// EvaluatorSettings controls violation gating
type EvaluatorSettings struct {
	CrossingCheckWindow  int
	MaxJumpsForViolation int
	Dedup                bool
}

// Evaluation is the outcome of one evaluator pass
type Evaluation struct {
	Ran          bool
	Records      []ViolationRecord
	ViolatingIDs []int
	Violation    map[int]bool // per-track is_violation for this frame
}

// Evaluator decides per track whether the current frame is a violation
type Evaluator struct {
	settings EvaluatorSettings
	newID    func() string
}

func NewEvaluator(settings EvaluatorSettings) *Evaluator {
	return &Evaluator{settings: settings, newID: uuid.NewString}
}

// FindCrossing scans the newest window samples of history for the most
// recent transition prev < lineY <= curr. FramesAgo is 1 for the newest pair.
func FindCrossing(history []float32, lineY float32, window int) (CrossingInfo, bool) {
	size := min(window, len(history))
	n := len(history)
	for i := 1; i < size; i++ {
		prev := history[n-1-i]
		curr := history[n-i]
		if prev < lineY && lineY <= curr {
			return CrossingInfo{FramesAgo: i, PrevY: prev, CurrY: curr, WindowChecked: size}, true
		}
	}
	return CrossingInfo{WindowChecked: size}, false
}

// Evaluate runs the violation gate over every track. It only runs when a
// traffic light was seen this frame, a line exists and there are tracks;
// otherwise Ran is false. Red latches are cleared on any non-red frame
// before that check.
func (e *Evaluator) Evaluate(state *State, line *ViolationLine, lightPresent bool, frame *FrameData) Evaluation {
	ev := Evaluation{Violation: map[int]bool{}}
	state.clearRedLatches()
	if !lightPresent || line == nil || len(state.Tracks) == 0 {
		return ev
	}
	ev.Ran = true

	isRed := state.Light.Color == LightRed
	for _, id := range state.SortedTrackIDs() {
		t := state.Tracks[id]

		crossing, found := FindCrossing(t.positions.Values(), line.Y, e.settings.CrossingCheckWindow)
		active := found && t.IsMoving && isRed
		trusted := active && t.SuspiciousJumps <= e.settings.MaxJumpsForViolation && !t.Reassigned

		if trusted {
			t.CrossedDuringRed = true
		}
		ev.Violation[id] = t.CrossedDuringRed && isRed
		t.violations.Push(active)

		if !trusted {
			continue
		}
		ev.ViolatingIDs = append(ev.ViolatingIDs, id)
		if e.settings.Dedup && t.reported {
			continue
		}
		t.reported = true
		ev.Records = append(ev.Records, e.record(t, line, crossing, state.Light, frame))
	}
	return ev
}

func (e *Evaluator) record(t *Track, line *ViolationLine, crossing CrossingInfo, light LightState, frame *FrameData) ViolationRecord {
	ts := frame.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return ViolationRecord{
		ID:              e.newID(),
		SourceID:        frame.SourceID,
		TrackID:         t.ID,
		Class:           t.Class,
		BBox:            t.BBox,
		Type:            ViolationLineCrossing,
		Timestamp:       ts,
		FrameSeq:        frame.Seq,
		LineY:           line.Y,
		Crossing:        crossing,
		Light:           light,
		PositionHistory: t.positions.Tail(historyTailLength),
	}
}
