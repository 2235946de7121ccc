package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/cyclopcam/logs"

	"redlight/internal/logging"
	"redlight/internal/timeutil"
)

// Collaborators are the external components a Processor calls. Any of
// them may be nil: a missing detector yields no detections, a missing
// tracker means detector-supplied track IDs are used as is, a missing
// classifier leaves unclassified lights unknown and a missing locator
// yields no violation line.
type Collaborators struct {
	Detector   Detector
	Tracker    Tracker
	Classifier LightClassifier
	Locator    LineLocator
}

// Processor runs the per-frame stages against its State.
// At most one Process call runs at a time.
type Processor struct {
	mu sync.Mutex

	settings  Settings
	collab    Collaborators
	state     *State
	resolver  *LightResolver
	machine   *TrackMachine
	evaluator *Evaluator
	stats     *statsCollector
	clock     timeutil.Clock
	log       logs.Log

	// detectionPaused skips every stage after capture; frames keep flowing
	detectionPaused bool

	viewMu   sync.RWMutex
	lastView *FrameResult
}

func NewProcessor(settings Settings, collab Collaborators, clock timeutil.Clock, log logs.Log) *Processor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	p := &Processor{
		collab: collab,
		state:  NewState(),
		stats:  newStatsCollector(clock),
		clock:  clock,
		log:    logging.Component(log, "Processor"),
	}
	p.applySettings(settings)
	return p
}

func (p *Processor) applySettings(s Settings) {
	p.settings = s
	p.resolver = NewLightResolver(s.LightPolicy, s.RedHoldFrames)
	p.machine = NewTrackMachine(s.Track, p.log)
	p.evaluator = NewEvaluator(s.Evaluator)
}

// UpdateSettings swaps the tuning between frames. Tracks are cleared when
// a history capacity changes since existing buffers were sized for the old
// values.
func (p *Processor) UpdateSettings(s Settings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	resize := s.Track.PositionHistorySize != p.settings.Track.PositionHistorySize ||
		s.Track.MovementWindow != p.settings.Track.MovementWindow ||
		s.Track.ViolationHistorySize != p.settings.Track.ViolationHistorySize
	p.applySettings(s)
	if resize {
		p.state.Tracks = make(map[int]*Track)
		p.log.Infof("History sizes changed, cleared all tracks")
	}
}

// Settings returns the active settings
func (p *Processor) Settings() Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

// Reset clears the light state, every track and the tracker's IDs
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = NewState()
	p.stats.reset()
	if p.collab.Tracker != nil {
		p.collab.Tracker.Reset()
	}
	p.viewMu.Lock()
	p.lastView = nil
	p.viewMu.Unlock()
	p.log.Infof("State reset")
}

// SetDetectionEnabled pauses or resumes inference. While paused, frames
// still produce results carrying the last known light and tracks, but the
// detector, tracker and evaluator are not called and no track state
// changes.
func (p *Processor) SetDetectionEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.detectionPaused == !enabled {
		return
	}
	p.detectionPaused = !enabled
	if enabled {
		p.log.Infof("Detection resumed")
	} else {
		p.log.Infof("Detection paused")
	}
}

// DetectionEnabled reports whether frames are run through detection
func (p *Processor) DetectionEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.detectionPaused
}

// LastResult returns the most recently completed frame result, or nil
func (p *Processor) LastResult() *FrameResult {
	p.viewMu.RLock()
	defer p.viewMu.RUnlock()
	return p.lastView
}

// Process runs one frame through every stage. Collaborator failures
// degrade the frame instead of failing it.
func (p *Processor) Process(ctx context.Context, frame *FrameData) *FrameResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := &FrameResult{
		SourceID:  frame.SourceID,
		Seq:       frame.Seq,
		Timestamp: frame.Timestamp,
	}

	if p.detectionPaused {
		result.DetectionPaused = true
		result.Light = p.state.Light
		p.finish(result, Evaluation{}, 0)
		return result
	}

	// Detect
	start := p.clock.Now()
	var raw []Detection
	if p.collab.Detector != nil {
		var err error
		raw, err = p.collab.Detector.Detect(ctx, frame)
		if err != nil {
			p.log.Warnf("Detector %s failed on frame %d: %v", p.collab.Detector.Name(), frame.Seq, err)
			raw = nil
		}
	}
	detectionTime := p.clock.Since(start)

	// Normalize
	detections, dropped := NormalizeDetections(raw)
	if dropped > 0 {
		p.log.Debugf("Dropped %d malformed detections on frame %d", dropped, frame.Seq)
	}

	// Classify lights the detector left uncolored
	p.classifyLights(ctx, frame, detections)
	result.Detections = detections

	// Resolve light
	result.LightDetected = p.resolver.Resolve(p.state, detections)
	result.Light = p.state.Light
	p.state.clearRedLatches()

	// Locate line
	if result.LightDetected && p.collab.Locator != nil {
		anchor := lightAnchor(detections)
		line, err := p.collab.Locator.Locate(ctx, frame, anchor)
		if err != nil {
			p.log.Warnf("Line locator failed on frame %d: %v", frame.Seq, err)
			line = nil
		}
		result.Line = line
	}

	// Track
	result.Vehicles = p.filterVehicles(frame, detections)
	tracked, trackOK := p.track(ctx, frame, result.Vehicles)
	if trackOK {
		if removed := p.machine.Update(p.state, tracked, frame.Seq); len(removed) > 0 {
			p.log.Debugf("Removed tracks %v", removed)
		}
	}

	// Evaluate
	var ev Evaluation
	if trackOK {
		ev = p.evaluator.Evaluate(p.state, result.Line, result.LightDetected, frame)
	}
	result.Evaluated = ev.Ran
	result.Violations = ev.Records
	result.ViolatingIDs = ev.ViolatingIDs
	for _, rec := range ev.Records {
		p.log.Infof("Violation: track %d (%s) crossed line y=%.0f on red, %d frames ago (%.0f -> %.0f)",
			rec.TrackID, rec.Class, rec.LineY, rec.Crossing.FramesAgo, rec.Crossing.PrevY, rec.Crossing.CurrY)
	}

	p.finish(result, ev, detectionTime)
	return result
}

// finish fills in track statuses and stats and publishes the result as
// the latest view
func (p *Processor) finish(result *FrameResult, ev Evaluation, detectionTime time.Duration) {
	result.Tracks = make([]TrackStatus, 0, len(p.state.Tracks))
	for _, id := range p.state.SortedTrackIDs() {
		result.Tracks = append(result.Tracks, p.state.Tracks[id].Status(ev.Violation[id]))
	}

	result.Stats = p.frameStats(result, detectionTime)

	p.viewMu.Lock()
	p.lastView = result
	p.viewMu.Unlock()
}

func (p *Processor) classifyLights(ctx context.Context, frame *FrameData, detections []Detection) {
	for i := range detections {
		d := &detections[i]
		if !IsTrafficLight(d.Class) || d.Light != nil {
			continue
		}
		reading := LightReading{Color: LightUnknown}
		if p.collab.Classifier != nil {
			r, err := p.collab.Classifier.Classify(ctx, frame, d.BBox)
			if err != nil {
				p.log.Warnf("Light classifier failed on frame %d: %v", frame.Seq, err)
			} else {
				reading = r
			}
		}
		d.Light = &reading
	}
}

// lightAnchor picks the most confident traffic light, preferring red ones
func lightAnchor(detections []Detection) LightAnchor {
	best := -1
	bestRed := false
	for i, d := range detections {
		if !IsTrafficLight(d.Class) {
			continue
		}
		isRed := d.Light != nil && d.Light.Color == LightRed
		if best == -1 || (isRed && !bestRed) || (isRed == bestRed && d.Confidence > detections[best].Confidence) {
			best, bestRed = i, isRed
		}
	}
	if best == -1 {
		return LightAnchor{}
	}
	b := detections[best].BBox
	return LightAnchor{Center: b.Center(), BBox: b}
}

// filterVehicles keeps confident vehicle boxes of plausible size
func (p *Processor) filterVehicles(frame *FrameData, detections []Detection) []Detection {
	w, h := frame.Size()
	frameArea := float32(w * h)
	out := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if !IsVehicle(d.Class) || d.Confidence <= p.settings.MinVehicleConfidence {
			continue
		}
		if frameArea > 0 {
			ratio := d.BBox.Area() / frameArea
			if ratio < p.settings.MinVehicleAreaRatio || ratio > p.settings.MaxVehicleAreaRatio {
				continue
			}
		}
		out = append(out, d)
	}
	return out
}

// track returns the tracker's output. ok is false when the tracker failed,
// in which case track state is left untouched for this frame.
func (p *Processor) track(ctx context.Context, frame *FrameData, vehicles []Detection) ([]Detection, bool) {
	if p.collab.Tracker == nil {
		return vehicles, true
	}
	tracked, err := p.collab.Tracker.UpdateTracking(ctx, frame, vehicles)
	if err != nil {
		p.log.Warnf("Tracker failed on frame %d: %v", frame.Seq, err)
		return nil, false
	}
	return tracked, true
}

func (p *Processor) frameStats(result *FrameResult, detectionTime time.Duration) FrameStats {
	s := FrameStats{
		DetectionMs: float32(detectionTime.Seconds() * 1000),
		Light:       result.Light,
		Tracked:     len(result.Tracks),
		Violating:   len(result.ViolatingIDs),
	}
	for _, d := range result.Detections {
		switch d.Class {
		case ClassCar, ClassVan:
			s.Cars++
		case ClassTruck:
			s.Trucks++
		case ClassBus:
			s.Buses++
		case ClassMotorcycle:
			s.Motorcycles++
		case ClassBicycle:
			s.Bicycles++
		case ClassPerson:
			s.Pedestrians++
		case ClassTrafficLight:
			s.TrafficLights++
		}
	}
	for _, t := range result.Tracks {
		if t.IsMoving {
			s.Moving++
		}
	}
	s.FPS, s.MeanDetectionMs = p.stats.observe(detectionTime, !result.DetectionPaused, len(result.Violations))
	s.FramesProcessed = p.stats.frames
	s.ViolationsTotal = p.stats.violations
	return s
}
