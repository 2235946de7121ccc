package pipeline

import "redlight/internal/config"

// LightResolver turns the traffic light readings of one frame into the
// scene-wide light state held in State.
type LightResolver struct {
	policy        string
	redHoldFrames int
}

func NewLightResolver(policy string, redHoldFrames int) *LightResolver {
	if policy == "" {
		policy = config.LightPolicyDemote
	}
	return &LightResolver{policy: policy, redHoldFrames: redHoldFrames}
}

// Resolve updates state.Light from the frame's detections and reports
// whether any traffic light was present.
//
// Any red reading wins, taking the confidence of the most confident red.
// With no lights in frame the previous state is kept. When lights are seen
// but none is red, the sticky policy keeps the previous state while the
// demote policy adopts the most confident known color once red has been
// absent for more than redHoldFrames consecutive frames.
func (r *LightResolver) Resolve(state *State, detections []Detection) bool {
	var (
		present   bool
		bestRed   *LightReading
		bestKnown *LightReading
	)
	for i := range detections {
		d := &detections[i]
		if !IsTrafficLight(d.Class) {
			continue
		}
		present = true
		reading := LightReading{Color: LightUnknown}
		if d.Light != nil {
			reading = *d.Light
		}
		switch reading.Color {
		case LightRed:
			if bestRed == nil || reading.Confidence > bestRed.Confidence {
				rr := reading
				bestRed = &rr
			}
		case LightYellow, LightGreen:
			if bestKnown == nil || reading.Confidence > bestKnown.Confidence {
				kk := reading
				bestKnown = &kk
			}
		}
	}

	if !present {
		return false
	}

	if bestRed != nil {
		state.Light = LightState{Color: LightRed, Confidence: bestRed.Confidence}
		state.nonRedStreak = 0
		return true
	}

	if r.policy == config.LightPolicySticky || bestKnown == nil {
		return true
	}

	if state.Light.Color == LightRed {
		state.nonRedStreak++
		if state.nonRedStreak <= r.redHoldFrames {
			return true
		}
	}
	state.nonRedStreak = 0
	state.Light = LightState{Color: bestKnown.Color, Confidence: bestKnown.Confidence}
	return true
}
