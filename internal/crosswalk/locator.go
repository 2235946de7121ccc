// Package crosswalk places the violation line for a frame from the scene
// geometry around the traffic light.
package crosswalk

import (
	"context"
	"errors"

	"github.com/chewxy/math32"

	"redlight/internal/pipeline"
)

// Methods reported in ViolationLine.Method
const (
	MethodCrosswalk      = "crosswalk"
	MethodStopLine       = "stop_line"
	MethodLightHeuristic = "light_heuristic"
	MethodFixed          = "fixed"
	MethodDefault        = "default"
)

// defaultLineFraction places the line when nothing better is known
const defaultLineFraction = 0.75

var errUnknownSize = errors.New("frame size unknown")

// LightHeuristicY estimates the stop line from the signal head: five light
// heights below it, at most 30% of the frame, never within 20px of the bottom.
func LightHeuristicY(light pipeline.BBox, frameHeight int) (float32, bool) {
	if !light.Valid() || frameHeight <= 0 {
		return 0, false
	}
	h := float32(frameHeight)
	distance := math32.Min(5*light.Height(), 0.3*h)
	return math32.Min(light.Y2+distance, h-20), true
}

// fallbackLine applies the light heuristic, then the fixed fraction of the frame
func fallbackLine(frameHeight int, light pipeline.LightAnchor) *pipeline.ViolationLine {
	if y, ok := LightHeuristicY(light.BBox, frameHeight); ok {
		return &pipeline.ViolationLine{Y: y, Method: MethodLightHeuristic}
	}
	return &pipeline.ViolationLine{Y: defaultLineFraction * float32(frameHeight), Method: MethodDefault}
}

// StaticLocator needs no image analysis. A positive FixedY or Fraction pins
// the line; otherwise it is estimated from the traffic light box.
type StaticLocator struct {
	FixedY   float32
	Fraction float32 // of frame height
}

func (l *StaticLocator) Locate(ctx context.Context, frame *pipeline.FrameData, light pipeline.LightAnchor) (*pipeline.ViolationLine, error) {
	if l.FixedY > 0 {
		return &pipeline.ViolationLine{Y: l.FixedY, Method: MethodFixed}, nil
	}
	_, h := frame.Size()
	if h <= 0 {
		return nil, errUnknownSize
	}
	if l.Fraction > 0 {
		return &pipeline.ViolationLine{Y: l.Fraction * float32(h), Method: MethodFixed}, nil
	}
	return fallbackLine(h, light), nil
}

var _ pipeline.LineLocator = (*StaticLocator)(nil)
