// Package detection holds the clients for external object detection services.
package detection

import (
	"errors"
	"time"

	"redlight/internal/pipeline"
)

const healthCacheTTL = 30 * time.Second

// ErrServiceUnavailable is returned while the detection service fails its health check
var ErrServiceUnavailable = errors.New("detection service unavailable")

// Detection is one object as reported by a detection service
type Detection struct {
	Class           string    `json:"class"`
	ClassID         int       `json:"class_id"`
	Confidence      float32   `json:"confidence"`
	BBox            []float32 `json:"bbox"` // [x1, y1, x2, y2]
	TrackID         *int      `json:"track_id,omitempty"`
	LightColor      string    `json:"light_color,omitempty"`
	LightConfidence float32   `json:"light_confidence,omitempty"`
}

// DetectionResult represents the full detection response
type DetectionResult struct {
	Detections      []Detection `json:"detections"`
	Count           int         `json:"count"`
	InferenceTimeMs float32     `json:"inference_time_ms"`
	Device          string      `json:"device"`
}

// toPipelineDetections converts service output, skipping entries without a
// four-element box. Labels are left for the pipeline to normalize.
func toPipelineDetections(in []Detection) []pipeline.Detection {
	out := make([]pipeline.Detection, 0, len(in))
	for _, d := range in {
		if len(d.BBox) != 4 {
			continue
		}
		pd := pipeline.Detection{
			Class:      d.Class,
			ClassID:    d.ClassID,
			Confidence: d.Confidence,
			BBox:       pipeline.BBox{X1: d.BBox[0], Y1: d.BBox[1], X2: d.BBox[2], Y2: d.BBox[3]},
		}
		if d.TrackID != nil {
			id := *d.TrackID
			pd.TrackID = &id
		}
		if d.LightColor != "" {
			pd.Light = &pipeline.LightReading{Color: pipeline.ParseLightColor(d.LightColor), Confidence: d.LightConfidence}
		}
		out = append(out, pd)
	}
	return out
}

func fromPipelineDetections(in []pipeline.Detection) []Detection {
	out := make([]Detection, 0, len(in))
	for _, d := range in {
		out = append(out, Detection{
			Class:      d.Class,
			ClassID:    d.ClassID,
			Confidence: d.Confidence,
			BBox:       []float32{d.BBox.X1, d.BBox.Y1, d.BBox.X2, d.BBox.Y2},
			TrackID:    d.TrackID,
		})
	}
	return out
}
