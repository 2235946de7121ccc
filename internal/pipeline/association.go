package pipeline

import (
	flatbush "github.com/bmharper/flatbush-go"
	"github.com/chewxy/math32"
)

// Association thresholds for matching displayed boxes back to tracks
const (
	assocStrongIoU    = 0.3
	assocWeakIoU      = 0.1
	assocMaxDistance  = 60
	assocSearchBuffer = assocMaxDistance
)

// BoxStyle is the presentation category of a displayed detection
type BoxStyle string

const (
	StyleViolating BoxStyle = "violating" // red
	StyleMoving    BoxStyle = "moving"    // orange
	StyleStopped   BoxStyle = "stopped"   // green
	StyleUntracked BoxStyle = "untracked"
)

// Association links one displayed detection to a track, if any matched
type Association struct {
	DetectionIndex int      `json:"detection_index"`
	TrackID        int      `json:"track_id,omitempty"`
	Matched        bool     `json:"matched"`
	IoU            float32  `json:"iou"`
	Distance       float32  `json:"distance"`
	Style          BoxStyle `json:"style"`
}

// AssociateDetections matches each detection to the track status with the
// best IoU, accepting IoU > 0.3 outright or center distance < 60px with
// IoU > 0.1. Ties on IoU go to the closer center. The result is for
// presentation only and never feeds back into track state.
func AssociateDetections(detections []Detection, tracks []TrackStatus) []Association {
	out := make([]Association, len(detections))
	for i := range out {
		out[i] = Association{DetectionIndex: i, Style: StyleUntracked}
	}
	if len(tracks) == 0 {
		return out
	}

	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(tracks))
	for _, t := range tracks {
		fb.Add(int32(math32.Floor(t.BBox.X1)), int32(math32.Floor(t.BBox.Y1)),
			int32(math32.Ceil(t.BBox.X2)), int32(math32.Ceil(t.BBox.Y2)))
	}
	fb.Finish()

	var nearby []int
	for i, d := range detections {
		// Any track whose center is within the distance limit intersects
		// the detection box grown by that limit.
		nearby = fb.SearchFast(
			int32(math32.Floor(d.BBox.X1))-assocSearchBuffer,
			int32(math32.Floor(d.BBox.Y1))-assocSearchBuffer,
			int32(math32.Ceil(d.BBox.X2))+assocSearchBuffer,
			int32(math32.Ceil(d.BBox.Y2))+assocSearchBuffer,
			nearby[:0])

		best := -1
		var bestIoU, bestDist float32
		for _, j := range nearby {
			iou := d.BBox.IoU(tracks[j].BBox)
			dist := d.BBox.CenterDistance(tracks[j].BBox)
			if !(iou > assocStrongIoU || (dist < assocMaxDistance && iou > assocWeakIoU)) {
				continue
			}
			if best == -1 || iou > bestIoU || (iou == bestIoU && dist < bestDist) {
				best, bestIoU, bestDist = j, iou, dist
			}
		}
		if best == -1 {
			continue
		}

		t := tracks[best]
		a := &out[i]
		a.Matched = true
		a.TrackID = t.ID
		a.IoU = bestIoU
		a.Distance = bestDist
		switch {
		case t.IsViolation:
			a.Style = StyleViolating
		case t.IsMoving:
			a.Style = StyleMoving
		default:
			a.Style = StyleStopped
		}
	}
	return out
}
