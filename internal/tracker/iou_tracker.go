// Package tracker assigns stable IDs to vehicle boxes across frames when the
// detection service does not track on its own.
package tracker

import (
	"context"
	"sort"
	"sync"

	"github.com/bmharper/flatbush-go"
	"github.com/chewxy/math32"
	"github.com/cyclopcam/logs"

	"redlight/internal/logging"
	"redlight/internal/pipeline"
)

// Config controls association and expiry
type Config struct {
	IoUThreshold float32 // minimum overlap for a direct match
	MaxAge       int     // frames a lost track keeps its ID
}

type trackedObject struct {
	id       int
	class    string
	box      pipeline.BBox
	lastSeen uint64
	hits     int
}

// IoUTracker matches each frame's boxes to existing tracks by overlap, falling
// back to center distance for fast movers whose boxes no longer overlap.
type IoUTracker struct {
	cfg Config
	log logs.Log

	mu      sync.Mutex
	tracked []*trackedObject
	nextID  int
	frame   uint64
}

func NewIoUTracker(cfg Config, log logs.Log) *IoUTracker {
	if cfg.IoUThreshold <= 0 {
		cfg.IoUThreshold = 0.3
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30
	}
	return &IoUTracker{cfg: cfg, log: logging.Component(log, "Tracker"), nextID: 1}
}

// UpdateTracking returns a copy of detections with TrackID set on each
func (t *IoUTracker) UpdateTracking(ctx context.Context, frame *pipeline.FrameData, detections []pipeline.Detection) ([]pipeline.Detection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frame++

	frameWidth, _ := frame.Size()

	// Spatial index over the boxes we are currently tracking
	var fb *flatbush.Flatbush[int32]
	if len(t.tracked) > 0 {
		fb = flatbush.NewFlatbush[int32]()
		fb.Reserve(len(t.tracked))
		for _, obj := range t.tracked {
			fb.Add(int32(math32.Floor(obj.box.X1)), int32(math32.Floor(obj.box.Y1)),
				int32(math32.Ceil(obj.box.X2)), int32(math32.Ceil(obj.box.Y2)))
		}
		fb.Finish()
	}
	minSearchBuffer := int32(0.05 * float32(frameWidth))

	// Most confident detections pick first
	order := make([]int, len(detections))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return detections[order[a]].Confidence > detections[order[b]].Confidence
	})

	newToTracked := make([]int, len(detections))
	for i := range newToTracked {
		newToTracked[i] = -1
	}
	trackedHasMatch := make([]bool, len(t.tracked))

	var nearby []int
	for _, i := range order {
		if fb == nil {
			break
		}
		d := &detections[i]
		bufX := max(minSearchBuffer, int32(0.8*d.BBox.Width()))
		bufY := max(minSearchBuffer, int32(0.8*d.BBox.Height()))
		nearby = fb.SearchFast(
			int32(math32.Floor(d.BBox.X1))-bufX, int32(math32.Floor(d.BBox.Y1))-bufY,
			int32(math32.Ceil(d.BBox.X2))+bufX, int32(math32.Ceil(d.BBox.Y2))+bufY,
			nearby[:0])

		bestJ := -1
		bestIoU := float32(0)
		bestDistance := float32(9e20)
		maxDistance := math32.Max(d.BBox.Width(), d.BBox.Height())
		for _, j := range nearby {
			obj := t.tracked[j]
			if trackedHasMatch[j] || obj.class != d.Class {
				continue
			}
			iou := d.BBox.IoU(obj.box)
			distance := d.BBox.CenterDistance(obj.box)
			if iou >= t.cfg.IoUThreshold && iou > bestIoU {
				bestIoU = iou
				bestJ = j
			} else if bestIoU == 0 && distance < maxDistance && distance < bestDistance {
				bestDistance = distance
				bestJ = j
			}
		}
		if bestJ != -1 {
			trackedHasMatch[bestJ] = true
			newToTracked[i] = bestJ
		}
	}

	out := make([]pipeline.Detection, len(detections))
	for i, d := range detections {
		j := newToTracked[i]
		if j == -1 {
			obj := &trackedObject{id: t.nextID, class: d.Class}
			t.nextID++
			t.tracked = append(t.tracked, obj)
			j = len(t.tracked) - 1
			t.log.Debugf("New %s track %d at %.0f,%.0f", d.Class, obj.id, d.BBox.Center().X, d.BBox.Center().Y)
		}
		obj := t.tracked[j]
		obj.box = d.BBox
		obj.lastSeen = t.frame
		obj.hits++

		id := obj.id
		d.TrackID = &id
		out[i] = d
	}

	t.expire()
	return out, nil
}

// expire drops tracks that have not been seen for more than MaxAge frames
func (t *IoUTracker) expire() {
	kept := t.tracked[:0]
	for _, obj := range t.tracked {
		if t.frame-obj.lastSeen <= uint64(t.cfg.MaxAge) {
			kept = append(kept, obj)
		}
	}
	clear(t.tracked[len(kept):])
	t.tracked = kept
}

// Reset forgets every track and restarts IDs at 1
func (t *IoUTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracked = nil
	t.nextID = 1
	t.frame = 0
}

// Len returns the number of live tracks, including recently lost ones
func (t *IoUTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracked)
}

var _ pipeline.Tracker = (*IoUTracker)(nil)
