package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssociateDetections(t *testing.T) {
	tracks := []TrackStatus{
		{ID: 1, BBox: BBox{X1: 100, Y1: 100, X2: 200, Y2: 200}, IsMoving: true},
		{ID: 2, BBox: BBox{X1: 550, Y1: 10, X2: 650, Y2: 110}},
		{ID: 3, BBox: BBox{X1: 900, Y1: 400, X2: 1000, Y2: 500}, IsMoving: true, IsViolation: true},
	}
	detections := []Detection{
		{Class: ClassCar, BBox: BBox{X1: 100, Y1: 100, X2: 200, Y2: 200}},  // exact overlap with 1
		{Class: ClassCar, BBox: BBox{X1: 500, Y1: 0, X2: 600, Y2: 100}},    // weak IoU, close center to 2
		{Class: ClassCar, BBox: BBox{X1: 905, Y1: 400, X2: 1005, Y2: 500}}, // strong IoU with 3
		{Class: ClassCar, BBox: BBox{X1: 20, Y1: 600, X2: 80, Y2: 700}},    // nothing nearby
	}

	assoc := AssociateDetections(detections, tracks)
	require.Len(t, assoc, 4)

	assert.True(t, assoc[0].Matched)
	assert.Equal(t, 1, assoc[0].TrackID)
	assert.InDelta(t, 1.0, assoc[0].IoU, 1e-6)
	assert.Equal(t, StyleMoving, assoc[0].Style)

	assert.True(t, assoc[1].Matched)
	assert.Equal(t, 2, assoc[1].TrackID)
	assert.Less(t, assoc[1].IoU, float32(assocStrongIoU))
	assert.Less(t, assoc[1].Distance, float32(assocMaxDistance))
	assert.Equal(t, StyleStopped, assoc[1].Style)

	assert.Equal(t, 3, assoc[2].TrackID)
	assert.Equal(t, StyleViolating, assoc[2].Style)

	assert.False(t, assoc[3].Matched)
	assert.Equal(t, StyleUntracked, assoc[3].Style)
	assert.Equal(t, 3, assoc[3].DetectionIndex)
}

func TestAssociateDetectionsWeakAndFar(t *testing.T) {
	// IoU ~0.18 but centers 70px apart
	tracks := []TrackStatus{{ID: 4, BBox: BBox{X1: 70, Y1: 0, X2: 170, Y2: 100}}}
	detections := []Detection{{Class: ClassCar, BBox: BBox{X1: 0, Y1: 0, X2: 100, Y2: 100}}}

	assoc := AssociateDetections(detections, tracks)
	assert.False(t, assoc[0].Matched)
}

func TestAssociateDetectionsPicksBestIoU(t *testing.T) {
	tracks := []TrackStatus{
		{ID: 1, BBox: BBox{X1: 140, Y1: 100, X2: 240, Y2: 200}},
		{ID: 2, BBox: BBox{X1: 110, Y1: 100, X2: 210, Y2: 200}},
	}
	detections := []Detection{{Class: ClassCar, BBox: BBox{X1: 100, Y1: 100, X2: 200, Y2: 200}}}

	assoc := AssociateDetections(detections, tracks)
	assert.Equal(t, 2, assoc[0].TrackID)
}

func TestAssociateDetectionsNoTracks(t *testing.T) {
	assoc := AssociateDetections([]Detection{{Class: ClassBus, BBox: BBox{X1: 1, Y1: 1, X2: 5, Y2: 5}}}, nil)
	require.Len(t, assoc, 1)
	assert.Equal(t, StyleUntracked, assoc[0].Style)
}
