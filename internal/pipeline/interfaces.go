package pipeline

import (
	"context"
)

// Detector is the unified interface for object detection backends
type Detector interface {
	// Name returns the detector identifier (e.g., "http", "grpc")
	Name() string

	// IsHealthy returns true if the detector is operational
	IsHealthy() bool

	// Detect runs detection on a frame. Labels may use any vocabulary;
	// they are normalized by the pipeline.
	Detect(ctx context.Context, frame *FrameData) ([]Detection, error)

	// Close releases detector resources
	Close() error
}

// Tracker assigns stable track IDs to vehicle detections.
// The IDs it returns are authoritative; the pipeline never re-derives them.
type Tracker interface {
	// UpdateTracking returns the tracked subset of detections with TrackID set
	UpdateTracking(ctx context.Context, frame *FrameData, detections []Detection) ([]Detection, error)

	// Reset forgets every track. IDs may be reused afterwards.
	Reset()
}

// LightClassifier reads the color of one traffic light crop
type LightClassifier interface {
	Classify(ctx context.Context, frame *FrameData, box BBox) (LightReading, error)
}

// LineLocator derives the violation line from scene geometry near a traffic light.
// A nil line with a nil error means nothing was found.
type LineLocator interface {
	Locate(ctx context.Context, frame *FrameData, light LightAnchor) (*ViolationLine, error)
}

// FrameAnnotator renders the presentation overlay for a processed frame
type FrameAnnotator interface {
	Annotate(frame *FrameData, result *FrameResult) ([]byte, error)
}

// VideoSource produces frames for a single pipeline
type VideoSource interface {
	// Open acquires the underlying stream. Called again after a failure.
	Open(ctx context.Context) error

	// ReadFrame blocks for the next frame. Returns ErrEndOfStream when a
	// finite source is exhausted.
	ReadFrame(ctx context.Context) (*FrameData, error)

	// FPS is the nominal frame rate, 0 if unknown
	FPS() float64

	// Live is false for files, which are paced to FPS and report progress
	Live() bool

	// Progress returns the read position for seekable sources
	Progress() (Progress, bool)

	Close() error
}

// ResultHandler receives processed frames
type ResultHandler interface {
	// OnFrameResult is called once per processed frame, in frame order
	OnFrameResult(result *FrameResult)
}

// StatusHandler receives pipeline state changes
type StatusHandler interface {
	OnStatus(event StatusEvent)
}
