package pipeline

import (
	"context"
	"sync"
	"time"
)

func trackedCar(id int, bottom float32) Detection {
	tid := id
	return Detection{
		Class:      ClassCar,
		Confidence: 0.9,
		BBox:       BBox{X1: 100, Y1: bottom - 80, X2: 200, Y2: bottom},
		TrackID:    &tid,
	}
}

func trafficLight(color LightColor, conf float32) Detection {
	return Detection{
		Class:      ClassTrafficLight,
		Confidence: 0.8,
		BBox:       BBox{X1: 600, Y1: 40, X2: 620, Y2: 90},
		Light:      &LightReading{Color: color, Confidence: conf},
	}
}

func testFrame(seq uint64) *FrameData {
	return &FrameData{
		SourceID:  "test",
		Seq:       seq,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(seq) * 100 * time.Millisecond),
		Width:     1280,
		Height:    720,
	}
}

// scriptedDetector returns a fixed detection list per frame sequence
type scriptedDetector struct {
	mu     sync.Mutex
	frames map[uint64][]Detection
	errs   map[uint64]error
	calls  int
}

func (d *scriptedDetector) Name() string    { return "scripted" }
func (d *scriptedDetector) IsHealthy() bool { return true }
func (d *scriptedDetector) Close() error    { return nil }
func (d *scriptedDetector) Detect(ctx context.Context, frame *FrameData) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if err := d.errs[frame.Seq]; err != nil {
		return nil, err
	}
	return append([]Detection(nil), d.frames[frame.Seq]...), nil
}

// fixedLocator always reports the same line
type fixedLocator struct {
	y     float32
	err   error
	calls int
}

func (l *fixedLocator) Locate(ctx context.Context, frame *FrameData, light LightAnchor) (*ViolationLine, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return &ViolationLine{Y: l.y, Method: "fixed"}, nil
}

type fixedClassifier struct {
	reading LightReading
	err     error
	calls   int
}

func (c *fixedClassifier) Classify(ctx context.Context, frame *FrameData, box BBox) (LightReading, error) {
	c.calls++
	return c.reading, c.err
}
