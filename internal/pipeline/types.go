package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"sync"
	"time"

	"github.com/chewxy/math32"
)

// FrameData represents a captured video frame
type FrameData struct {
	SourceID  string    // Source identifier
	Data      []byte    // JPEG frame data
	Seq       uint64    // Frame sequence number
	Timestamp time.Time // Capture timestamp
	Width     int       // Frame width (if known)
	Height    int       // Frame height (if known)

	decodeOnce sync.Once
	img        image.Image
	decodeErr  error
}

// NewImageFrame wraps an already decoded image, mostly for tests and replay tools
func NewImageFrame(sourceID string, seq uint64, ts time.Time, img image.Image) *FrameData {
	b := img.Bounds()
	f := &FrameData{
		SourceID:  sourceID,
		Seq:       seq,
		Timestamp: ts,
		Width:     b.Dx(),
		Height:    b.Dy(),
		img:       img,
	}
	f.decodeOnce.Do(func() {})
	return f
}

// Image decodes the JPEG payload on first use and caches the result
func (f *FrameData) Image() (image.Image, error) {
	f.decodeOnce.Do(func() {
		if len(f.Data) == 0 {
			f.decodeErr = errors.New("frame has no image data")
			return
		}
		img, err := jpeg.Decode(bytes.NewReader(f.Data))
		if err != nil {
			f.decodeErr = fmt.Errorf("decode frame %d: %w", f.Seq, err)
			return
		}
		f.img = img
		b := img.Bounds()
		if f.Width == 0 || f.Height == 0 {
			f.Width, f.Height = b.Dx(), b.Dy()
		}
	})
	return f.img, f.decodeErr
}

// Size returns the frame dimensions, reading only the JPEG header when
// they are not already known
func (f *FrameData) Size() (int, int) {
	if (f.Width == 0 || f.Height == 0) && len(f.Data) > 0 {
		if cfg, err := jpeg.DecodeConfig(bytes.NewReader(f.Data)); err == nil {
			f.Width, f.Height = cfg.Width, cfg.Height
		}
	}
	return f.Width, f.Height
}

// Point is a pixel-space position
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// BBox represents a bounding box in pixel coordinates
type BBox struct {
	X1 float32 `json:"x1"` // Left
	Y1 float32 `json:"y1"` // Top
	X2 float32 `json:"x2"` // Right
	Y2 float32 `json:"y2"` // Bottom
}

// Valid reports whether the box has positive extent and finite coordinates
func (b BBox) Valid() bool {
	for _, v := range [4]float32{b.X1, b.Y1, b.X2, b.Y2} {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

func (b BBox) Width() float32  { return b.X2 - b.X1 }
func (b BBox) Height() float32 { return b.Y2 - b.Y1 }
func (b BBox) Area() float32   { return b.Width() * b.Height() }

// BottomY is the y of the bottom edge, the coordinate used for line crossing
func (b BBox) BottomY() float32 { return b.Y2 }

func (b BBox) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// IoU returns intersection over union of two boxes
func (b BBox) IoU(o BBox) float32 {
	ix1 := math32.Max(b.X1, o.X1)
	iy1 := math32.Max(b.Y1, o.Y1)
	ix2 := math32.Min(b.X2, o.X2)
	iy2 := math32.Min(b.Y2, o.Y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := (ix2 - ix1) * (iy2 - iy1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// CenterDistance returns the euclidean distance between box centers
func (b BBox) CenterDistance(o BBox) float32 {
	c1, c2 := b.Center(), o.Center()
	dx, dy := c1.X-c2.X, c1.Y-c2.Y
	return math32.Sqrt(dx*dx + dy*dy)
}

// LightColor is the color read from a traffic light
type LightColor string

const (
	LightRed     LightColor = "red"
	LightYellow  LightColor = "yellow"
	LightGreen   LightColor = "green"
	LightUnknown LightColor = "unknown"
)

// ParseLightColor maps a classifier label to a LightColor, ignoring case.
// Anything unrecognized is unknown.
func ParseLightColor(s string) LightColor {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "red":
		return LightRed
	case "yellow", "amber":
		return LightYellow
	case "green":
		return LightGreen
	}
	return LightUnknown
}

// LightReading is a color classification of one traffic light box
type LightReading struct {
	Color      LightColor `json:"color"`
	Confidence float32    `json:"confidence"`
}

// LightState is the resolved traffic light color for the scene
type LightState struct {
	Color      LightColor `json:"color"`
	Confidence float32    `json:"confidence"`
}

// Detection represents a single object detection result
type Detection struct {
	Class      string                 `json:"class"`              // Canonical class after normalization
	ClassID    int                    `json:"class_id"`           // Detector class index, -1 if unknown
	Confidence float32                `json:"confidence"`         // Detection confidence [0-1]
	BBox       BBox                   `json:"bbox"`               // Bounding box
	TrackID    *int                   `json:"track_id,omitempty"` // Stable tracker ID
	Light      *LightReading          `json:"light,omitempty"`    // Traffic light color, if classified
	Metadata   map[string]interface{} `json:"metadata,omitempty"` // Additional detector-specific data
}

// ViolationLine is the stop boundary for the current frame
type ViolationLine struct {
	Y         float32                `json:"y"`
	Crosswalk *BBox                  `json:"crosswalk,omitempty"`
	Method    string                 `json:"method,omitempty"` // crosswalk, stop_line, light_heuristic, fixed
	Debug     map[string]interface{} `json:"debug,omitempty"`
}

// LightAnchor locates the traffic light the line locator should search around
type LightAnchor struct {
	Center Point `json:"center"`
	BBox   BBox  `json:"bbox"`
}

// CrossingInfo describes the transition that matched in the crossing window
type CrossingInfo struct {
	FramesAgo     int     `json:"frames_ago"`
	PrevY         float32 `json:"prev_y"`
	CurrY         float32 `json:"curr_y"`
	WindowChecked int     `json:"window_checked"`
}

// ViolationType tags a violation record
type ViolationType string

const ViolationLineCrossing ViolationType = "line_crossing"

// ViolationRecord is emitted once per qualifying crossing
type ViolationRecord struct {
	ID              string        `json:"id"`
	SourceID        string        `json:"source_id"`
	TrackID         int           `json:"track_id"`
	Class           string        `json:"class"`
	BBox            BBox          `json:"bbox"`
	Type            ViolationType `json:"type"`
	Timestamp       time.Time     `json:"timestamp"`
	FrameSeq        uint64        `json:"frame_seq"`
	LineY           float32       `json:"line_y"`
	Crossing        CrossingInfo  `json:"crossing"`
	Light           LightState    `json:"light"`
	PositionHistory []float32     `json:"position_history"`
}

// TrackStatus is the read-only per-frame view of a track
type TrackStatus struct {
	ID               int     `json:"id"`
	Class            string  `json:"class"`
	Confidence       float32 `json:"confidence"`
	BBox             BBox    `json:"bbox"`
	BottomY          float32 `json:"bottom_y"`
	IsMoving         bool    `json:"is_moving"`
	IsViolation      bool    `json:"is_violation"`
	CrossedDuringRed bool    `json:"crossed_during_red"`
	SuspiciousJumps  int     `json:"suspicious_jumps"`
}

// FrameStats aggregates per-frame counters and timings
type FrameStats struct {
	FPS             float32    `json:"fps"`
	DetectionMs     float32    `json:"detection_time_ms"`
	MeanDetectionMs float32    `json:"mean_detection_time_ms"`
	Light           LightState `json:"light"`
	Cars            int        `json:"cars"`
	Trucks          int        `json:"trucks"`
	Buses           int        `json:"buses"`
	Motorcycles     int        `json:"motorcycles"`
	Bicycles        int        `json:"bicycles"`
	Pedestrians     int        `json:"peds"`
	TrafficLights   int        `json:"traffic_lights"`
	Tracked         int        `json:"tracked"`
	Moving          int        `json:"moving"`
	Violating       int        `json:"violating"`
	FramesProcessed uint64     `json:"frames_processed"`
	ViolationsTotal uint64     `json:"violations_total"`
}

// Progress is the read position of a seekable source
type Progress struct {
	Position int64 `json:"position"`
	Total    int64 `json:"total"`
}

// FrameResult is everything produced by one processing pass
type FrameResult struct {
	SourceID      string            `json:"source_id"`
	Seq           uint64            `json:"seq"`
	Timestamp     time.Time         `json:"timestamp"`
	Detections    []Detection       `json:"detections"`
	Vehicles      []Detection       `json:"-"` // Pre-filtered vehicle boxes given to the tracker
	Tracks        []TrackStatus     `json:"tracks"`
	Light         LightState        `json:"light"`
	LightDetected bool              `json:"light_detected"`
	Line          *ViolationLine    `json:"line,omitempty"`
	Evaluated     bool              `json:"evaluated"`
	Violations    []ViolationRecord `json:"violations"`
	ViolatingIDs  []int             `json:"violating_ids"`
	Stats         FrameStats        `json:"stats"`
	Progress      *Progress         `json:"progress,omitempty"`
	// DetectionPaused is set when inference was switched off for this frame
	DetectionPaused bool   `json:"detection_paused,omitempty"`
	ImageData       []byte `json:"-"` // Annotated JPEG (optional)
}

// Status describes the run state of a pipeline
type Status string

const (
	StatusStarting          Status = "starting"
	StatusRunning           Status = "running"
	StatusFinished          Status = "finished"
	StatusStopped           Status = "stopped"
	StatusSourceUnavailable Status = "source_unavailable"
)

// StatusEvent is published whenever the pipeline changes state
type StatusEvent struct {
	SourceID  string    `json:"source_id"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

var (
	// ErrSourceUnavailable is the terminal condition after retries are exhausted
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrEndOfStream is returned by finite sources once every frame has been read
	ErrEndOfStream = errors.New("end of stream")
)
