package ws

import (
	"time"

	"redlight/internal/pipeline"
)

// Message types
const (
	TypeViolation = "violation"
	TypeStats     = "stats"
	TypeStatus    = "status"
)

// ViolationMessage carries one violation record
type ViolationMessage struct {
	Type      string                    `json:"type"`
	SourceID  string                    `json:"source_id"`
	Timestamp time.Time                 `json:"timestamp"`
	Violation *pipeline.ViolationRecord `json:"violation"`
}

// StatsMessage is the periodic scene summary
type StatsMessage struct {
	Type      string                  `json:"type"`
	SourceID  string                  `json:"source_id"`
	Seq       uint64                  `json:"seq"`
	Timestamp time.Time               `json:"timestamp"`
	Light     pipeline.LightState     `json:"light"`
	Line      *pipeline.ViolationLine `json:"line,omitempty"`
	Tracks    []pipeline.TrackStatus  `json:"tracks"`
	Stats     pipeline.FrameStats     `json:"stats"`
	Progress  *pipeline.Progress      `json:"progress,omitempty"`
}

// StatusMessage reports a pipeline state change
type StatusMessage struct {
	Type      string          `json:"type"`
	SourceID  string          `json:"source_id"`
	Timestamp time.Time       `json:"timestamp"`
	Status    pipeline.Status `json:"status"`
	Message   string          `json:"message,omitempty"`
}

func NewViolationMessage(v *pipeline.ViolationRecord) *ViolationMessage {
	return &ViolationMessage{
		Type:      TypeViolation,
		SourceID:  v.SourceID,
		Timestamp: v.Timestamp,
		Violation: v,
	}
}

func NewStatsMessage(r *pipeline.FrameResult) *StatsMessage {
	tracks := r.Tracks
	if tracks == nil {
		tracks = []pipeline.TrackStatus{}
	}
	return &StatsMessage{
		Type:      TypeStats,
		SourceID:  r.SourceID,
		Seq:       r.Seq,
		Timestamp: r.Timestamp,
		Light:     r.Light,
		Line:      r.Line,
		Tracks:    tracks,
		Stats:     r.Stats,
		Progress:  r.Progress,
	}
}

func NewStatusMessage(ev pipeline.StatusEvent) *StatusMessage {
	return &StatusMessage{
		Type:      TypeStatus,
		SourceID:  ev.SourceID,
		Timestamp: ev.Timestamp,
		Status:    ev.Status,
		Message:   ev.Message,
	}
}
