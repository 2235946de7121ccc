package stream

import (
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/cyclopcam/logs"

	"redlight/internal/logging"
	"redlight/internal/pipeline"
)

// MJPEGServer streams the latest annotated frame to any number of clients.
// Slow clients skip frames; they never hold up the pipeline.
type MJPEGServer struct {
	slot    *pipeline.FrameSlot
	log     logs.Log
	clients atomic.Int32
}

func NewMJPEGServer(slot *pipeline.FrameSlot, log logs.Log) *MJPEGServer {
	return &MJPEGServer{slot: slot, log: logging.Component(log, "MJPEGStream")}
}

// ClientCount returns the number of connected stream viewers
func (s *MJPEGServer) ClientCount() int {
	return int(s.clients.Load())
}

func (s *MJPEGServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// Set MJPEG headers
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	n := s.clients.Add(1)
	defer s.clients.Add(-1)
	s.log.Infof("Client connected (%d watching)", n)

	var seq uint64
	for {
		next, frame, err := s.slot.Next(r.Context(), seq)
		if err != nil {
			s.log.Infof("Client disconnected")
			return
		}
		seq = next

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
		if _, err := w.Write(frame); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")
		flusher.Flush()
	}
}

// SnapshotHandler serves the latest frame as a single JPEG
type SnapshotHandler struct {
	slot *pipeline.FrameSlot
}

func NewSnapshotHandler(slot *pipeline.FrameSlot) *SnapshotHandler {
	return &SnapshotHandler{slot: slot}
}

func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	seq, frame, ok := h.slot.Latest()
	if !ok {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame)))
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(seq, 10))
	w.Write(frame)
}
