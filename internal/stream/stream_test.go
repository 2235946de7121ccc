package stream

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redlight/internal/pipeline"
)

func blankImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func sampleResult() *pipeline.FrameResult {
	return &pipeline.FrameResult{
		Detections: []pipeline.Detection{
			{Class: pipeline.ClassCar, Confidence: 0.9, BBox: pipeline.BBox{X1: 100, Y1: 200, X2: 200, Y2: 280}},
			{Class: pipeline.ClassCar, Confidence: 0.8, BBox: pipeline.BBox{X1: 300, Y1: 200, X2: 400, Y2: 280}},
			{Class: pipeline.ClassTrafficLight, Confidence: 0.7, BBox: pipeline.BBox{X1: 500, Y1: 40, X2: 520, Y2: 90},
				Light: &pipeline.LightReading{Color: pipeline.LightRed, Confidence: 0.8}},
		},
		Tracks: []pipeline.TrackStatus{
			{ID: 7, BBox: pipeline.BBox{X1: 100, Y1: 200, X2: 200, Y2: 280}, IsMoving: true, IsViolation: true},
			{ID: 8, BBox: pipeline.BBox{X1: 300, Y1: 200, X2: 400, Y2: 280}},
		},
		Light: pipeline.LightState{Color: pipeline.LightRed, Confidence: 0.8},
		Line:  &pipeline.ViolationLine{Y: 350, Method: "fixed"},
	}
}

func TestAnnotatorRender(t *testing.T) {
	a := NewAnnotator(0)
	out := a.Render(blankImage(640, 480), sampleResult())

	// Violating track is outlined in red, the stopped one in green
	assert.Equal(t, colorViolating, out.RGBAAt(150, 279))
	assert.Equal(t, colorStopped, out.RGBAAt(350, 279))
	// Traffic light box takes its color
	assert.Equal(t, colorViolating, out.RGBAAt(500, 60))
	// Violation line drawn red while the light is red
	assert.Equal(t, colorViolating, out.RGBAAt(320, 350))
	// Box interior untouched
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, out.RGBAAt(150, 240))
}

func TestAnnotatorAnnotate(t *testing.T) {
	var src bytes.Buffer
	require.NoError(t, jpeg.Encode(&src, blankImage(320, 240), nil))
	frame := &pipeline.FrameData{Data: src.Bytes(), Seq: 1}

	data, err := NewAnnotator(80).Annotate(frame, sampleResult())
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 320, 240), img.Bounds())

	_, err = NewAnnotator(80).Annotate(&pipeline.FrameData{}, sampleResult())
	assert.Error(t, err)
}

func TestBannerText(t *testing.T) {
	r := sampleResult()
	r.Stats = pipeline.FrameStats{Tracked: 2, Moving: 1, ViolationsTotal: 3, FPS: 12.5}
	r.Progress = &pipeline.Progress{Position: 10, Total: 100}
	assert.Equal(t, "light RED  tracked 2  moving 1  violations 3  12.5 fps  10/100", bannerText(r))
}

func TestSnapshotHandler(t *testing.T) {
	slot := pipeline.NewFrameSlot()
	h := NewSnapshotHandler(slot)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	slot.Put(4, []byte("jpeg"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4", rec.Header().Get("X-Frame-Seq"))
	assert.Equal(t, "jpeg", rec.Body.String())
}

func TestMJPEGServerStreamsLatest(t *testing.T) {
	slot := pipeline.NewFrameSlot()
	slot.Put(1, []byte("first"))
	s := NewMJPEGServer(slot, logs.NewTestingLog(t))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/stream.mjpg", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	go func() {
		time.Sleep(20 * time.Millisecond)
		slot.Put(2, []byte("second"))
	}()
	s.ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, "Content-Length: 5\r\n\r\nfirst")
	assert.Contains(t, body, "Content-Length: 6\r\n\r\nsecond")
	assert.Equal(t, 0, s.ClientCount())
}
