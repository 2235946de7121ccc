package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	"github.com/cyclopcam/logs"

	"redlight/internal/logging"
	"redlight/internal/pipeline"
)

// HTTPDetectorConfig holds configuration for the HTTP detection service client
type HTTPDetectorConfig struct {
	Endpoint      string
	ConfThreshold float32
	Timeout       time.Duration
}

// HTTPDetector talks to an object detection service over multipart HTTP.
// The service may also run tracking, in which case HTTPDetector doubles as
// the pipeline's Tracker.
type HTTPDetector struct {
	endpoint      string
	client        *http.Client
	confThreshold float32
	log           logs.Log

	healthMu    sync.Mutex
	healthy     bool
	healthCheck time.Time
}

// NewHTTPDetector creates a client for the detection service at cfg.Endpoint
func NewHTTPDetector(cfg HTTPDetectorConfig, log logs.Log) *HTTPDetector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ConfThreshold <= 0 {
		cfg.ConfThreshold = 0.5
	}
	return &HTTPDetector{
		endpoint:      cfg.Endpoint,
		client:        &http.Client{Timeout: cfg.Timeout},
		confThreshold: cfg.ConfThreshold,
		log:           logging.Component(log, "HTTPDetector"),
	}
}

func (hd *HTTPDetector) Name() string {
	return "http"
}

// ConfThreshold is the minimum confidence sent with each request
func (hd *HTTPDetector) ConfThreshold() float32 {
	return hd.confThreshold
}

// IsHealthy checks if the detection service is available
func (hd *HTTPDetector) IsHealthy() bool {
	hd.healthMu.Lock()
	defer hd.healthMu.Unlock()

	// Cache health check for 30 seconds
	if hd.healthy && time.Since(hd.healthCheck) < healthCacheTTL {
		return true
	}

	resp, err := hd.client.Get(hd.endpoint + "/health")
	if err != nil {
		hd.log.Warnf("Health check failed: %v", err)
		hd.healthy = false
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		hd.healthCheck = time.Now()
		hd.healthy = true
		return true
	}

	hd.log.Warnf("Health check returned status %d", resp.StatusCode)
	hd.healthy = false
	return false
}

func (hd *HTTPDetector) markUnhealthy() {
	hd.healthMu.Lock()
	hd.healthy = false
	hd.healthMu.Unlock()
}

// Detect runs object detection on one frame
func (hd *HTTPDetector) Detect(ctx context.Context, frame *pipeline.FrameData) ([]pipeline.Detection, error) {
	if !hd.IsHealthy() {
		return nil, ErrServiceUnavailable
	}

	var result DetectionResult
	if err := hd.post(ctx, "/detect", frame.Data, nil, &result); err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}
	return toPipelineDetections(result.Detections), nil
}

// UpdateTracking asks the service to assign track IDs to the given vehicle boxes
func (hd *HTTPDetector) UpdateTracking(ctx context.Context, frame *pipeline.FrameData, detections []pipeline.Detection) ([]pipeline.Detection, error) {
	payload, err := json.Marshal(fromPipelineDetections(detections))
	if err != nil {
		return nil, err
	}
	var result DetectionResult
	fields := map[string]string{"detections": string(payload)}
	if err := hd.post(ctx, "/track", frame.Data, fields, &result); err != nil {
		return nil, fmt.Errorf("tracking failed: %w", err)
	}
	return toPipelineDetections(result.Detections), nil
}

// Reset drops every track held by the service
func (hd *HTTPDetector) Reset() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hd.endpoint+"/track/reset", nil)
	if err != nil {
		return
	}
	resp, err := hd.client.Do(req)
	if err != nil {
		hd.log.Warnf("Tracker reset failed: %v", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		hd.log.Warnf("Tracker reset returned status %d", resp.StatusCode)
	}
}

func (hd *HTTPDetector) Close() error {
	hd.client.CloseIdleConnections()
	return nil
}

// post sends the frame as a multipart form and decodes the JSON reply into out
func (hd *HTTPDetector) post(ctx context.Context, path string, imageData []byte, fields map[string]string, out any) error {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	// Add image file with proper Content-Type header
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	fw, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := fw.Write(imageData); err != nil {
		return err
	}

	w.WriteField("conf_threshold", fmt.Sprintf("%.2f", hd.confThreshold))
	for k, v := range fields {
		w.WriteField(k, v)
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hd.endpoint+path, &b)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := hd.client.Do(req)
	if err != nil {
		hd.markUnhealthy()
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var (
	_ pipeline.Detector = (*HTTPDetector)(nil)
	_ pipeline.Tracker  = (*HTTPDetector)(nil)
)
