package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"redlight/internal/logging"
	"redlight/internal/pipeline"
)

// Detection service methods. Requests and replies are google.protobuf.Struct
// messages carrying the same fields as the HTTP API.
const (
	GRPCServiceName   = "redlight.detection.v1.DetectionService"
	methodDetect      = "/" + GRPCServiceName + "/Detect"
	methodTrack       = "/" + GRPCServiceName + "/Track"
	methodResetTracks = "/" + GRPCServiceName + "/ResetTracks"
)

// GRPCDetectorConfig holds configuration for the gRPC detector
type GRPCDetectorConfig struct {
	Endpoint      string
	ConfThreshold float32
	Timeout       time.Duration
	DialOptions   []grpc.DialOption
}

// GRPCDetector provides detection and tracking over unary gRPC calls
type GRPCDetector struct {
	endpoint      string
	conn          *grpc.ClientConn
	health        healthpb.HealthClient
	confThreshold float32
	timeout       time.Duration
	log           logs.Log

	healthMu   sync.RWMutex
	healthy    bool
	lastHealth time.Time
}

// NewGRPCDetector creates a new gRPC-based detector. The connection is
// established lazily on the first call.
func NewGRPCDetector(cfg GRPCDetectorConfig, log logs.Log) (*GRPCDetector, error) {
	if cfg.ConfThreshold <= 0 {
		cfg.ConfThreshold = 0.5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	// Configure keepalive to detect dead connections quickly
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", cfg.Endpoint, err)
	}

	gd := &GRPCDetector{
		endpoint:      cfg.Endpoint,
		conn:          conn,
		health:        healthpb.NewHealthClient(conn),
		confThreshold: cfg.ConfThreshold,
		timeout:       cfg.Timeout,
		log:           logging.Component(log, "GRPCDetector"),
	}
	gd.log.Infof("Using detection service at %s", cfg.Endpoint)
	return gd, nil
}

func (gd *GRPCDetector) Name() string {
	return "grpc"
}

// ConfThreshold is the minimum confidence sent with each request
func (gd *GRPCDetector) ConfThreshold() float32 {
	return gd.confThreshold
}

// IsHealthy checks if the gRPC detection service is available
func (gd *GRPCDetector) IsHealthy() bool {
	gd.healthMu.RLock()
	if time.Since(gd.lastHealth) < healthCacheTTL && gd.healthy {
		gd.healthMu.RUnlock()
		return true
	}
	gd.healthMu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := gd.health.Check(ctx, &healthpb.HealthCheckRequest{Service: GRPCServiceName})
	gd.healthMu.Lock()
	defer gd.healthMu.Unlock()
	if err != nil {
		gd.log.Warnf("Health check failed: %v", err)
		gd.healthy = false
		return false
	}
	gd.healthy = resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	gd.lastHealth = time.Now()
	return gd.healthy
}

// Detect runs object detection on one frame
func (gd *GRPCDetector) Detect(ctx context.Context, frame *pipeline.FrameData) ([]pipeline.Detection, error) {
	if !gd.IsHealthy() {
		return nil, ErrServiceUnavailable
	}
	req, err := gd.frameRequest(frame, nil)
	if err != nil {
		return nil, err
	}
	result, err := gd.call(ctx, methodDetect, req)
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}
	return toPipelineDetections(result.Detections), nil
}

// UpdateTracking asks the service to assign track IDs to the given vehicle boxes
func (gd *GRPCDetector) UpdateTracking(ctx context.Context, frame *pipeline.FrameData, detections []pipeline.Detection) ([]pipeline.Detection, error) {
	req, err := gd.frameRequest(frame, detections)
	if err != nil {
		return nil, err
	}
	result, err := gd.call(ctx, methodTrack, req)
	if err != nil {
		return nil, fmt.Errorf("tracking failed: %w", err)
	}
	return toPipelineDetections(result.Detections), nil
}

// Reset drops every track held by the service
func (gd *GRPCDetector) Reset() {
	ctx, cancel := context.WithTimeout(context.Background(), gd.timeout)
	defer cancel()
	if err := gd.conn.Invoke(ctx, methodResetTracks, &structpb.Struct{}, &structpb.Struct{}); err != nil {
		gd.log.Warnf("Tracker reset failed: %v", err)
	}
}

// Close closes the gRPC connection
func (gd *GRPCDetector) Close() error {
	return gd.conn.Close()
}

func (gd *GRPCDetector) frameRequest(frame *pipeline.FrameData, detections []pipeline.Detection) (*structpb.Struct, error) {
	fields := map[string]any{
		"source_id":      frame.SourceID,
		"frame_seq":      float64(frame.Seq),
		"jpeg":           frame.Data,
		"conf_threshold": float64(gd.confThreshold),
	}
	if detections != nil {
		// Round-trip through JSON so the list becomes plain maps structpb accepts
		raw, err := json.Marshal(fromPipelineDetections(detections))
		if err != nil {
			return nil, err
		}
		var list []any
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		fields["detections"] = list
	}
	return structpb.NewStruct(fields)
}

func (gd *GRPCDetector) call(ctx context.Context, method string, req *structpb.Struct) (*DetectionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, gd.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := gd.conn.Invoke(ctx, method, req, resp); err != nil {
		gd.healthMu.Lock()
		gd.healthy = false
		gd.healthMu.Unlock()
		return nil, err
	}
	raw, err := protojson.Marshal(resp)
	if err != nil {
		return nil, err
	}
	var result DetectionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return &result, nil
}

var (
	_ pipeline.Detector = (*GRPCDetector)(nil)
	_ pipeline.Tracker  = (*GRPCDetector)(nil)
)
