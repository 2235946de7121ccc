package detectors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"redlight/internal/pipeline"
)

// FailoverDetector delegates to the registry's healthy backends in order
type FailoverDetector struct {
	registry *Registry
}

func (f *FailoverDetector) Name() string {
	backends := f.registry.Backends()
	names := make([]string, len(backends))
	for i, d := range backends {
		names[i] = d.Name()
	}
	return "failover(" + strings.Join(names, ",") + ")"
}

func (f *FailoverDetector) IsHealthy() bool {
	return len(f.registry.Healthy()) > 0
}

func (f *FailoverDetector) Detect(ctx context.Context, frame *pipeline.FrameData) ([]pipeline.Detection, error) {
	var lastErr error
	for _, d := range f.registry.Healthy() {
		dets, err := d.Detect(ctx, frame)
		if err == nil {
			return dets, nil
		}
		lastErr = fmt.Errorf("%s: %w", d.Name(), err)
	}
	if lastErr == nil {
		return nil, errors.New("no healthy detector")
	}
	return nil, lastErr
}

// Close is a no-op; the registry owns the backends
func (f *FailoverDetector) Close() error {
	return nil
}

var _ pipeline.Detector = (*FailoverDetector)(nil)
