package detectors

import (
	"errors"
	"fmt"
	"sync"

	"redlight/internal/pipeline"
)

// BackendHealth is one detection backend's entry in the health report
type BackendHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	// Active marks the backend the failover detector would call next
	Active bool `json:"active"`
}

// Registry holds the detection backends in preference order. Backends
// are tried front to back; registration appends at the lowest preference.
type Registry struct {
	mu       sync.RWMutex
	backends []pipeline.Detector
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a backend. Names must be unique.
func (r *Registry) Register(detector pipeline.Detector) error {
	if detector == nil {
		return errors.New("detector cannot be nil")
	}
	name := detector.Name()
	if name == "" {
		return errors.New("detector name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.backends {
		if d.Name() == name {
			return fmt.Errorf("detector %q already registered", name)
		}
	}
	r.backends = append(r.backends, detector)
	return nil
}

// Prefer moves the named backends to the front, in the given order.
// Unknown or repeated names are ignored and unlisted backends keep their
// relative order behind the listed ones.
func (r *Registry) Prefer(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ordered := make([]pipeline.Detector, 0, len(r.backends))
	taken := make([]bool, len(r.backends))
	for _, name := range names {
		for i, d := range r.backends {
			if !taken[i] && d.Name() == name {
				ordered = append(ordered, d)
				taken[i] = true
			}
		}
	}
	for i, d := range r.backends {
		if !taken[i] {
			ordered = append(ordered, d)
		}
	}
	r.backends = ordered
}

// Get returns a backend by name
func (r *Registry) Get(name string) (pipeline.Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.backends {
		if d.Name() == name {
			return d, true
		}
	}
	return nil, false
}

// Len returns the number of registered backends
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backends)
}

// Backends returns every backend in preference order
func (r *Registry) Backends() []pipeline.Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]pipeline.Detector(nil), r.backends...)
}

// Healthy returns the healthy backends in preference order
func (r *Registry) Healthy() []pipeline.Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]pipeline.Detector, 0, len(r.backends))
	for _, d := range r.backends {
		if d.IsHealthy() {
			result = append(result, d)
		}
	}
	return result
}

// Health reports every backend in preference order. The first healthy
// one is marked active.
func (r *Registry) Health() []BackendHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	report := make([]BackendHealth, 0, len(r.backends))
	activeSeen := false
	for _, d := range r.backends {
		h := BackendHealth{Name: d.Name(), Healthy: d.IsHealthy()}
		if h.Healthy && !activeSeen {
			h.Active = true
			activeSeen = true
		}
		report = append(report, h)
	}
	return report
}

// Failover returns a Detector that calls the healthy backends in
// preference order until one succeeds
func (r *Registry) Failover() *FailoverDetector {
	return &FailoverDetector{registry: r}
}

// Close releases every backend
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, d := range r.backends {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("error closing detector %q: %w", d.Name(), err)
		}
	}
	r.backends = nil
	return firstErr
}
