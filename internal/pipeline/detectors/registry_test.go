package detectors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redlight/internal/pipeline"
)

type stubDetector struct {
	name    string
	healthy bool
	err     error
	dets    []pipeline.Detection
	closed  bool
	calls   int
}

func (s *stubDetector) Name() string    { return s.name }
func (s *stubDetector) IsHealthy() bool { return s.healthy }
func (s *stubDetector) Close() error    { s.closed = true; return nil }
func (s *stubDetector) Detect(ctx context.Context, frame *pipeline.FrameData) ([]pipeline.Detection, error) {
	s.calls++
	return s.dets, s.err
}

func names(ds []pipeline.Detector) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Name()
	}
	return out
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	grpcDet := &stubDetector{name: "grpc"}
	httpDet := &stubDetector{name: "http", healthy: true}

	require.NoError(t, r.Register(grpcDet))
	require.NoError(t, r.Register(httpDet))
	assert.Error(t, r.Register(&stubDetector{name: "http"}))
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&stubDetector{}))

	d, ok := r.Get("grpc")
	require.True(t, ok)
	assert.Same(t, grpcDet, d)
	_, ok = r.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"grpc", "http"}, names(r.Backends()))
	assert.Equal(t, []string{"http"}, names(r.Healthy()))

	require.NoError(t, r.Close())
	assert.True(t, grpcDet.closed)
	assert.True(t, httpDet.closed)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryPrefer(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, r.Register(&stubDetector{name: name, healthy: true}))
	}

	r.Prefer([]string{"c", "missing", "c", "a"})
	assert.Equal(t, []string{"c", "a", "b"}, names(r.Backends()))

	r.Prefer(nil)
	assert.Equal(t, []string{"c", "a", "b"}, names(r.Backends()))
}

func TestRegistryHealth(t *testing.T) {
	r := NewRegistry()
	grpcDet := &stubDetector{name: "grpc"}
	httpDet := &stubDetector{name: "http", healthy: true}
	require.NoError(t, r.Register(grpcDet))
	require.NoError(t, r.Register(httpDet))

	assert.Equal(t, []BackendHealth{
		{Name: "grpc", Healthy: false},
		{Name: "http", Healthy: true, Active: true},
	}, r.Health())

	grpcDet.healthy = true
	assert.Equal(t, []BackendHealth{
		{Name: "grpc", Healthy: true, Active: true},
		{Name: "http", Healthy: true},
	}, r.Health())
}

func TestFailoverDetector(t *testing.T) {
	r := NewRegistry()
	primary := &stubDetector{name: "grpc", healthy: true, err: errors.New("deadline exceeded")}
	secondary := &stubDetector{name: "http", healthy: true, dets: []pipeline.Detection{{Class: "car"}}}
	require.NoError(t, r.Register(secondary))
	require.NoError(t, r.Register(primary))
	r.Prefer([]string{"grpc", "http"})

	f := r.Failover()
	assert.Equal(t, "failover(grpc,http)", f.Name())
	assert.True(t, f.IsHealthy())
	dets, err := f.Detect(context.Background(), &pipeline.FrameData{})
	require.NoError(t, err)
	assert.Len(t, dets, 1)
	assert.Equal(t, 1, primary.calls)

	secondary.err = errors.New("boom")
	_, err = f.Detect(context.Background(), &pipeline.FrameData{})
	assert.ErrorContains(t, err, "http: boom")

	primary.healthy, secondary.healthy = false, false
	assert.False(t, f.IsHealthy())
	_, err = f.Detect(context.Background(), &pipeline.FrameData{})
	assert.ErrorContains(t, err, "no healthy detector")
}
