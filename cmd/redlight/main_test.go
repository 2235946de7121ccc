package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redlight/internal/config"
	"redlight/internal/database"
	"redlight/internal/detection"
	"redlight/internal/logging"
	"redlight/internal/pipeline/detectors"
)

func TestParseOptions(t *testing.T) {
	t.Setenv("REDLIGHT_SOURCE", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "from-env")

	opts, err := parseOptions([]string{"redlight", "-s", "video.mp4", "--tracker", "remote", "--line-y", "300"})
	require.NoError(t, err)
	assert.Equal(t, "video.mp4", opts.source)
	assert.Equal(t, "cam1", opts.sourceID)
	assert.Equal(t, "remote", opts.trackerMode)
	assert.Equal(t, 300.0, opts.lineY)
	assert.Equal(t, "from-env", opts.tgToken)
	assert.Equal(t, ":8080", opts.listen)

	_, err = parseOptions([]string{"redlight"})
	assert.Error(t, err)

	_, err = parseOptions([]string{"redlight", "-s", "x", "--tracker", "magic"})
	assert.Error(t, err)
}

func TestBuildDetectionUsesStoredOverride(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	override, err := config.ParseTuningConfig([]byte(`{"detector_confidence": 0.7}`))
	require.NoError(t, err)
	require.NoError(t, db.SaveTuningOverride(override))

	opts := &options{detectorHTTP: "http://127.0.0.1:1", detectorOrder: "grpc,http"}
	tuning, registry, err := buildDetection(opts, config.EmptyTuningConfig(), db, logging.Discard{})
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	assert.Equal(t, 0.7, tuning.Effective().GetDetectorConfidence())
	d, ok := registry.Get("http")
	require.True(t, ok)
	assert.Equal(t, float32(0.7), d.(*detection.HTTPDetector).ConfThreshold())
}

func TestBuildDetectionNeedsBackend(t *testing.T) {
	_, _, err := buildDetection(&options{}, config.EmptyTuningConfig(), nil, logging.Discard{})
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"grpc", "http"}, splitList(" grpc, ,http "))
	assert.Nil(t, splitList(""))
}

func TestBuildTrackerRemoteNeedsSupport(t *testing.T) {
	registry := detectors.NewRegistry()
	require.NoError(t, registry.Register(detection.NewHTTPDetector(detection.HTTPDetectorConfig{Endpoint: "http://127.0.0.1:1"}, logging.Discard{})))

	trk, err := buildTracker(&options{trackerMode: "remote"}, nil, registry, logging.Discard{})
	require.NoError(t, err)
	_, ok := trk.(*detection.HTTPDetector)
	assert.True(t, ok)

	_, err = buildTracker(&options{trackerMode: "remote"}, nil, detectors.NewRegistry(), logging.Discard{})
	assert.Error(t, err)
}
