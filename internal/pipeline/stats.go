package pipeline

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"redlight/internal/timeutil"
)

const (
	fpsWindow     = 30
	latencyWindow = 100
)

// statsCollector keeps rolling frame timing statistics
type statsCollector struct {
	clock      timeutil.Clock
	lastFrame  time.Time
	intervals  *boundedQueue[float64] // seconds between processed frames
	latencies  *boundedQueue[float64] // detector latency in ms
	frames     uint64
	violations uint64
}

func newStatsCollector(clock timeutil.Clock) *statsCollector {
	return &statsCollector{
		clock:     clock,
		intervals: newBoundedQueue[float64](fpsWindow),
		latencies: newBoundedQueue[float64](latencyWindow),
	}
}

// observe records one processed frame and returns the smoothed fps and
// mean detection latency. Frames that skipped detection only count
// toward fps.
func (c *statsCollector) observe(detection time.Duration, detected bool, violations int) (fps float32, meanMs float32) {
	now := c.clock.Now()
	if !c.lastFrame.IsZero() {
		if dt := now.Sub(c.lastFrame).Seconds(); dt > 0 {
			c.intervals.Push(dt)
		}
	}
	c.lastFrame = now
	c.frames++
	c.violations += uint64(violations)
	if detected {
		c.latencies.Push(float64(detection) / float64(time.Millisecond))
	}

	if c.intervals.Len() > 0 {
		if mean := stat.Mean(c.intervals.items, nil); mean > 0 {
			fps = float32(1 / mean)
		}
	}
	if c.latencies.Len() > 0 {
		meanMs = float32(stat.Mean(c.latencies.items, nil))
	}
	return fps, meanMs
}

func (c *statsCollector) reset() {
	c.lastFrame = time.Time{}
	c.intervals.Clear()
	c.latencies.Clear()
}
