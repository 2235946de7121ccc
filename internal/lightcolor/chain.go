package lightcolor

import (
	"context"

	"github.com/cyclopcam/logs"

	"redlight/internal/logging"
	"redlight/internal/pipeline"
)

// Chain asks each classifier in turn until one returns a known color
type Chain struct {
	classifiers []pipeline.LightClassifier
	log         logs.Log
}

func NewChain(log logs.Log, classifiers ...pipeline.LightClassifier) *Chain {
	return &Chain{classifiers: classifiers, log: logging.Component(log, "LightColor")}
}

// Classify returns the first known reading. Failing classifiers are skipped;
// the last error is returned only if every classifier failed.
func (c *Chain) Classify(ctx context.Context, frame *pipeline.FrameData, box pipeline.BBox) (pipeline.LightReading, error) {
	var lastErr error
	failed := 0
	for _, cl := range c.classifiers {
		reading, err := cl.Classify(ctx, frame, box)
		if err != nil {
			c.log.Debugf("Classifier failed on frame %d: %v", frame.Seq, err)
			lastErr = err
			failed++
			continue
		}
		if reading.Color != pipeline.LightUnknown && reading.Color != "" {
			return reading, nil
		}
	}
	unknown := pipeline.LightReading{Color: pipeline.LightUnknown}
	if failed > 0 && failed == len(c.classifiers) {
		return unknown, lastErr
	}
	return unknown, nil
}

var _ pipeline.LightClassifier = (*Chain)(nil)
