//go:build !gocv

package crosswalk

import (
	"context"

	"github.com/cyclopcam/logs"

	"redlight/internal/logging"
	"redlight/internal/pipeline"
)

// Available reports whether image-based line detection is compiled in
const Available = false

// ZebraLocator without gocv only has the traffic light heuristic to go on
type ZebraLocator struct {
	static StaticLocator
}

func NewZebraLocator(log logs.Log) *ZebraLocator {
	logging.Component(log, "Crosswalk").Warnf("Built without gocv, violation line comes from the traffic light heuristic")
	return &ZebraLocator{}
}

func (z *ZebraLocator) Locate(ctx context.Context, frame *pipeline.FrameData, light pipeline.LightAnchor) (*pipeline.ViolationLine, error) {
	return z.static.Locate(ctx, frame, light)
}

var _ pipeline.LineLocator = (*ZebraLocator)(nil)
