package crosswalk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redlight/internal/pipeline"
)

func frame(w, h int) *pipeline.FrameData {
	return &pipeline.FrameData{Width: w, Height: h}
}

func TestLightHeuristicY(t *testing.T) {
	cases := []struct {
		name   string
		light  pipeline.BBox
		height int
		want   float32
		ok     bool
	}{
		{"five light heights below", pipeline.BBox{X1: 600, Y1: 40, X2: 620, Y2: 90}, 1000, 340, true},
		{"capped at 30% of frame", pipeline.BBox{X1: 600, Y1: 40, X2: 620, Y2: 140}, 1000, 440, true},
		{"kept off the bottom edge", pipeline.BBox{X1: 600, Y1: 500, X2: 620, Y2: 700}, 720, 700, true},
		{"no light box", pipeline.BBox{}, 720, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			y, ok := LightHeuristicY(tc.light, tc.height)
			assert.Equal(t, tc.ok, ok)
			assert.InDelta(t, tc.want, y, 1e-3)
		})
	}
}

func TestStaticLocator(t *testing.T) {
	ctx := context.Background()
	anchor := pipeline.LightAnchor{BBox: pipeline.BBox{X1: 600, Y1: 40, X2: 620, Y2: 90}}

	line, err := (&StaticLocator{FixedY: 400}).Locate(ctx, frame(0, 0), anchor)
	require.NoError(t, err)
	assert.Equal(t, &pipeline.ViolationLine{Y: 400, Method: MethodFixed}, line)

	line, err = (&StaticLocator{Fraction: 0.5}).Locate(ctx, frame(1280, 720), anchor)
	require.NoError(t, err)
	assert.Equal(t, float32(360), line.Y)

	line, err = (&StaticLocator{}).Locate(ctx, frame(1280, 720), anchor)
	require.NoError(t, err)
	assert.Equal(t, MethodLightHeuristic, line.Method)
	assert.Equal(t, float32(306), line.Y)

	line, err = (&StaticLocator{}).Locate(ctx, frame(1280, 720), pipeline.LightAnchor{})
	require.NoError(t, err)
	assert.Equal(t, MethodDefault, line.Method)
	assert.Equal(t, float32(540), line.Y)

	_, err = (&StaticLocator{}).Locate(ctx, frame(0, 0), anchor)
	assert.Error(t, err)
}
