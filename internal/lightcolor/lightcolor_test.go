package lightcolor

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redlight/internal/pipeline"
)

var lightBox = pipeline.BBox{X1: 40, Y1: 20, X2: 60, Y2: 80}

// signalFrame draws a dark signal housing with one lit lamp in the given slot (0 top .. 2 bottom)
func signalFrame(lamp color.RGBA, slot int) *pipeline.FrameData {
	img := image.NewRGBA(image.Rect(0, 0, 120, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 120; x++ {
			img.Set(x, y, color.RGBA{90, 110, 140, 255})
		}
	}
	for y := 20; y < 80; y++ {
		for x := 40; x < 60; x++ {
			img.Set(x, y, color.RGBA{20, 20, 20, 255})
		}
	}
	if lamp.A > 0 {
		cy := 30 + slot*20
		for y := cy - 7; y <= cy+7; y++ {
			for x := 43; x <= 57; x++ {
				img.Set(x, y, lamp)
			}
		}
	}
	return pipeline.NewImageFrame("test", 1, time.Now(), img)
}

func TestHSVClassifier(t *testing.T) {
	c := NewHSVClassifier(DefaultHSVConfig())
	cases := []struct {
		name string
		lamp color.RGBA
		slot int
		want pipeline.LightColor
	}{
		{"red", color.RGBA{240, 30, 30, 255}, 0, pipeline.LightRed},
		{"amber", color.RGBA{250, 180, 20, 255}, 1, pipeline.LightYellow},
		{"green", color.RGBA{40, 230, 120, 255}, 2, pipeline.LightGreen},
		{"dark", color.RGBA{}, 0, pipeline.LightUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reading, err := c.Classify(context.Background(), signalFrame(tc.lamp, tc.slot), lightBox)
			require.NoError(t, err)
			assert.Equal(t, tc.want, reading.Color)
			if tc.want != pipeline.LightUnknown {
				assert.Greater(t, reading.Confidence, float32(0.8))
			}
		})
	}
}

func TestHSVClassifierBoxOutsideFrame(t *testing.T) {
	c := NewHSVClassifier(DefaultHSVConfig())
	reading, err := c.Classify(context.Background(), signalFrame(color.RGBA{}, 0), pipeline.BBox{X1: 500, Y1: 500, X2: 520, Y2: 560})
	assert.Error(t, err)
	assert.Equal(t, pipeline.LightUnknown, reading.Color)
}

func TestHSVClassifierNoImage(t *testing.T) {
	c := NewHSVClassifier(DefaultHSVConfig())
	_, err := c.Classify(context.Background(), &pipeline.FrameData{}, lightBox)
	assert.Error(t, err)
}

func TestRGBToHSV(t *testing.T) {
	h, s, v := rgbToHSV(255, 0, 0)
	assert.Equal(t, [3]float32{0, 1, 1}, [3]float32{h, s, v})
	h, _, _ = rgbToHSV(0, 255, 0)
	assert.InDelta(t, 120, h, 0.01)
	h, _, _ = rgbToHSV(0, 0, 255)
	assert.InDelta(t, 240, h, 0.01)
	_, s, _ = rgbToHSV(128, 128, 128)
	assert.Zero(t, s)
}

type fixedClassifier struct {
	reading pipeline.LightReading
	err     error
	calls   int
}

func (f *fixedClassifier) Classify(ctx context.Context, frame *pipeline.FrameData, box pipeline.BBox) (pipeline.LightReading, error) {
	f.calls++
	return f.reading, f.err
}

func TestChain(t *testing.T) {
	frame := &pipeline.FrameData{Seq: 3}
	unknown := &fixedClassifier{reading: pipeline.LightReading{Color: pipeline.LightUnknown}}
	failing := &fixedClassifier{err: errors.New("no model")}
	green := &fixedClassifier{reading: pipeline.LightReading{Color: pipeline.LightGreen, Confidence: 0.7}}

	chain := NewChain(logs.NewTestingLog(t), unknown, failing, green)
	reading, err := chain.Classify(context.Background(), frame, lightBox)
	require.NoError(t, err)
	assert.Equal(t, pipeline.LightGreen, reading.Color)
	assert.Equal(t, 1, unknown.calls)
	assert.Equal(t, 1, failing.calls)

	chain = NewChain(logs.NewTestingLog(t), unknown, failing)
	reading, err = chain.Classify(context.Background(), frame, lightBox)
	require.NoError(t, err)
	assert.Equal(t, pipeline.LightUnknown, reading.Color)

	chain = NewChain(logs.NewTestingLog(t), failing)
	_, err = chain.Classify(context.Background(), frame, lightBox)
	assert.Error(t, err)
}
