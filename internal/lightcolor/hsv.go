// Package lightcolor reads the lit color of a traffic light from its crop.
package lightcolor

import (
	"context"
	"fmt"
	"image"

	"github.com/chewxy/math32"
	"golang.org/x/image/draw"

	"redlight/internal/pipeline"
)

// Crops are resampled to this size before voting
const (
	sampleWidth  = 16
	sampleHeight = 40
)

// HSVConfig holds the pixel thresholds of the HSV classifier
type HSVConfig struct {
	MinSaturation float32 // 0..1
	MinValue      float32 // 0..1
	MinLitPixels  float32 // fraction of the crop that must be lit to decide
}

// DefaultHSVConfig suits typical daytime LED signals
func DefaultHSVConfig() HSVConfig {
	return HSVConfig{MinSaturation: 0.4, MinValue: 0.5, MinLitPixels: 0.02}
}

// HSVClassifier votes on the hue of bright, saturated pixels in the light's box
type HSVClassifier struct {
	cfg HSVConfig
}

func NewHSVClassifier(cfg HSVConfig) *HSVClassifier {
	return &HSVClassifier{cfg: cfg}
}

// Classify returns the dominant lit color in box, or unknown when too few
// pixels are lit
func (c *HSVClassifier) Classify(ctx context.Context, frame *pipeline.FrameData, box pipeline.BBox) (pipeline.LightReading, error) {
	unknown := pipeline.LightReading{Color: pipeline.LightUnknown}

	img, err := frame.Image()
	if err != nil {
		return unknown, err
	}
	sr := image.Rect(
		int(math32.Floor(box.X1)), int(math32.Floor(box.Y1)),
		int(math32.Ceil(box.X2)), int(math32.Ceil(box.Y2)),
	).Intersect(img.Bounds())
	if sr.Empty() {
		return unknown, fmt.Errorf("light box %+v is outside the frame", box)
	}

	crop := image.NewRGBA(image.Rect(0, 0, sampleWidth, sampleHeight))
	draw.ApproxBiLinear.Scale(crop, crop.Bounds(), img, sr, draw.Src, nil)

	var votes [3]int // red, yellow, green
	for y := 0; y < sampleHeight; y++ {
		for x := 0; x < sampleWidth; x++ {
			i := crop.PixOffset(x, y)
			h, s, v := rgbToHSV(crop.Pix[i], crop.Pix[i+1], crop.Pix[i+2])
			if s < c.cfg.MinSaturation || v < c.cfg.MinValue {
				continue
			}
			if color := hueColor(h); color >= 0 {
				votes[color]++
			}
		}
	}

	lit := votes[0] + votes[1] + votes[2]
	if float32(lit) < c.cfg.MinLitPixels*sampleWidth*sampleHeight {
		return unknown, nil
	}
	best := 0
	for i := 1; i < len(votes); i++ {
		if votes[i] > votes[best] {
			best = i
		}
	}
	colors := [3]pipeline.LightColor{pipeline.LightRed, pipeline.LightYellow, pipeline.LightGreen}
	return pipeline.LightReading{
		Color:      colors[best],
		Confidence: float32(votes[best]) / float32(lit),
	}, nil
}

// hueColor buckets a hue in degrees: 0 red, 1 yellow, 2 green, -1 none
func hueColor(h float32) int {
	switch {
	case h < 15 || h >= 330:
		return 0
	case h >= 15 && h < 50:
		return 1
	case h >= 75 && h < 195:
		return 2
	}
	return -1
}

func rgbToHSV(r8, g8, b8 uint8) (h, s, v float32) {
	r, g, b := float32(r8)/255, float32(g8)/255, float32(b8)/255
	maxC := math32.Max(r, math32.Max(g, b))
	minC := math32.Min(r, math32.Min(g, b))
	v = maxC
	delta := maxC - minC
	if maxC <= 0 || delta <= 0 {
		return 0, 0, v
	}
	s = delta / maxC
	switch maxC {
	case r:
		h = 60 * (g - b) / delta
	case g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	return h, s, v
}

var _ pipeline.LightClassifier = (*HSVClassifier)(nil)
