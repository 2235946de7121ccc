//go:build gocv

package crosswalk

import (
	"context"
	"image"
	"sort"

	"github.com/cyclopcam/logs"
	"gocv.io/x/gocv"

	"redlight/internal/logging"
	"redlight/internal/pipeline"
)

// Available reports whether image-based line detection is compiled in
const Available = true

// ZebraLocator finds the crosswalk by its white stripes and places the line
// just below them. Without stripes it looks for a painted stop line, then
// falls back to the traffic light heuristic.
type ZebraLocator struct {
	log logs.Log
}

func NewZebraLocator(log logs.Log) *ZebraLocator {
	return &ZebraLocator{log: logging.Component(log, "Crosswalk")}
}

func (z *ZebraLocator) Locate(ctx context.Context, frame *pipeline.FrameData, light pipeline.LightAnchor) (*pipeline.ViolationLine, error) {
	img, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return nil, err
	}
	defer img.Close()
	if img.Empty() {
		return nil, errUnknownSize
	}
	w, h := img.Cols(), img.Rows()

	if line := z.findCrosswalk(img, w, h); line != nil {
		return line, nil
	}
	if y, ok := z.findStopLine(img, w, h); ok {
		return &pipeline.ViolationLine{Y: float32(y), Method: MethodStopLine}, nil
	}
	return fallbackLine(h, light), nil
}

// findCrosswalk masks white paint, joins stripe fragments and keeps wide,
// flat blobs. Three or more bars make a crosswalk.
func (z *ZebraLocator) findCrosswalk(img gocv.Mat, w, h int) *pipeline.ViolationLine {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.InRangeWithScalar(hsv, gocv.NewScalar(0, 0, 180, 0), gocv.NewScalar(180, 80, 255, 0), &mask)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(7, 3))
	defer kernel.Close()
	gocv.MorphologyEx(mask, &mask, gocv.MorphClose, kernel)
	gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, kernel)

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var bars []image.Rectangle
	for i := 0; i < contours.Size(); i++ {
		r := gocv.BoundingRect(contours.At(i))
		if float64(r.Dx()) > 0.05*float64(w) && float64(r.Dy()) < 0.15*float64(h) {
			bars = append(bars, r)
		}
	}
	if len(bars) < 3 {
		return nil
	}

	top, bottom := bars[0].Min.Y, bars[0].Max.Y
	for _, r := range bars[1:] {
		top = min(top, r.Min.Y)
		bottom = max(bottom, r.Max.Y)
	}
	y := min(bottom+5, h-1)
	z.log.Debugf("Crosswalk with %d bars between y=%d and y=%d", len(bars), top, bottom)
	return &pipeline.ViolationLine{
		Y:         float32(y),
		Crosswalk: &pipeline.BBox{X1: 0, Y1: float32(top), X2: float32(w), Y2: float32(bottom)},
		Method:    MethodCrosswalk,
		Debug:     map[string]interface{}{"bars": len(bars)},
	}
}

// findStopLine looks for a long thin horizontal mark in the lower 40% of the frame
func (z *ZebraLocator) findStopLine(img gocv.Mat, w, h int) (int, bool) {
	roiHeight := int(0.4 * float64(h))
	roiY := h - roiHeight
	roi := img.Region(image.Rect(0, roiY, w, h))
	defer roi.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(roi, &gray, gocv.ColorBGRToGray)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.AdaptiveThreshold(gray, &binary, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary, 15, -2)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(15, 1))
	defer kernel.Close()
	gocv.MorphologyEx(binary, &binary, gocv.MorphClose, kernel)

	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	type candidate struct{ y, width int }
	var candidates []candidate
	for i := 0; i < contours.Size(); i++ {
		r := gocv.BoundingRect(contours.At(i))
		aspect := float64(r.Dx()) / float64(max(r.Dy(), 1))
		if aspect > 5 && float64(r.Dx())/float64(w) > 0.3 && r.Dy() < 15 && float64(r.Min.Y) > 0.5*float64(roiHeight) {
			candidates = append(candidates, candidate{y: r.Min.Y + roiY, width: r.Dx()})
		}
	}
	if len(candidates) == 0 {
		return 0, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].width > candidates[j].width })
	return candidates[0].y, true
}

var _ pipeline.LineLocator = (*ZebraLocator)(nil)
