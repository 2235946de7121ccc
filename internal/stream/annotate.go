package stream

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"redlight/internal/pipeline"
)

var (
	colorViolating = color.RGBA{255, 0, 0, 255}
	colorMoving    = color.RGBA{255, 165, 0, 255}
	colorStopped   = color.RGBA{0, 255, 0, 255}
	colorUntracked = color.RGBA{160, 160, 160, 255}
	colorYellow    = color.RGBA{255, 255, 0, 255}
	colorCrosswalk = color.RGBA{0, 200, 255, 255}
	colorBanner    = color.RGBA{0, 0, 0, 180}
	colorText      = color.RGBA{255, 255, 255, 255}
)

var styleColors = map[pipeline.BoxStyle]color.RGBA{
	pipeline.StyleViolating: colorViolating,
	pipeline.StyleMoving:    colorMoving,
	pipeline.StyleStopped:   colorStopped,
	pipeline.StyleUntracked: colorUntracked,
}

// Annotator draws the frame result over the captured image
type Annotator struct {
	Quality int
}

func NewAnnotator(quality int) *Annotator {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &Annotator{Quality: quality}
}

// Annotate returns the frame as JPEG with boxes, the violation line and a status banner
func (a *Annotator) Annotate(frame *pipeline.FrameData, result *pipeline.FrameResult) ([]byte, error) {
	img, err := frame.Image()
	if err != nil {
		return nil, err
	}
	rgba := a.Render(img, result)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: a.Quality}); err != nil {
		return nil, fmt.Errorf("encode annotated frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Render draws onto a copy of img
func (a *Annotator) Render(img image.Image, result *pipeline.FrameResult) *image.RGBA {
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	if line := result.Line; line != nil {
		if cw := line.Crosswalk; cw != nil {
			x, y, w, h := boxRect(*cw)
			drawBox(rgba, x, y, w, h, colorCrosswalk, 2)
		}
		lineColor := colorYellow
		if result.Light.Color == pipeline.LightRed {
			lineColor = colorViolating
		}
		y := int(line.Y)
		drawHLine(rgba, y, lineColor, 3)
		drawLabel(rgba, 10, y-16, "violation line ("+line.Method+")", lineColor)
	}

	assoc := pipeline.AssociateDetections(result.Detections, result.Tracks)
	for i, d := range result.Detections {
		x, y, w, h := boxRect(d.BBox)
		switch {
		case pipeline.IsTrafficLight(d.Class):
			c := lightColor(d.Light)
			drawBox(rgba, x, y, w, h, c, 2)
			label := "light"
			if d.Light != nil {
				label = fmt.Sprintf("light %s %.0f%%", d.Light.Color, d.Light.Confidence*100)
			}
			drawLabel(rgba, x, y-14, label, c)
		case pipeline.IsVehicle(d.Class):
			c := styleColors[assoc[i].Style]
			drawBox(rgba, x, y, w, h, c, 2)
			label := fmt.Sprintf("%s %.0f%%", d.Class, d.Confidence*100)
			if assoc[i].Matched {
				label = fmt.Sprintf("%s #%d %.0f%%", d.Class, assoc[i].TrackID, d.Confidence*100)
			}
			if assoc[i].Style == pipeline.StyleViolating {
				label += " VIOLATION"
			}
			drawLabel(rgba, x, y-14, label, c)
		}
	}

	drawBanner(rgba, bannerText(result), lightColor(&pipeline.LightReading{Color: result.Light.Color}))
	return rgba
}

func bannerText(r *pipeline.FrameResult) string {
	parts := []string{
		"light " + strings.ToUpper(string(r.Light.Color)),
		fmt.Sprintf("tracked %d", r.Stats.Tracked),
		fmt.Sprintf("moving %d", r.Stats.Moving),
		fmt.Sprintf("violations %d", r.Stats.ViolationsTotal),
		fmt.Sprintf("%.1f fps", r.Stats.FPS),
	}
	if p := r.Progress; p != nil && p.Total > 0 {
		parts = append(parts, fmt.Sprintf("%d/%d", p.Position, p.Total))
	}
	return strings.Join(parts, "  ")
}

func lightColor(l *pipeline.LightReading) color.RGBA {
	if l == nil {
		return colorUntracked
	}
	switch l.Color {
	case pipeline.LightRed:
		return colorViolating
	case pipeline.LightYellow:
		return colorYellow
	case pipeline.LightGreen:
		return colorStopped
	}
	return colorUntracked
}

func boxRect(b pipeline.BBox) (x, y, w, h int) {
	return int(b.X1), int(b.Y1), int(b.Width()), int(b.Height())
}

// drawBox draws a rectangle outline on the image
func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	r := image.Rect(x, y, x+w, y+h)
	for t := 0; t < thickness; t++ {
		fill(img, image.Rect(r.Min.X, r.Min.Y+t, r.Max.X, r.Min.Y+t+1), c)
		fill(img, image.Rect(r.Min.X, r.Max.Y-t-1, r.Max.X, r.Max.Y-t), c)
		fill(img, image.Rect(r.Min.X+t, r.Min.Y, r.Min.X+t+1, r.Max.Y), c)
		fill(img, image.Rect(r.Max.X-t-1, r.Min.Y, r.Max.X-t, r.Max.Y), c)
	}
}

func drawHLine(img *image.RGBA, y int, c color.RGBA, thickness int) {
	b := img.Bounds()
	top := y - thickness/2
	fill(img, image.Rect(b.Min.X, top, b.Max.X, top+thickness), c)
}

// fill paints r clipped to the image. Translucent colors blend over the pixels below.
func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	op := draw.Src
	if c.A < 255 {
		op = draw.Over
	}
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, op)
}

// drawLabel draws text on a dark background
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 2 {
		y = 2
	}
	if x < 0 {
		x = 0
	}
	textWidth := len(label) * 7
	fill(img, image.Rect(x-2, y-2, x+textWidth+2, y+12), colorBanner)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}

// drawBanner writes the status line across the top of the frame
func drawBanner(img *image.RGBA, text string, accent color.RGBA) {
	b := img.Bounds()
	fill(img, image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+20), colorBanner)
	fill(img, image.Rect(b.Min.X, b.Min.Y, b.Min.X+6, b.Min.Y+20), accent)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(colorText),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(b.Min.X + 12), Y: fixed.I(b.Min.Y + 15)},
	}
	d.DrawString(text)
}

var _ pipeline.FrameAnnotator = (*Annotator)(nil)
