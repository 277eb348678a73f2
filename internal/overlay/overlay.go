// Package overlay composites decoded frames with detection boxes and label chips.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/pkg/types"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Style is the fixed stroke and chip style used for every detection.
type Style struct {
	Stroke      color.RGBA
	StrokeWidth int
	ChipFill    color.NRGBA
	Text        color.RGBA
	Face        font.Face
	TextHeight  int
}

// DefaultStyle draws red 2px boxes with a translucent red chip and white text.
func DefaultStyle() Style {
	return Style{
		Stroke:      color.RGBA{R: 255, A: 255},
		StrokeWidth: 2,
		ChipFill:    color.NRGBA{R: 255, A: 102},
		Text:        color.RGBA{R: 255, G: 255, B: 255, A: 255},
		Face:        basicfont.Face7x13,
		TextHeight:  12,
	}
}

// Label formats the chip text for one detection.
func Label(d types.Detection) string {
	return fmt.Sprintf("cls:%d %.1f%%", d.Class, d.Confidence*100)
}

// Compositor draws frames and overlays onto a reusable render target.
type Compositor struct {
	style Style
}

// NewCompositor creates a Compositor with the given style.
func NewCompositor(style Style) *Compositor {
	if style.Face == nil {
		style.Face = basicfont.Face7x13
	}
	if style.TextHeight <= 0 {
		style.TextHeight = 12
	}
	if style.StrokeWidth <= 0 {
		style.StrokeWidth = 1
	}
	return &Compositor{style: style}
}

// Resize returns dst when it already matches the frame's size, otherwise a new
// target sized to the frame with its origin at (0,0).
func Resize(dst *image.RGBA, frame image.Rectangle) *image.RGBA {
	want := image.Rect(0, 0, frame.Dx(), frame.Dy())
	if dst != nil && dst.Bounds() == want {
		return dst
	}
	return image.NewRGBA(want)
}

// Compose draws frame at the origin of dst (resized as needed) followed by one
// box and label chip per detection, and returns the target actually drawn to.
func (c *Compositor) Compose(dst *image.RGBA, frame image.Image, dets []types.Detection) *image.RGBA {
	dst = Resize(dst, frame.Bounds())
	draw.Draw(dst, dst.Bounds(), frame, frame.Bounds().Min, draw.Src)
	for _, d := range dets {
		c.drawDetection(dst, d)
	}
	return dst
}

func (c *Compositor) drawDetection(dst *image.RGBA, d types.Detection) {
	x1 := round(d.Box[0])
	y1 := round(d.Box[1])
	x2 := round(d.Box[2])
	y2 := round(d.Box[3])
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}

	strokeRect(dst, image.Rect(x1, y1, x2, y2), c.style.StrokeWidth, c.style.Stroke)

	label := Label(d)
	textWidth := font.MeasureString(c.style.Face, label).Ceil()
	th := c.style.TextHeight
	chip := image.Rect(x1, y1-th, x1+textWidth+4, y1+2)
	draw.Draw(dst, chip, image.NewUniform(c.style.ChipFill), image.Point{}, draw.Over)

	drawer := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c.style.Text),
		Face: c.style.Face,
		Dot:  fixed.P(x1+2, y1-2),
	}
	drawer.DrawString(label)
}

// strokeRect draws an unfilled rectangle whose outline grows inward from r.
func strokeRect(dst *image.RGBA, r image.Rectangle, width int, col color.RGBA) {
	src := image.NewUniform(col)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width), // top
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y), // bottom
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y), // left
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y), // right
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

func round(v float64) int {
	return int(math.Round(v))
}

// Thumbnail scales src down to width pixels wide, keeping the aspect ratio.
// Images already narrower than width are returned unchanged.
func Thumbnail(src image.Image, width int) image.Image {
	b := src.Bounds()
	if width <= 0 || b.Dx() <= width {
		return src
	}
	height := max(1, b.Dy()*width/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
