// Package sparkline maps a bounded sample history to a compact polyline.
package sparkline

import (
	"fmt"
	"html"
	"strconv"
	"strings"
)

// Options controls one rendering.
type Options struct {
	Name     string // Label prefix, e.g. "Video FPS"
	Width    int
	Height   int
	Decimals int
	Color    string
}

// DefaultOptions matches the dashboard cards.
func DefaultOptions(name, color string) Options {
	return Options{Name: name, Width: 110, Height: 50, Decimals: 1, Color: color}
}

// Point is a position in the sparkline's local pixel space.
type Point struct {
	X, Y float64
}

// Sparkline is the rendered result. Points is nil when there were no samples.
type Sparkline struct {
	Label  string
	Points []Point
	Width  int
	Height int
	Color  string
}

// Available reports whether a graphic was produced.
func (s Sparkline) Available() bool {
	return len(s.Points) > 0
}

// Render maps samples into [1, width-1] x [1, height-1] with larger values higher up.
func Render(samples []float64, opts Options) Sparkline {
	out := Sparkline{Width: opts.Width, Height: opts.Height, Color: opts.Color}
	if len(samples) == 0 {
		out.Label = opts.Name + ": n/a"
		return out
	}

	lo, hi := samples[0], samples[0]
	for _, v := range samples[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	span := hi - lo
	flat := span == 0
	if flat {
		span = 1
	}

	div := float64(len(samples) - 1)
	if div == 0 {
		div = 1
	}
	w := float64(opts.Width - 2)
	h := float64(opts.Height - 2)

	out.Points = make([]Point, len(samples))
	for i, v := range samples {
		norm := (v - lo) / span
		if flat {
			norm = 0.5
		}
		out.Points[i] = Point{
			X: float64(i)/div*w + 1,
			Y: float64(opts.Height-1) - norm*h,
		}
	}

	latest := samples[len(samples)-1]
	out.Label = opts.Name + ": " + strconv.FormatFloat(latest, 'f', opts.Decimals, 64)
	return out
}

// PolylinePoints formats Points as an SVG points attribute.
func (s Sparkline) PolylinePoints() string {
	var b strings.Builder
	for i, p := range s.Points {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatFloat(p.X, 'f', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(p.Y, 'f', -1, 64))
	}
	return b.String()
}

// SVG returns a standalone SVG document, or "" when no graphic is available.
func (s Sparkline) SVG() string {
	if !s.Available() {
		return ""
	}
	return fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d"><polyline fill="none" stroke="%s" stroke-width="1.5" points="%s"/></svg>`,
		s.Width, s.Height, html.EscapeString(s.Color), s.PolylinePoints(),
	)
}
