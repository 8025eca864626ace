// Package viewport maps between a container (the view, in device pixels)
// and the content it shows.
package viewport

import (
	"image"
	"math"

	"gigatile/internal/tile"
)

// Point is a position in either view or content coordinates.
type Point struct {
	X float64
	Y float64
}

// DefaultScale is the scale at which the whole content fits the shorter
// side of the container. It is zero for degenerate sizes.
func DefaultScale(container, content image.Point) float64 {
	longest := max(content.X, content.Y)
	shortest := min(container.X, container.Y)
	if longest <= 0 || shortest <= 0 {
		return 0
	}
	return float64(shortest) / float64(longest)
}

// MaxScale bounds how far content pixels are magnified on the device.
const MaxScale = 16

// MaxZoom is the largest zoom that keeps the scale within MaxScale. It is
// zero for degenerate sizes.
func MaxZoom(container, content image.Point) float64 {
	s := DefaultScale(container, content)
	if s <= 0 {
		return 0
	}
	return MaxScale / s
}

// Viewport is a container showing content at DefaultScale*Zoom, centred
// on a content point.
type Viewport struct {
	container image.Point
	content   image.Point
	zoom      float64
	center    Point
}

// New returns a viewport at zoom 1 centred on the content.
func New(container, content image.Point) *Viewport {
	return &Viewport{
		container: container,
		content:   content,
		zoom:      1,
		center:    Point{X: float64(content.X) / 2, Y: float64(content.Y) / 2},
	}
}

func (v *Viewport) Container() image.Point { return v.container }
func (v *Viewport) Content() image.Point   { return v.content }
func (v *Viewport) Zoom() float64          { return v.zoom }
func (v *Viewport) Center() Point          { return v.center }

// Scale is the content-to-device scale.
func (v *Viewport) Scale() float64 {
	return DefaultScale(v.container, v.content) * v.zoom
}

// SetZoom changes the zoom factor relative to DefaultScale, capped at
// MaxZoom. Non-positive and non-finite values are ignored.
func (v *Viewport) SetZoom(zoom float64) {
	if zoom <= 0 || math.IsNaN(zoom) || math.IsInf(zoom, 0) {
		return
	}
	if limit := MaxZoom(v.container, v.content); limit > 0 {
		zoom = math.Min(zoom, limit)
	}
	v.zoom = zoom
}

// SetCenter moves the viewport, clamping the centre to the content bounds.
func (v *Viewport) SetCenter(p Point) {
	v.center = Point{
		X: clamp(p.X, 0, float64(v.content.X)),
		Y: clamp(p.Y, 0, float64(v.content.Y)),
	}
}

// ZoomTo centres on p at the given zoom.
func (v *Viewport) ZoomTo(p Point, zoom float64) {
	v.SetZoom(zoom)
	v.SetCenter(p)
}

// Reset restores zoom 1 centred on the content.
func (v *Viewport) Reset() {
	*v = *New(v.container, v.content)
}

// VisibleRect is the content region covered by the container. It may
// extend past the content bounds.
func (v *Viewport) VisibleRect() tile.Rect {
	s := v.Scale()
	if s <= 0 {
		return tile.Rect{}
	}
	w := float64(v.container.X) / s
	h := float64(v.container.Y) / s
	return tile.R(v.center.X-w/2, v.center.Y-h/2, w, h)
}

// ViewToImage converts a container point to content coordinates.
func (v *Viewport) ViewToImage(p Point) Point {
	s := v.Scale()
	if s <= 0 {
		return Point{}
	}
	r := v.VisibleRect()
	return Point{X: r.X + p.X/s, Y: r.Y + p.Y/s}
}

// ImageToView converts a content point to container coordinates.
func (v *Viewport) ImageToView(p Point) Point {
	s := v.Scale()
	r := v.VisibleRect()
	return Point{X: (p.X - r.X) * s, Y: (p.Y - r.Y) * s}
}

func clamp(x, lo, hi float64) float64 {
	return math.Min(math.Max(x, lo), hi)
}
