package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"gigatile/internal/tile"
	"gigatile/internal/visible"
)

// Canvas receives the draw calls of a render pass. Destinations are in
// content coordinates; the canvas maps them to its own pixels.
type Canvas interface {
	DrawImage(img image.Image, src image.Rectangle, dst tile.Rect)
}

// ImageCanvas draws into an in-memory image showing the viewport rect of
// the content.
type ImageCanvas struct {
	dst      draw.Image
	viewport tile.Rect
	scale    visible.Scale
	kernel   xdraw.Interpolator
}

// NewImageCanvas maps viewport onto the full bounds of dst.
func NewImageCanvas(dst draw.Image, viewport tile.Rect) *ImageCanvas {
	b := dst.Bounds()
	scale := visible.Scale{}
	if !viewport.Empty() {
		scale = visible.Scale{
			X: float64(b.Dx()) / viewport.Width,
			Y: float64(b.Dy()) / viewport.Height,
		}
	}
	return &ImageCanvas{
		dst:      dst,
		viewport: viewport,
		scale:    scale,
		kernel:   xdraw.ApproxBiLinear,
	}
}

// SetKernel selects the interpolator used when scaling tiles.
func (c *ImageCanvas) SetKernel(kernel xdraw.Interpolator) {
	c.kernel = kernel
}

// Scale is the content-to-pixel scale of the canvas; pass it to Draw.
func (c *ImageCanvas) Scale() visible.Scale {
	return c.scale
}

func (c *ImageCanvas) Viewport() tile.Rect {
	return c.viewport
}

func (c *ImageCanvas) Image() draw.Image {
	return c.dst
}

// Fill paints the whole canvas with col.
func (c *ImageCanvas) Fill(col color.Color) {
	draw.Draw(c.dst, c.dst.Bounds(), image.NewUniform(col), image.Point{}, draw.Src)
}

func (c *ImageCanvas) DrawImage(img image.Image, src image.Rectangle, dst tile.Rect) {
	x0, y0, x1, y1 := c.deviceEdges(dst)
	if !finite(x0, y0, x1, y1) {
		return
	}
	dr := c.deviceRect(dst)
	if dr.Empty() || src.Empty() || !dr.Overlaps(c.dst.Bounds()) {
		return
	}
	if dr.In(c.dst.Bounds()) {
		if dr.Dx() == src.Dx() && dr.Dy() == src.Dy() {
			draw.Draw(c.dst, dr, img, src.Min, draw.Over)
			return
		}
		c.kernel.Scale(c.dst, dr, img, src, xdraw.Over, nil)
		return
	}
	// Partly off-canvas: map source to device with an affine transform so
	// only canvas pixels are visited, however far dr reaches.
	sx := (x1 - x0) / float64(src.Dx())
	sy := (y1 - y0) / float64(src.Dy())
	s2d := f64.Aff3{
		sx, 0, x0 - float64(src.Min.X)*sx,
		0, sy, y0 - float64(src.Min.Y)*sy,
	}
	c.kernel.Transform(c.dst, s2d, img, src, xdraw.Over, nil)
}

// deviceRect converts a content rect to canvas pixels.
func (c *ImageCanvas) deviceRect(r tile.Rect) image.Rectangle {
	x0, y0, x1, y1 := c.deviceEdges(r)
	return image.Rect(clampInt(x0), clampInt(y0), clampInt(x1), clampInt(y1))
}

// deviceEdges rounds each edge independently so adjacent tiles share
// pixel boundaries.
func (c *ImageCanvas) deviceEdges(r tile.Rect) (x0, y0, x1, y1 float64) {
	b := c.dst.Bounds()
	x0 = math.Round((r.X-c.viewport.X)*c.scale.X) + float64(b.Min.X)
	y0 = math.Round((r.Y-c.viewport.Y)*c.scale.Y) + float64(b.Min.Y)
	x1 = math.Round((r.MaxX()-c.viewport.X)*c.scale.X) + float64(b.Min.X)
	y1 = math.Round((r.MaxY()-c.viewport.Y)*c.scale.Y) + float64(b.Min.Y)
	return x0, y0, x1, y1
}

// deviceLimit keeps converted coordinates far from int overflow.
const deviceLimit = 1 << 40

func clampInt(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Max(-deviceLimit, math.Min(deviceLimit, v)))
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
