package render

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	xdraw "golang.org/x/image/draw"

	"gigatile/internal/tile"
	"gigatile/internal/visible"
)

func uniform(size int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

func TestImageCanvasScale(t *testing.T) {
	c := NewImageCanvas(image.NewRGBA(image.Rect(0, 0, 200, 100)), tile.R(0, 0, 400, 400))
	assert.Equal(t, visible.Scale{X: 0.5, Y: 0.25}, c.Scale())

	empty := NewImageCanvas(image.NewRGBA(image.Rect(0, 0, 10, 10)), tile.Rect{})
	assert.Equal(t, visible.Scale{}, empty.Scale())
}

func TestImageCanvasDrawsAtViewportOffset(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	c := NewImageCanvas(image.NewRGBA(image.Rect(0, 0, 100, 100)), tile.R(100, 100, 100, 100))
	c.Fill(white)

	src := uniform(50, red)
	c.DrawImage(src, src.Bounds(), tile.R(150, 150, 50, 50))

	img := c.Image()
	assert.Equal(t, red, img.At(60, 60))
	assert.Equal(t, red, img.At(99, 99))
	assert.Equal(t, white, img.At(49, 49))
}

func TestImageCanvasScalesSource(t *testing.T) {
	blue := color.RGBA{B: 255, A: 255}
	c := NewImageCanvas(image.NewRGBA(image.Rect(0, 0, 64, 64)), tile.R(0, 0, 256, 256))
	c.SetKernel(xdraw.NearestNeighbor)

	src := uniform(256, blue)
	c.DrawImage(src, src.Bounds(), tile.R(0, 0, 256, 256))
	assert.Equal(t, blue, c.Image().At(0, 0))
	assert.Equal(t, blue, c.Image().At(63, 63))
}

func TestImageCanvasSkipsOffscreen(t *testing.T) {
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	c := NewImageCanvas(image.NewRGBA(image.Rect(0, 0, 10, 10)), tile.R(0, 0, 10, 10))
	c.Fill(white)

	src := uniform(10, color.RGBA{A: 255})
	c.DrawImage(src, src.Bounds(), tile.R(20, 20, 10, 10))
	c.DrawImage(src, image.Rectangle{}, tile.R(0, 0, 10, 10))
	assert.Equal(t, white, c.Image().At(5, 5))
}

func TestDeviceRectSharesEdges(t *testing.T) {
	c := NewImageCanvas(image.NewRGBA(image.Rect(0, 0, 100, 100)), tile.R(0, 0, 300, 300))
	a := c.deviceRect(tile.R(0, 0, 100, 100))
	b := c.deviceRect(tile.R(100, 0, 100, 100))
	assert.Equal(t, a.Max.X, b.Min.X)
}

func TestImageCanvasExtremeMagnification(t *testing.T) {
	green := color.RGBA{G: 200, A: 255}
	red := color.RGBA{R: 255, A: 255}
	src := uniform(256, green)
	draw.Draw(src, image.Rect(0, 0, 128, 256), image.NewUniform(red), image.Point{}, draw.Src)

	// A viewport a billionth of a pixel wide puts the tile edges about
	// 10^13 device pixels away from the canvas.
	viewport := tile.R(200, 100, 1e-9, 1e-9)

	c := NewImageCanvas(image.NewRGBA(image.Rect(0, 0, 64, 64)), viewport)
	c.SetKernel(xdraw.NearestNeighbor)
	assert.NotPanics(t, func() {
		c.DrawImage(src, src.Bounds(), tile.R(0, 0, 256, 256))
	})
	assert.Equal(t, green, c.Image().At(0, 0))
	assert.Equal(t, green, c.Image().At(63, 63))

	c = NewImageCanvas(image.NewRGBA(image.Rect(0, 0, 64, 64)), viewport)
	assert.NotPanics(t, func() {
		c.DrawImage(src, src.Bounds(), tile.R(0, 0, 256, 256))
	})
	got := c.Image().At(32, 32).(color.RGBA)
	assert.InDelta(t, green.G, got.G, 2)
	assert.InDelta(t, 0, got.R, 2)
}

func TestImageCanvasPartlyOffscreenTile(t *testing.T) {
	blue := color.RGBA{B: 255, A: 255}
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	c := NewImageCanvas(image.NewRGBA(image.Rect(0, 0, 100, 100)), tile.R(0, 0, 100, 100))
	c.SetKernel(xdraw.NearestNeighbor)
	c.Fill(white)

	src := uniform(50, blue)
	c.DrawImage(src, src.Bounds(), tile.R(50, 50, 100, 100))
	assert.Equal(t, white, c.Image().At(49, 49))
	assert.Equal(t, blue, c.Image().At(50, 50))
	assert.Equal(t, blue, c.Image().At(99, 99))
}
