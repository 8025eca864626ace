package fallback_test

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigatile/internal/fallback"
	"gigatile/internal/tile"
	"gigatile/internal/visible"
)

type mapSource map[tile.Address]image.Image

func (m mapSource) Image(addr tile.Address) (image.Image, bool) {
	img, ok := m[addr]
	return img, ok
}

// markerImage is a size×size image split into a 4×4 grid; each cell is
// filled with a colour encoding its grid position.
func markerImage(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	cell := size / 4
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, markerColor(x/cell, y/cell))
		}
	}
	return img
}

func markerColor(col, row int) color.RGBA {
	return color.RGBA{R: uint8(col * 60), G: uint8(row * 60), B: 200, A: 255}
}

func placementAt(level, col, row, tileSize int) visible.Placement {
	cell := tileSize << level
	return visible.Placement{
		Address: tile.New(level, col, row),
		Rect:    tile.R(float64(col*cell), float64(row*cell), float64(cell), float64(cell)),
	}
}

func TestResolveQuarterCrop(t *testing.T) {
	ancestor := markerImage(256)
	src := mapSource{tile.New(2, 1, 1): ancestor}
	r := fallback.New(src, image.Pt(256, 256), 3)

	// (0,5,6) sits at offset (1,2) inside (2,1,1).
	p := placementAt(0, 5, 6, 256)
	crop, ok := r.Resolve(p)
	require.True(t, ok)

	assert.Equal(t, tile.New(2, 1, 1), crop.Ancestor)
	assert.Equal(t, image.Rect(64, 128, 128, 192), crop.Source)
	assert.Equal(t, crop.Source, crop.Image.Bounds())
	assert.Equal(t, p.Rect, crop.Dest)

	want := markerColor(1, 2)
	b := crop.Image.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			require.Equal(t, want, crop.Image.At(x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestResolvePrefersNearestLevel(t *testing.T) {
	src := mapSource{
		tile.New(1, 0, 0): markerImage(256),
		tile.New(3, 0, 0): markerImage(256),
	}
	r := fallback.New(src, image.Pt(256, 256), 4)

	crop, ok := r.Resolve(placementAt(0, 1, 1, 256))
	require.True(t, ok)
	assert.Equal(t, tile.New(1, 0, 0), crop.Ancestor)
	assert.Equal(t, image.Rect(128, 128, 256, 256), crop.Source)
}

func TestResolveSkipsMissingLevels(t *testing.T) {
	src := mapSource{tile.New(3, 0, 0): markerImage(256)}
	r := fallback.New(src, image.Pt(256, 256), 4)

	crop, ok := r.Resolve(placementAt(0, 7, 0, 256))
	require.True(t, ok)
	assert.Equal(t, tile.New(3, 0, 0), crop.Ancestor)
	assert.Equal(t, image.Rect(224, 0, 256, 32), crop.Source)
}

func TestResolveNothingAvailable(t *testing.T) {
	r := fallback.New(mapSource{}, image.Pt(256, 256), 4)
	_, ok := r.Resolve(placementAt(0, 3, 3, 256))
	assert.False(t, ok)
}

func TestResolveAtCoarsestLevel(t *testing.T) {
	src := mapSource{tile.New(3, 0, 0): markerImage(256)}
	r := fallback.New(src, image.Pt(256, 256), 4)
	_, ok := r.Resolve(placementAt(3, 0, 0, 256))
	assert.False(t, ok)
}

func TestResolveIgnoresFinerLevels(t *testing.T) {
	src := mapSource{tile.New(0, 0, 0): markerImage(256)}
	r := fallback.New(src, image.Pt(256, 256), 3)
	_, ok := r.Resolve(placementAt(1, 0, 0, 256))
	assert.False(t, ok)
}

func TestResolveMalformedCrop(t *testing.T) {
	// A 32px ancestor cannot hold a 64px crop region.
	src := mapSource{tile.New(2, 0, 0): markerImage(32)}
	r := fallback.New(src, image.Pt(256, 256), 3)

	assert.NotPanics(t, func() {
		_, ok := r.Resolve(placementAt(0, 3, 3, 256))
		assert.False(t, ok)
	})
}

func TestResolveClippedEdgeTile(t *testing.T) {
	// 900px content: level-0 tile (3,0) is clipped to 132px wide.
	src := mapSource{tile.New(1, 1, 0): markerImage(256)}
	r := fallback.New(src, image.Pt(256, 256), 2)

	p := visible.Placement{Address: tile.New(0, 3, 0), Rect: tile.R(768, 0, 132, 256)}
	crop, ok := r.Resolve(p)
	require.True(t, ok)
	assert.Equal(t, image.Rect(128, 0, 194, 128), crop.Source)
}

type opaqueImage struct{ image.Image }

func TestResolveWithoutSubImage(t *testing.T) {
	img := opaqueImage{markerImage(256)}
	src := mapSource{tile.New(1, 0, 0): img}
	r := fallback.New(src, image.Pt(256, 256), 2)

	crop, ok := r.Resolve(placementAt(0, 1, 0, 256))
	require.True(t, ok)
	assert.Equal(t, image.Rect(128, 0, 256, 128), crop.Source)
	assert.Equal(t, image.Rect(0, 0, 256, 256), crop.Image.Bounds())
}
