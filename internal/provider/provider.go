// Package provider supplies tile images for a pyramid. The engine only
// sees the Provider interface; implementations decide where pixels come
// from.
package provider

import (
	"context"
	"errors"
	"fmt"
	"image"

	"gigatile/internal/tile"
)

var ErrInvalidConfig = errors.New("provider: invalid configuration")

type Provider interface {
	// ImageSize is the content size at native resolution.
	ImageSize() image.Point
	// TileSize is the nominal tile cell size in pixels. Zero means
	// ImageSize is served as one tile.
	TileSize() image.Point
	// ZoomLevels is the pyramid depth.
	ZoomLevels() int

	// FetchTile returns the image of addr, or nil with a nil error if the
	// tile does not exist.
	FetchTile(ctx context.Context, addr tile.Address) (image.Image, error)
	// FetchBackground returns a low resolution image of the whole content,
	// or nil if there is none.
	FetchBackground(ctx context.Context) (image.Image, error)
}

// Geometry is the static description of a pyramid.
type Geometry struct {
	ImageWidth  int `json:"image_width"`
	ImageHeight int `json:"image_height"`
	TileWidth   int `json:"tile_width"`
	TileHeight  int `json:"tile_height"`
	ZoomLevels  int `json:"zoom_levels"`
}

func (g Geometry) ImageSize() image.Point { return image.Pt(g.ImageWidth, g.ImageHeight) }
func (g Geometry) TileSize() image.Point  { return image.Pt(g.TileWidth, g.TileHeight) }

func (g Geometry) Validate() error {
	if g.ImageWidth <= 0 || g.ImageHeight <= 0 {
		return fmt.Errorf("%w: image size must be positive", ErrInvalidConfig)
	}
	if g.TileWidth < 0 || g.TileHeight < 0 {
		return fmt.Errorf("%w: tile size must not be negative", ErrInvalidConfig)
	}
	if g.ZoomLevels <= 0 {
		return fmt.Errorf("%w: zoom levels must be positive", ErrInvalidConfig)
	}
	return nil
}
