// Package fallback finds lower-resolution stand-ins for tiles that are
// still being fetched.
package fallback

import (
	"image"

	"gigatile/internal/tile"
	"gigatile/internal/visible"
)

// ImageSource looks up already fetched tile images.
type ImageSource interface {
	Image(addr tile.Address) (image.Image, bool)
}

// Crop is a region of an ancestor tile image to be scaled into Dest.
type Crop struct {
	Ancestor tile.Address
	// Image is the cropped sub-image when the ancestor supports SubImage,
	// otherwise the full ancestor image; Source always names the region.
	Image  image.Image
	Source image.Rectangle
	Dest   tile.Rect
}

type Resolver struct {
	source     ImageSource
	tileSize   image.Point
	zoomLevels int
}

// New creates a resolver for a pyramid with the given nominal tile size
// (already resolved against the content size) and depth.
func New(source ImageSource, tileSize image.Point, zoomLevels int) *Resolver {
	return &Resolver{
		source:     source,
		tileSize:   tileSize,
		zoomLevels: zoomLevels,
	}
}

// Resolve walks coarser levels, nearest first, and returns a crop of the
// first cached ancestor that covers p. It reports false when no level
// above p has a usable image.
func (r *Resolver) Resolve(p visible.Placement) (Crop, bool) {
	if r.tileSize.X <= 0 || r.tileSize.Y <= 0 || p.Rect.Empty() {
		return Crop{}, false
	}
	for level := p.Address.Level + 1; level <= r.zoomLevels-1; level++ {
		ancestor, _, ok := p.Address.Ancestor(level)
		if !ok {
			continue
		}
		img, ok := r.source.Image(ancestor)
		if !ok {
			continue
		}
		src, ok := visible.SourceRect(r.tileSize, ancestor, p.Rect, img.Bounds())
		if !ok {
			continue
		}
		return Crop{
			Ancestor: ancestor,
			Image:    subImage(img, src),
			Source:   src,
			Dest:     p.Rect,
		}, true
	}
	return Crop{}, false
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func subImage(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	return img
}
