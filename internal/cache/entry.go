package cache

import (
	"image"

	"gigatile/internal/tile"
)

// Entry is the cached state of one tile. Its rect is fixed at creation;
// the image is filled in once the tile's fetch resolves.
type Entry struct {
	addr  tile.Address
	rect  tile.Rect
	image image.Image
	cost  int
}

// NewEntry creates an imageless placeholder for addr drawn at rect.
func NewEntry(addr tile.Address, rect tile.Rect) *Entry {
	return &Entry{addr: addr, rect: rect}
}

func (e *Entry) Address() tile.Address { return e.addr }
func (e *Entry) Rect() tile.Rect       { return e.rect }
func (e *Entry) Image() image.Image    { return e.image }

func (e *Entry) HasImage() bool {
	return e.image != nil
}
