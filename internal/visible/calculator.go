// Package visible computes which pyramid tiles cover a viewport.
package visible

import (
	"image"
	"math"

	"gigatile/internal/tile"
)

// Scale is the per-axis scale of the current draw transform: content
// units to device points, with the zoom already applied. A negative Y
// (flipped transform) is treated by magnitude.
type Scale struct {
	X float64
	Y float64
}

// Uniform returns a Scale with the same factor on both axes.
func Uniform(s float64) Scale {
	return Scale{X: s, Y: s}
}

// Params describes one visibility query.
type Params struct {
	// Rect is the region to cover, in content coordinates.
	Rect tile.Rect
	// TileSize is the nominal tile size in pixels. Zero means the whole
	// content is a single tile.
	TileSize image.Point
	Scale    Scale
	// Bounds is the content (image) size at native resolution.
	Bounds image.Point
	// ZoomLevels is the pyramid depth; levels are clamped to [0, ZoomLevels-1].
	// Zero leaves the level unclamped above.
	ZoomLevels int
}

// Placement pairs a tile address with the rect it is drawn into.
type Placement struct {
	Address tile.Address
	Rect    tile.Rect
}

type Result struct {
	Level int
	// TileSize is the content-space size of one cell at Level.
	TileSize   image.Point
	Placements []Placement
}

// Level returns the pyramid level for a scale factor: -round(log2(scale)).
// Zooming out by each power of two moves one level up.
func Level(scale float64) int {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return 0
	}
	return -int(math.Round(math.Log2(scale)))
}

// NominalTileSize resolves a zero tile size to the whole content.
func NominalTileSize(tileSize, bounds image.Point) image.Point {
	if tileSize.X <= 0 || tileSize.Y <= 0 {
		return bounds
	}
	return tileSize
}

// CellSize returns the content-space size of a cell at level.
func CellSize(tileSize image.Point, level int) image.Point {
	levelScale := math.Exp2(float64(-level))
	return image.Pt(
		int(math.Round(float64(tileSize.X)/levelScale)),
		int(math.Round(float64(tileSize.Y)/levelScale)),
	)
}

// Compute returns the tiles intersecting p.Rect in row-major order.
// Degenerate input (non-positive bounds or scale, empty rect) yields no
// placements.
func Compute(p Params) Result {
	if p.Bounds.X <= 0 || p.Bounds.Y <= 0 {
		return Result{}
	}
	scaleX := math.Abs(p.Scale.X)
	scaleY := math.Abs(p.Scale.Y)
	if scaleX == 0 || scaleY == 0 || math.IsNaN(scaleX) || math.IsNaN(scaleY) {
		return Result{}
	}

	level := Level(scaleX)
	if p.ZoomLevels > 0 && level > p.ZoomLevels-1 {
		level = p.ZoomLevels - 1
	}
	if level < 0 {
		level = 0
	}

	nominal := NominalTileSize(p.TileSize, p.Bounds)
	cell := CellSize(nominal, level)
	if cell.X <= 0 || cell.Y <= 0 {
		return Result{Level: level}
	}

	content := tile.FromSize(p.Bounds)
	rect := p.Rect.Intersect(content)
	if rect.Empty() {
		return Result{Level: level, TileSize: cell}
	}

	tileW := float64(cell.X)
	tileH := float64(cell.Y)
	firstCol := int(math.Floor(rect.X / tileW))
	lastCol := int(math.Floor((rect.MaxX() - 1) / tileW))
	firstRow := int(math.Floor(rect.Y / tileH))
	lastRow := int(math.Floor((rect.MaxY() - 1) / tileH))
	// Sub-pixel rects narrower than one unit still need their own cell.
	if lastCol < firstCol {
		lastCol = firstCol
	}
	if lastRow < firstRow {
		lastRow = firstRow
	}

	placements := make([]Placement, 0, (lastCol-firstCol+1)*(lastRow-firstRow+1))
	for row := firstRow; row <= lastRow; row++ {
		for col := firstCol; col <= lastCol; col++ {
			cellRect := tile.R(tileW*float64(col), tileH*float64(row), tileW, tileH)
			placements = append(placements, Placement{
				Address: tile.New(level, col, row),
				Rect:    content.Intersect(cellRect),
			})
		}
	}

	return Result{Level: level, TileSize: cell, Placements: placements}
}

// LevelCount returns how many levels a pyramid needs so that its
// coarsest level fits the content in a single tile.
func LevelCount(tileSize, bounds image.Point) int {
	nominal := NominalTileSize(tileSize, bounds)
	if nominal.X <= 0 || nominal.Y <= 0 {
		return 1
	}
	maxRatio := math.Max(float64(bounds.X)/float64(nominal.X), float64(bounds.Y)/float64(nominal.Y))
	levels := int(math.Ceil(math.Log2(maxRatio))) + 1
	if levels < 1 {
		return 1
	}
	return levels
}

// Grid returns the number of columns and rows at level.
func Grid(tileSize, bounds image.Point, level int) (int, int) {
	cell := CellSize(NominalTileSize(tileSize, bounds), level)
	if cell.X <= 0 || cell.Y <= 0 {
		return 0, 0
	}
	cols := (bounds.X + cell.X - 1) / cell.X
	rows := (bounds.Y + cell.Y - 1) / cell.Y
	return cols, rows
}

// SourceRect maps dest, in content coordinates, into the pixel space of
// the image of tile owner, assuming the image holds tileSize pixels per
// full cell. For a child of owner this is the
// (offset * tileSize/scaleDiff, tileSize/scaleDiff) square; clipped edge
// rects map to the matching fraction. It reports false when the result
// is empty or falls outside bounds.
func SourceRect(tileSize image.Point, owner tile.Address, dest tile.Rect, bounds image.Rectangle) (image.Rectangle, bool) {
	cell := CellSize(tileSize, owner.Level)
	if cell.X <= 0 || cell.Y <= 0 {
		return image.Rectangle{}, false
	}
	ppuX := float64(tileSize.X) / float64(cell.X)
	ppuY := float64(tileSize.Y) / float64(cell.Y)
	originX := float64(owner.Column * cell.X)
	originY := float64(owner.Row * cell.Y)

	src := image.Rect(
		int(math.Round((dest.X-originX)*ppuX)),
		int(math.Round((dest.Y-originY)*ppuY)),
		int(math.Round((dest.MaxX()-originX)*ppuX)),
		int(math.Round((dest.MaxY()-originY)*ppuY)),
	).Add(bounds.Min)

	if src.Empty() || !src.In(bounds) {
		return image.Rectangle{}, false
	}
	return src, true
}
