package tile

import (
	"fmt"
	"image"
)

// Address identifies one cell of the tile pyramid.
// Level 0 is native resolution; each higher level halves the resolution.
type Address struct {
	Level  int
	Column int
	Row    int
}

func New(level, column, row int) Address {
	return Address{Level: level, Column: column, Row: row}
}

// Key returns the canonical cache key "{level}-{column}-{row}".
func (a Address) Key() string {
	return fmt.Sprintf("%d-%d-%d", a.Level, a.Column, a.Row)
}

func (a Address) String() string {
	return a.Key()
}

// ScaleDiff returns 2^(level-a.Level), the number of a's cells spanned by
// one cell at the coarser level.
func (a Address) ScaleDiff(level int) int {
	if level <= a.Level {
		return 1
	}
	return 1 << uint(level-a.Level)
}

// Ancestor returns the tile at the coarser level that covers a, together
// with a's column/row offset inside that ancestor. It reports false when
// level is not coarser than a.Level.
func (a Address) Ancestor(level int) (Address, image.Point, bool) {
	if level <= a.Level {
		return Address{}, image.Point{}, false
	}
	diff := a.ScaleDiff(level)
	parent := Address{
		Level:  level,
		Column: floorDiv(a.Column, diff),
		Row:    floorDiv(a.Row, diff),
	}
	offset := image.Pt(floorMod(a.Column, diff), floorMod(a.Row, diff))
	return parent, offset, true
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
