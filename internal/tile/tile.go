// Public domain.

// Package tile divides a catalog box into an RA, Dec grid of cells and
// selects the catalog rows and SDSS fields belonging to each.
package tile

import (
	"github.com/soniakeys/unit"

	"github.com/soniakeys/cs82phot/internal/catalog"
	"github.com/soniakeys/cs82phot/internal/fields"
	"github.com/soniakeys/cs82phot/internal/sky"
)

// Defaults for the CS82 reference field.
const (
	DefaultEdges  = 51
	DefaultMargin = 15 // arc seconds
)

// Grid is box cut by NDec and NRA evenly spaced edges, including the
// box edges, so there are (NDec-1)*(NRA-1) cells.
type Grid struct {
	Box       sky.Box
	NDec, NRA int
	Margin    unit.Angle
}

// NewGrid makes a grid with edges edges on each axis.
func NewGrid(box sky.Box, edges int, margin unit.Angle) *Grid {
	return &Grid{Box: box, NDec: edges, NRA: edges, Margin: margin}
}

// Tile is one grid cell with its rows and fields.
type Tile struct {
	DecSlice, RASlice int
	Slice             int // DecSlice*(NRA-1) + RASlice
	Box               sky.Box

	// Rows are catalog row indices within Box expanded by the margin.
	// Marginal is parallel to Rows, true for rows outside Box.
	Rows     []int
	Marginal []bool
	Margin   unit.Angle
	Fields   []fields.Field
}

// Interior returns the rows that are not marginal.
func (t *Tile) Interior() []int {
	var r []int
	for i, m := range t.Marginal {
		if !m {
			r = append(r, t.Rows[i])
		}
	}
	return r
}

// NMarginal counts the marginal rows.
func (t *Tile) NMarginal() int {
	n := 0
	for _, m := range t.Marginal {
		if m {
			n++
		}
	}
	return n
}

// Cells returns the number of cells.
func (g *Grid) Cells() int {
	return (g.NDec - 1) * (g.NRA - 1)
}

func linspace(a, b unit.Angle, n int) []unit.Angle {
	e := make([]unit.Angle, n)
	if n == 1 {
		e[0] = a
		return e
	}
	for i := range e {
		e[i] = a + (b-a)*unit.Angle(i)/unit.Angle(n-1)
	}
	e[n-1] = b
	return e
}

// Each calls fn for each cell, Dec slices outer and RA slices inner.  The
// Tile passed has only its indices and Box set.  Iteration stops at the
// first error, which is returned.
func (g *Grid) Each(fn func(t *Tile) error) error {
	decs := linspace(g.Box.Dec0, g.Box.Dec1, g.NDec)
	ras := linspace(g.Box.RA0, g.Box.RA1, g.NRA)
	for di := 0; di+1 < len(decs); di++ {
		for ri := 0; ri+1 < len(ras); ri++ {
			t := &Tile{
				DecSlice: di,
				RASlice:  ri,
				Slice:    di*(g.NRA-1) + ri,
				Box:      sky.Box{RA0: ras[ri], RA1: ras[ri+1], Dec0: decs[di], Dec1: decs[di+1]},
			}
			if err := fn(t); err != nil {
				return err
			}
		}
	}
	return nil
}

// Fill selects the catalog rows and fields for t.  It also sets the
// catalog Marginal flags: cleared everywhere, then set for this tile's
// marginal rows.
func (g *Grid) Fill(t *Tile, cat *catalog.Catalog, fs []fields.Field) {
	t.Rows, t.Marginal = Select(cat, t.Box, g.Margin)
	t.Margin = g.Margin
	cat.ClearMarginal()
	for i, r := range t.Rows {
		cat.Sources[r].Marginal = t.Marginal[i]
	}
	t.Fields = Overlapping(fs, t.Box)
}

// Select returns rows of cat within box expanded by margin, and for each
// whether it lies outside box itself.  All tests are closed.
//
// Comparisons are done on angles converted from catalog degrees the same
// way catalog.Bounds converts them, so rows on the outer grid edges test
// exactly equal to the edge.
func Select(cat *catalog.Catalog, box sky.Box, margin unit.Angle) (rows []int, marginal []bool) {
	for i := range cat.Sources {
		ra, dec := cat.Sources[i].Pos()
		if dec+margin >= box.Dec0 && dec-margin <= box.Dec1 &&
			ra+margin >= box.RA0 && ra-margin <= box.RA1 {
			rows = append(rows, i)
			marginal = append(marginal, !box.Contains(ra, dec))
		}
	}
	return
}

// Overlapping returns the fields whose footprint overlaps box, no margin.
func Overlapping(fs []fields.Field, box sky.Box) []fields.Field {
	var out []fields.Field
	for i := range fs {
		if box.Overlaps(fs[i].Box()) {
			out = append(out, fs[i])
		}
	}
	return out
}
