// Public domain.

// Package xmatch does nearest neighbor matching of sky positions.
package xmatch

import (
	"sort"

	"github.com/soniakeys/meeus/v3/angle"
	"github.com/soniakeys/unit"
)

// Index is a set of positions sorted by declination for radius queries.
type Index struct {
	ra, dec []unit.Angle
	ord     []int // ord[k] is the caller's index of sorted position k
}

// NewIndex indexes positions given in degrees.
func NewIndex(ra, dec []float64) *Index {
	x := &Index{
		ra:  make([]unit.Angle, len(ra)),
		dec: make([]unit.Angle, len(ra)),
		ord: make([]int, len(ra)),
	}
	for i := range x.ord {
		x.ord[i] = i
	}
	sort.SliceStable(x.ord, func(i, j int) bool {
		return dec[x.ord[i]] < dec[x.ord[j]]
	})
	for k, i := range x.ord {
		x.ra[k] = unit.AngleFromDeg(ra[i])
		x.dec[k] = unit.AngleFromDeg(dec[i])
	}
	return x
}

// Len is the number of indexed positions.
func (x *Index) Len() int { return len(x.ord) }

// Nearest returns the index of the position nearest (ra, dec) and its
// separation, if one is within r.  Ties go to the lower index.
func (x *Index) Nearest(ra, dec, r unit.Angle) (j int, d unit.Angle, ok bool) {
	k0 := sort.Search(len(x.dec), func(k int) bool { return x.dec[k] >= dec-r })
	j = -1
	for k := k0; k < len(x.dec) && x.dec[k] <= dec+r; k++ {
		s := angle.Sep(ra, dec, x.ra[k], x.dec[k])
		if s > r {
			continue
		}
		if j < 0 || s < d || s == d && x.ord[k] < j {
			j, d = x.ord[k], s
		}
	}
	return j, d, j >= 0
}

// Match finds for each position of set 1 the nearest position of set 2
// within r.  Positions in degrees.  I and J are parallel index slices of
// matched pairs, D the separations.  Unmatched positions are simply absent.
func Match(ra1, dec1, ra2, dec2 []float64, r unit.Angle) (I, J []int, D []unit.Angle) {
	x := NewIndex(ra2, dec2)
	for i := range ra1 {
		j, d, ok := x.Nearest(unit.AngleFromDeg(ra1[i]), unit.AngleFromDeg(dec1[i]), r)
		if ok {
			I = append(I, i)
			J = append(J, j)
			D = append(D, d)
		}
	}
	return
}
