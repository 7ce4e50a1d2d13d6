// Public domain.

// Package sky, small spherical astronomy helpers for survey footprints.
//
// Boxes are RA/Dec rectangles, closed on all edges.  No attempt is made
// to handle RA wrap-around at 0/360; see CheckWrap.
package sky

import (
	"errors"
	"math"

	"github.com/soniakeys/coord"
	"github.com/soniakeys/unit"
)

// ErrWrapAround is returned by CheckWrap for boxes that look like they
// straddle RA 0/360.
var ErrWrapAround = errors.New("sky: RA range crosses 0/360, not supported")

// MaxRASpan is the widest RA extent CheckWrap accepts.
var MaxRASpan = unit.AngleFromDeg(2)

// Box is an RA, Dec rectangle.
type Box struct {
	RA0, RA1   unit.Angle
	Dec0, Dec1 unit.Angle
}

// BoxFromDeg is a convenience constructor taking degrees.
func BoxFromDeg(ra0, ra1, dec0, dec1 float64) Box {
	return Box{
		RA0:  unit.AngleFromDeg(ra0),
		RA1:  unit.AngleFromDeg(ra1),
		Dec0: unit.AngleFromDeg(dec0),
		Dec1: unit.AngleFromDeg(dec1),
	}
}

// Center returns the box midpoint, computed naively in RA and Dec.
func (b Box) Center() (ra, dec unit.Angle) {
	return (b.RA0 + b.RA1) * .5, (b.Dec0 + b.Dec1) * .5
}

// Radius is half the box diagonal, again ignoring cos(dec).
func (b Box) Radius() unit.Angle {
	return unit.Angle(.5 * math.Hypot((b.RA1 - b.RA0).Rad(), (b.Dec1 - b.Dec0).Rad()))
}

// Contains tests a position against the closed box.
func (b Box) Contains(ra, dec unit.Angle) bool {
	return dec >= b.Dec0 && dec <= b.Dec1 && ra >= b.RA0 && ra <= b.RA1
}

// Encloses is true if o lies entirely within b.
func (b Box) Encloses(o Box) bool {
	return o.RA0 >= b.RA0 && o.RA1 <= b.RA1 && o.Dec0 >= b.Dec0 && o.Dec1 <= b.Dec1
}

// Overlaps is the simple box overlap test.  Touching edges overlap.
func (b Box) Overlaps(o Box) bool {
	return !(o.Dec0 > b.Dec1 || o.Dec1 < b.Dec0) &&
		!(o.RA0 > b.RA1 || o.RA1 < b.RA0)
}

// Expand returns b grown by m on every side.
func (b Box) Expand(m unit.Angle) Box {
	return Box{b.RA0 - m, b.RA1 + m, b.Dec0 - m, b.Dec1 + m}
}

// CheckWrap returns ErrWrapAround if the RA extent of b is MaxRASpan or
// more.  Catalogs of a single survey field are much smaller than that, so
// a wide extent means positions on both sides of RA 0.
func CheckWrap(b Box) error {
	if b.RA1-b.RA0 >= MaxRASpan {
		return ErrWrapAround
	}
	return nil
}

// Cart returns the unit vector for an equatorial position.
func Cart(ra, dec unit.Angle) coord.Cart {
	sr, cr := math.Sincos(ra.Rad())
	sd, cd := math.Sincos(dec.Rad())
	return coord.Cart{X: cd * cr, Y: cd * sr, Z: sd}
}

// ChordSq converts an angular distance to the squared distance between
// unit vectors separated by that angle.
func ChordSq(a unit.Angle) float64 {
	c := 2 * math.Sin(a.Rad()/2)
	return c * c
}

// Within reports whether two positions are closer than r, using the
// chord distance of their unit vectors.
func Within(ra1, dec1, ra2, dec2, r unit.Angle) bool {
	p1 := Cart(ra1, dec1)
	p2 := Cart(ra2, dec2)
	var d coord.Cart
	d.Sub(&p1, &p2)
	return d.Square() < ChordSq(r)
}

// MuNuToRaDec converts SDSS great circle coordinates to equatorial.
//
// Node and incl define the great circle of the scan.  Returned RA is in
// [0, 2π).
func MuNuToRaDec(mu, nu, node, incl unit.Angle) (ra, dec unit.Angle) {
	smn, cmn := math.Sincos((mu - node).Rad())
	sn, cn := math.Sincos(nu.Rad())
	si, ci := math.Sincos(incl.Rad())
	r := node.Rad() + math.Atan2(smn*cn*ci-sn*si, cmn*cn)
	d := math.Asin(smn*cn*si + sn*ci)
	if r < 0 {
		r += 2 * math.Pi
	}
	return unit.Angle(r), unit.Angle(d)
}
