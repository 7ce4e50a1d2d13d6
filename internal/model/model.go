// Public domain.

// Package model has the typed source descriptions that are rendered and
// fit: point sources and exponential, de Vaucouleurs, and composite
// galaxies.
//
// Source is a closed sum type.  Each variant carries its position, its
// per band brightness, and only the shape parameters it needs.
package model

import (
	"fmt"
	"math"
	"strings"
)

// Nanomaggy zero point.
const ZeroPoint = 22.5

// MagToNanomaggies converts an AB magnitude to nanomaggies.
func MagToNanomaggies(m float64) float64 {
	return math.Pow(10, (m-ZeroPoint)/-2.5)
}

// NanomaggiesToMag converts nanomaggies to an AB magnitude.  Zero or
// negative flux gives NaN or +Inf.
func NanomaggiesToMag(nm float64) float64 {
	return -2.5*math.Log10(nm) + ZeroPoint
}

// Brightness is flux in nanomaggies for an ordered set of bands.
type Brightness struct {
	Bands string
	NM    []float64
}

// Uniform returns a Brightness with the same flux in every band.
func Uniform(bands string, nm float64) Brightness {
	b := Brightness{Bands: bands, NM: make([]float64, len(bands))}
	for i := range b.NM {
		b.NM[i] = nm
	}
	return b
}

// Band returns flux in band c, or 0 if the band is not carried.
func (b *Brightness) Band(c byte) float64 {
	if i := strings.IndexByte(b.Bands, c); i >= 0 {
		return b.NM[i]
	}
	return 0
}

// SetBand sets flux in band c.  Bands not carried are ignored.
func (b *Brightness) SetBand(c byte, nm float64) {
	if i := strings.IndexByte(b.Bands, c); i >= 0 {
		b.NM[i] = nm
	}
}

// Shape is a galaxy profile shape.
type Shape struct {
	Re  float64 // effective radius, arc seconds
	AB  float64 // axis ratio, minor over major
	Phi float64 // position angle of the major axis, degrees east of north
}

// Profile names the radial light profile of a component.
type Profile int

const (
	PointProfile Profile = iota
	ExpProfile
	DevProfile
)

func (p Profile) String() string {
	switch p {
	case PointProfile:
		return "point"
	case ExpProfile:
		return "exp"
	case DevProfile:
		return "deV"
	}
	return fmt.Sprintf("Profile(%d)", int(p))
}

// Component is one light profile of a source.  Frac is the share of the
// source flux in this component.
type Component struct {
	Profile Profile
	Shape   Shape
	Frac    float64
}

// Source is a Point, Exp, Dev, or Composite.
type Source interface {
	// Row is the catalog row the source came from, or -1.
	Row() int
	// Position in degrees.
	Position() (ra, dec float64)
	Flux() *Brightness
	Components() []Component
	isSource()
}

// Point is an unresolved source.
type Point struct {
	CatRow  int
	RA, Dec float64
	Bright  Brightness
}

// Exp is an exponential disk galaxy.
type Exp struct {
	CatRow  int
	RA, Dec float64
	Bright  Brightness
	Shape   Shape
}

// Dev is a de Vaucouleurs spheroid galaxy.
type Dev struct {
	CatRow  int
	RA, Dec float64
	Bright  Brightness
	Shape   Shape
}

// Composite is a deV plus exp galaxy with a fixed deV flux fraction.
type Composite struct {
	CatRow   int
	RA, Dec  float64
	Bright   Brightness // total
	FracDev  float64
	ShapeExp Shape
	ShapeDev Shape
}

func (s *Point) Row() int { return s.CatRow }
func (s *Point) Position() (float64, float64) { return s.RA, s.Dec }
func (s *Point) Flux() *Brightness { return &s.Bright }
func (s *Point) Components() []Component {
	return []Component{{Profile: PointProfile, Frac: 1}}
}
func (*Point) isSource() {}

func (s *Exp) Row() int { return s.CatRow }
func (s *Exp) Position() (float64, float64) { return s.RA, s.Dec }
func (s *Exp) Flux() *Brightness { return &s.Bright }
func (s *Exp) Components() []Component {
	return []Component{{Profile: ExpProfile, Shape: s.Shape, Frac: 1}}
}
func (*Exp) isSource() {}

func (s *Dev) Row() int { return s.CatRow }
func (s *Dev) Position() (float64, float64) { return s.RA, s.Dec }
func (s *Dev) Flux() *Brightness { return &s.Bright }
func (s *Dev) Components() []Component {
	return []Component{{Profile: DevProfile, Shape: s.Shape, Frac: 1}}
}
func (*Dev) isSource() {}

func (s *Composite) Row() int { return s.CatRow }
func (s *Composite) Position() (float64, float64) { return s.RA, s.Dec }
func (s *Composite) Flux() *Brightness { return &s.Bright }
func (s *Composite) Components() []Component {
	return []Component{
		{Profile: DevProfile, Shape: s.ShapeDev, Frac: s.FracDev},
		{Profile: ExpProfile, Shape: s.ShapeExp, Frac: 1 - s.FracDev},
	}
}
func (*Composite) isSource() {}

// Kind returns a short name for the variant of s.
func Kind(s Source) string {
	switch s.(type) {
	case *Point:
		return "point"
	case *Exp:
		return "exp"
	case *Dev:
		return "deV"
	case *Composite:
		return "composite"
	}
	return "unknown"
}
