// Public domain.

// Package catalog holds the CS82 deep source catalog together with the
// forced photometry results accumulated into it.
//
// The catalog is loaded once, mutated in place as tiles are processed,
// and written out after each tile.  There is one Catalog per run; it is
// passed explicitly to everything that reads or writes it.
package catalog

import (
	"math"
	"strings"

	"github.com/soniakeys/unit"

	"github.com/soniakeys/cs82phot/internal/sky"
)

// AllBands is the SDSS filter set in wavelength order.
const AllBands = "ugriz"

// Phot holds forced photometry results for one source in one band.
type Phot struct {
	Nanomaggies       float32
	NanomaggiesInvvar float32
	Mag               float32
	MagErr            float32

	// fit statistics as reported by the fitter
	ProChi2     float32
	ProNPix     float32
	ProFracFlux float32
	ProFlux     float32
	NPix        float32

	FitOK bool
}

// Source is one row of the deep catalog.
//
// Angles are in degrees as stored in the catalog file.  The "world"
// shape parameters are in degrees too; position angles in degrees.
type Source struct {
	RA, Dec   float64
	Chi2PSF   float64
	Chi2Model float64

	MagPSF      float64
	MagDisk     float64
	MagSpheroid float64

	DiskScale      float64
	DiskAspect     float64
	DiskTheta      float64
	SpheroidReff   float64
	SpheroidAspect float64
	SpheroidTheta  float64

	// model fit position, used for galaxies
	AlphaModel, DeltaModel float64

	Index int64

	// row parallel to Catalog.Bands
	Phot []Phot

	PhotDone bool
	Marginal bool
}

// Pos returns the catalog position as angles.
func (s *Source) Pos() (ra, dec unit.Angle) {
	return unit.AngleFromDeg(s.RA), unit.AngleFromDeg(s.Dec)
}

// Catalog is the deep catalog plus per band results.
type Catalog struct {
	Bands   string
	Sources []Source
}

// New wraps rows in a Catalog, allocating zeroed results for each band.
// Existing results in rows are kept if they already match bands.
func New(rows []Source, bands string) *Catalog {
	for i := range rows {
		if len(rows[i].Phot) != len(bands) {
			rows[i].Phot = make([]Phot, len(bands))
		}
	}
	return &Catalog{Bands: bands, Sources: rows}
}

// Len is the number of rows.
func (c *Catalog) Len() int { return len(c.Sources) }

// Band returns the result index for band b, or -1.
func (c *Catalog) Band(b byte) int {
	return strings.IndexByte(c.Bands, b)
}

// Bounds is the RA, Dec box of all catalog positions.
func (c *Catalog) Bounds() sky.Box {
	if len(c.Sources) == 0 {
		return sky.Box{}
	}
	ra0, ra1 := math.Inf(1), math.Inf(-1)
	dec0, dec1 := math.Inf(1), math.Inf(-1)
	for i := range c.Sources {
		s := &c.Sources[i]
		ra0 = math.Min(ra0, s.RA)
		ra1 = math.Max(ra1, s.RA)
		dec0 = math.Min(dec0, s.Dec)
		dec1 = math.Max(dec1, s.Dec)
	}
	return sky.BoxFromDeg(ra0, ra1, dec0, dec1)
}

// ClearMarginal resets the marginal flag on every row.
func (c *Catalog) ClearMarginal() {
	for i := range c.Sources {
		c.Sources[i].Marginal = false
	}
}

// Done returns the rows with photometry complete.
func (c *Catalog) Done() []Source {
	var d []Source
	for _, s := range c.Sources {
		if s.PhotDone {
			d = append(d, s)
		}
	}
	return d
}
