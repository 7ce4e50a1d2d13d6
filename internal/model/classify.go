// Public domain.

package model

import (
	"github.com/soniakeys/cs82phot/internal/catalog"
	"github.com/soniakeys/cs82phot/internal/store"
)

// ExpReffFactor converts an exponential disk scale length to a half light
// radius, for Sersic index 1.
const ExpReffFactor = 1.68

// Classify makes a source for each of the given catalog rows bright enough
// to model.  It returns the sources and, parallel to them, positions in
// rows of the rows they came from.
//
// A row where the point source fit is preferred and within maglim is a
// Point.  Otherwise if neither galaxy component is within maglim the row
// is skipped.  Otherwise the row is a Dev or Exp if only that component
// is within maglim, and a Composite if both are.
//
// Brightness is the same in every band.
func Classify(cat *catalog.Catalog, rows []int, maglim float64, bands string) (srcs []Source, irows []int) {
	for i, r := range rows {
		t := &cat.Sources[r]
		if s := classifyRow(t, r, maglim, bands); s != nil {
			srcs = append(srcs, s)
			irows = append(irows, i)
		}
	}
	return
}

func classifyRow(t *catalog.Source, row int, maglim float64, bands string) Source {
	if t.Chi2PSF < t.Chi2Model && t.MagPSF <= maglim {
		return &Point{
			CatRow: row,
			RA:     t.RA,
			Dec:    t.Dec,
			Bright: Uniform(bands, MagToNanomaggies(t.MagPSF)),
		}
	}
	dmag, emag := t.MagSpheroid, t.MagDisk
	if emag > maglim && dmag > maglim {
		return nil
	}
	dev := Shape{
		Re:  t.SpheroidReff * 3600,
		AB:  t.SpheroidAspect,
		Phi: t.SpheroidTheta + 90,
	}
	exp := Shape{
		Re:  t.DiskScale * ExpReffFactor * 3600,
		AB:  t.DiskAspect,
		Phi: t.DiskTheta + 90,
	}
	ra, dec := t.AlphaModel, t.DeltaModel
	switch {
	case emag > maglim:
		return &Dev{CatRow: row, RA: ra, Dec: dec,
			Bright: Uniform(bands, MagToNanomaggies(dmag)), Shape: dev}
	case dmag > maglim:
		return &Exp{CatRow: row, RA: ra, Dec: dec,
			Bright: Uniform(bands, MagToNanomaggies(emag)), Shape: exp}
	}
	nmd := MagToNanomaggies(dmag)
	nme := MagToNanomaggies(emag)
	nm := nmd + nme
	return &Composite{
		CatRow:   row,
		RA:       ra,
		Dec:      dec,
		Bright:   Uniform(bands, nm),
		FracDev:  nmd / nm,
		ShapeExp: exp,
		ShapeDev: dev,
	}
}

// SeedFlux sets the brightness of s in each of bands from an SDSS
// reference object's cmodel flux.
func SeedFlux(s Source, o *store.RefObject, bands string) {
	b := s.Flux()
	for i := 0; i < len(bands); i++ {
		if bi := indexUgriz(bands[i]); bi >= 0 {
			b.SetBand(bands[i], float64(o.Flux[bi]))
		}
	}
}

func indexUgriz(c byte) int {
	for i := 0; i < len(catalog.AllBands); i++ {
		if catalog.AllBands[i] == c {
			return i
		}
	}
	return -1
}

// FromRef makes a source from an SDSS reference object.  Stars become
// points; galaxies become Exp, Dev, or Composite by their deV fraction.
// Row is -1.
func FromRef(o *store.RefObject, bands string) Source {
	b := Brightness{Bands: bands, NM: make([]float64, len(bands))}
	for i := 0; i < len(bands); i++ {
		if bi := indexUgriz(bands[i]); bi >= 0 {
			b.NM[i] = float64(o.Flux[bi])
		}
	}
	if o.Type != store.TypeGalaxy {
		return &Point{CatRow: -1, RA: o.RA, Dec: o.Dec, Bright: b}
	}
	dev := Shape{Re: float64(o.ThetaDev), AB: float64(o.AbDev), Phi: float64(o.PhiDev)}
	exp := Shape{Re: float64(o.ThetaExp), AB: float64(o.AbExp), Phi: float64(o.PhiExp)}
	switch {
	case o.FracDev <= 0:
		return &Exp{CatRow: -1, RA: o.RA, Dec: o.Dec, Bright: b, Shape: exp}
	case o.FracDev >= 1:
		return &Dev{CatRow: -1, RA: o.RA, Dec: o.Dec, Bright: b, Shape: dev}
	}
	return &Composite{CatRow: -1, RA: o.RA, Dec: o.Dec, Bright: b,
		FracDev: float64(o.FracDev), ShapeExp: exp, ShapeDev: dev}
}
