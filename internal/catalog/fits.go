// Public domain.

package catalog

import (
	"fmt"
	"os"
	"strings"

	"github.com/astrogo/fitsio"
)

// column ties a FITS column to a Source field.  ptr returns a pointer to
// the field, used both to scan into and to write from.
type column struct {
	name     string // as written, lower case
	alias    string // name in the CS82 input table, if different
	format   string
	required bool // must be present in an input table
	ptr      func(s *Source) interface{}
}

var baseCols = []column{
	{"ra", "alpha_j2000", "D", true, func(s *Source) interface{} { return &s.RA }},
	{"dec", "delta_j2000", "D", true, func(s *Source) interface{} { return &s.Dec }},
	{"chi2_psf", "", "E", true, func(s *Source) interface{} { return &s.Chi2PSF }},
	{"chi2_model", "", "E", true, func(s *Source) interface{} { return &s.Chi2Model }},
	{"mag_psf", "", "E", true, func(s *Source) interface{} { return &s.MagPSF }},
	{"mag_disk", "", "E", true, func(s *Source) interface{} { return &s.MagDisk }},
	{"mag_spheroid", "", "E", true, func(s *Source) interface{} { return &s.MagSpheroid }},
	{"disk_scale_world", "", "E", true, func(s *Source) interface{} { return &s.DiskScale }},
	{"disk_aspect_world", "", "E", true, func(s *Source) interface{} { return &s.DiskAspect }},
	{"disk_theta_world", "", "E", true, func(s *Source) interface{} { return &s.DiskTheta }},
	{"spheroid_reff_world", "", "E", true, func(s *Source) interface{} { return &s.SpheroidReff }},
	{"spheroid_aspect_world", "", "E", true, func(s *Source) interface{} { return &s.SpheroidAspect }},
	{"spheroid_theta_world", "", "E", true, func(s *Source) interface{} { return &s.SpheroidTheta }},
	{"alphamodel_j2000", "", "D", true, func(s *Source) interface{} { return &s.AlphaModel }},
	{"deltamodel_j2000", "", "D", true, func(s *Source) interface{} { return &s.DeltaModel }},
	{"index", "", "K", false, func(s *Source) interface{} { return &s.Index }},
	{"phot_done", "", "L", false, func(s *Source) interface{} { return &s.PhotDone }},
	{"marginal", "", "L", false, func(s *Source) interface{} { return &s.Marginal }},
}

// columns dropped from the final output
var finalDrop = map[string]bool{
	"marginal":         true,
	"alphamodel_j2000": true,
	"deltamodel_j2000": true,
}

type bandColumn struct {
	format string
	name   func(b byte) string
	ptr    func(p *Phot) interface{}
}

var bandCols = []bandColumn{
	{"E", func(b byte) string { return fmt.Sprintf("sdss_%c_nanomaggies", b) },
		func(p *Phot) interface{} { return &p.Nanomaggies }},
	{"E", func(b byte) string { return fmt.Sprintf("sdss_%c_nanomaggies_invvar", b) },
		func(p *Phot) interface{} { return &p.NanomaggiesInvvar }},
	{"E", func(b byte) string { return fmt.Sprintf("sdss_%c_mag", b) },
		func(p *Phot) interface{} { return &p.Mag }},
	{"E", func(b byte) string { return fmt.Sprintf("sdss_%c_mag_err", b) },
		func(p *Phot) interface{} { return &p.MagErr }},
	{"E", func(b byte) string { return fmt.Sprintf("prochi2_%c", b) },
		func(p *Phot) interface{} { return &p.ProChi2 }},
	{"E", func(b byte) string { return fmt.Sprintf("pronpix_%c", b) },
		func(p *Phot) interface{} { return &p.ProNPix }},
	{"E", func(b byte) string { return fmt.Sprintf("profracflux_%c", b) },
		func(p *Phot) interface{} { return &p.ProFracFlux }},
	{"E", func(b byte) string { return fmt.Sprintf("proflux_%c", b) },
		func(p *Phot) interface{} { return &p.ProFlux }},
	{"E", func(b byte) string { return fmt.Sprintf("npix_%c", b) },
		func(p *Phot) interface{} { return &p.NPix }},
	{"L", func(b byte) string { return fmt.Sprintf("fit_ok_%c", b) },
		func(p *Phot) interface{} { return &p.FitOK }},
}

// binding is a resolved column: the name found in the file and how to
// reach the field for a given row.
type binding struct {
	file string
	ptr  func(s *Source) interface{}
}

// ReadFITS reads a catalog from binary table extension hdu of the file.
//
// Both the CS82 deVexp tables (hdu 2, upper case names, ALPHA_J2000 and
// DELTA_J2000 for position) and checkpoints written by this package
// (hdu 1) are accepted.  Result columns for bands are read if present.
func ReadFITS(path string, hdu int, bands string) (*Catalog, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer f.Close()
	if hdu >= len(f.HDUs()) {
		return nil, fmt.Errorf("%s: no hdu %d", path, hdu)
	}
	tbl, ok := f.HDU(hdu).(*fitsio.Table)
	if !ok {
		return nil, fmt.Errorf("%s: hdu %d is not a table", path, hdu)
	}

	present := make(map[string]string) // lower case -> file name
	for _, c := range tbl.Cols() {
		present[strings.ToLower(c.Name)] = c.Name
	}
	var binds []binding
	for _, c := range baseCols {
		fn, ok := present[c.name]
		if !ok && c.alias != "" {
			fn, ok = present[c.alias]
		}
		switch {
		case ok:
			binds = append(binds, binding{fn, c.ptr})
		case c.required:
			return nil, fmt.Errorf("%s: missing column %s", path, c.name)
		}
	}
	for bi := 0; bi < len(bands); bi++ {
		for _, c := range bandCols {
			fn, ok := present[c.name(bands[bi])]
			if !ok {
				continue
			}
			bi, c := bi, c
			binds = append(binds, binding{fn, func(s *Source) interface{} {
				return c.ptr(&s.Phot[bi])
			}})
		}
	}
	_, hasIndex := present["index"]

	n := tbl.NumRows()
	rows, err := tbl.Read(0, n)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer rows.Close()
	src := make([]Source, 0, n)
	for i := int64(0); rows.Next(); i++ {
		data := make(map[string]interface{}, len(binds))
		for _, b := range binds {
			data[b.file] = nil
		}
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i, err)
		}
		s := Source{Phot: make([]Phot, len(bands))}
		for _, b := range binds {
			if err := assign(b.ptr(&s), data[b.file]); err != nil {
				return nil, fmt.Errorf("%s row %d column %s: %w", path, i, b.file, err)
			}
		}
		if !hasIndex {
			s.Index = i
		}
		src = append(src, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return New(src, bands), nil
}

// WriteFITS writes rows as a binary table.  With final set, bookkeeping
// columns used only while tiling are left out.
func WriteFITS(path string, rows []Source, bands string, final bool) error {
	var cols []fitsio.Column
	var ptrs []func(s *Source) interface{}
	for _, c := range baseCols {
		if final && finalDrop[c.name] {
			continue
		}
		cols = append(cols, fitsio.Column{Name: c.name, Format: c.format})
		ptrs = append(ptrs, c.ptr)
	}
	for bi := 0; bi < len(bands); bi++ {
		for _, c := range bandCols {
			bi, c := bi, c
			cols = append(cols, fitsio.Column{Name: c.name(bands[bi]), Format: c.format})
			ptrs = append(ptrs, func(s *Source) interface{} { return c.ptr(&s.Phot[bi]) })
		}
	}

	w, err := os.Create(path)
	if err != nil {
		return err
	}
	defer w.Close()
	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	phdu, err := fitsio.NewPrimaryHDU(nil)
	if err != nil {
		return err
	}
	if err := f.Write(phdu); err != nil {
		return err
	}
	tbl, err := fitsio.NewTable("catalog", cols, fitsio.BINARY_TBL)
	if err != nil {
		return err
	}
	defer tbl.Close()

	// float columns are written from typed copies so the on-disk format
	// matches cols regardless of the Go field type.
	args := make([]interface{}, len(cols))
	for i := range rows {
		s := &rows[i]
		for j, p := range ptrs {
			args[j] = convertFor(cols[j].Format, p(s))
		}
		if err := tbl.Write(args...); err != nil {
			return fmt.Errorf("%s row %d: %w", path, i, err)
		}
	}
	if err := f.Write(tbl); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return w.Close()
}

func convertFor(format string, p interface{}) interface{} {
	switch format {
	case "E":
		if x, ok := p.(*float64); ok {
			v := float32(*x)
			return &v
		}
	case "D":
		if x, ok := p.(*float32); ok {
			v := float64(*x)
			return &v
		}
	}
	return p
}

// FloatValue converts a numeric FITS column value to float64.  Ok is false
// for other types.
func FloatValue(v interface{}) (f float64, ok bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case int16:
		return float64(x), true
	case int8:
		return float64(x), true
	case uint8:
		return float64(x), true
	case int:
		return float64(x), true
	}
	return 0, false
}

func assign(dst, v interface{}) error {
	if b, ok := dst.(*bool); ok {
		switch x := v.(type) {
		case bool:
			*b = x
			return nil
		case uint8:
			*b = x != 0
			return nil
		}
		return fmt.Errorf("cannot read %T as logical", v)
	}
	f, ok := FloatValue(v)
	if !ok {
		return fmt.Errorf("cannot read %T as number", v)
	}
	switch d := dst.(type) {
	case *float64:
		*d = f
	case *float32:
		*d = float32(f)
	case *int64:
		*d = int64(f)
	default:
		return fmt.Errorf("unsupported field type %T", dst)
	}
	return nil
}
