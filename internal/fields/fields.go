// Public domain.

// Package fields selects SDSS imaging fields overlapping a deep catalog.
package fields

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/soniakeys/unit"
	"go.uber.org/zap"

	"github.com/soniakeys/cs82phot/internal/catalog"
	"github.com/soniakeys/cs82phot/internal/sky"
)

// Field is one SDSS imaging field.  Angles in degrees.
type Field struct {
	Run, Camcol, Field int
	Rerun              string

	// footprint
	RA0, RA1, Dec0, Dec1 float64

	// field center, from the field list
	RA, Dec float64

	Score    float64
	Enclosed bool
}

// Box returns the footprint as a sky.Box.
func (f *Field) Box() sky.Box {
	return sky.BoxFromDeg(f.RA0, f.RA1, f.Dec0, f.Dec1)
}

// String identifies the field by run, camcol, field.
func (f *Field) String() string {
	return fmt.Sprintf("%d-%d-%d", f.Run, f.Camcol, f.Field)
}

// FieldRadius is half the diagonal of an SDSS field, 13 by 9 arc minutes.
var FieldRadius = unit.AngleFromDeg(.5 * math.Hypot(13, 9) / 60)

// Reruns that are not served by the image archive.
var badReruns = map[string]bool{"157": true}

// ReadFlist reads a window_flist table and computes field footprints from
// the mu, nu scan coordinates.
func ReadFlist(path string) ([]Field, error) {
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
	if len(f.HDUs()) < 2 {
		return nil, fmt.Errorf("%s: no table extension", path)
	}
	tbl, ok := f.HDU(1).(*fitsio.Table)
	if !ok {
		return nil, fmt.Errorf("%s: hdu 1 is not a table", path)
	}
	names := make(map[string]string)
	for _, c := range tbl.Cols() {
		names[strings.ToUpper(c.Name)] = c.Name
	}
	want := []string{"RUN", "RERUN", "CAMCOL", "FIELD", "MU_START", "MU_END",
		"NU_START", "NU_END", "NODE", "INCL", "SCORE", "RA", "DEC"}
	for _, w := range want {
		if _, ok := names[w]; !ok {
			return nil, fmt.Errorf("%s: missing column %s", path, w)
		}
	}

	rows, err := tbl.Read(0, tbl.NumRows())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer rows.Close()
	var fs []Field
	for rows.Next() {
		data := make(map[string]interface{}, len(want))
		for _, w := range want {
			data[names[w]] = nil
		}
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		num := func(k string) float64 {
			v, _ := catalog.FloatValue(data[names[k]])
			return v
		}
		fl := Field{
			Run:    int(num("RUN")),
			Camcol: int(num("CAMCOL")),
			Field:  int(num("FIELD")),
			Rerun:  strings.TrimSpace(fmt.Sprint(data[names["RERUN"]])),
			RA:     num("RA"),
			Dec:    num("DEC"),
			Score:  num("SCORE"),
		}
		if badReruns[fl.Rerun] {
			continue
		}
		node := unit.AngleFromDeg(num("NODE"))
		incl := unit.AngleFromDeg(num("INCL"))
		ra0, dec0 := sky.MuNuToRaDec(unit.AngleFromDeg(num("MU_START")),
			unit.AngleFromDeg(num("NU_START")), node, incl)
		ra1, dec1 := sky.MuNuToRaDec(unit.AngleFromDeg(num("MU_END")),
			unit.AngleFromDeg(num("NU_END")), node, incl)
		fl.RA0 = math.Min(ra0.Deg(), ra1.Deg())
		fl.RA1 = math.Max(ra0.Deg(), ra1.Deg())
		fl.Dec0 = math.Min(dec0.Deg(), dec1.Deg())
		fl.Dec1 = math.Max(dec0.Deg(), dec1.Deg())
		fs = append(fs, fl)
	}
	return fs, rows.Err()
}

// Filter keeps fields that can overlap box.
//
// A box test against the footprint comes first.  Box tests alone give
// wrong answers near the poles and at RA wrap-around, so survivors must
// also have their center within the catalog radius plus FieldRadius of
// the catalog center.  Enclosed is set for fields entirely inside box.
// The result is sorted by distance of footprint center from box center.
func Filter(fs []Field, box sky.Box) []Field {
	var out []Field
	for _, f := range fs {
		if box.Overlaps(f.Box()) {
			out = append(out, f)
		}
	}
	cra, cdec := box.Center()
	r := box.Radius() + FieldRadius
	kept := out[:0]
	for _, f := range out {
		if sky.Within(unit.AngleFromDeg(f.RA), unit.AngleFromDeg(f.Dec), cra, cdec, r) {
			f.Enclosed = box.Encloses(f.Box())
			kept = append(kept, f)
		}
	}
	ra, dec := cra.Deg(), cdec.Deg()
	d2 := func(f *Field) float64 {
		dr := (f.RA0+f.RA1)/2 - ra
		dd := (f.Dec0+f.Dec1)/2 - dec
		return dr*dr + dd*dd
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return d2(&kept[i]) < d2(&kept[j])
	})
	return kept
}

// Enclosed returns the fields with Enclosed set.
func Enclosed(fs []Field) []Field {
	var out []Field
	for _, f := range fs {
		if f.Enclosed {
			out = append(out, f)
		}
	}
	return out
}

// CutScore keeps fields with score above min.
func CutScore(fs []Field, min float64) []Field {
	var out []Field
	for _, f := range fs {
		if f.Score > min {
			out = append(out, f)
		}
	}
	return out
}

// Cache stores filtered field lists by deep field name.
type Cache interface {
	Fields(ctx context.Context, key string) ([]Field, bool, error)
	PutFields(ctx context.Context, key string, fs []Field) error
}

// Load returns the fields overlapping box.  A cached list for key is used
// if present; otherwise the flist file is read, filtered, and cached.
func Load(ctx context.Context, log *zap.SugaredLogger, cache Cache,
	key, flist string, box sky.Box, enclosedOnly bool) ([]Field, error) {
	fs, ok, err := cache.Fields(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		log.Infow("field list from cache", "key", key, "fields", len(fs))
	} else {
		all, err := ReadFlist(flist)
		if err != nil {
			return nil, err
		}
		log.Infow("read field list", "file", flist, "fields", len(all))
		fs = Filter(all, box)
		log.Infow("possibly overlapping fields", "fields", len(fs))
		if err := cache.PutFields(ctx, key, fs); err != nil {
			return nil, err
		}
	}
	if enclosedOnly {
		fs = Enclosed(fs)
		log.Infow("enclosed fields", "fields", len(fs))
	}
	return fs, nil
}
