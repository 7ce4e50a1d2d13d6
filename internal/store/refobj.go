// Public domain.

package store

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/astrogo/fitsio"

	"github.com/soniakeys/cs82phot/internal/sky"
)

// SDSS photo flags and object types.
const (
	// ResolvePrimary is the survey primary bit of resolve_status.
	ResolvePrimary = 256

	TypeGalaxy = 3
	TypeStar   = 6
)

// RefObject is an SDSS photoObj row reduced to what seeding and synthetic
// images need.  Fluxes are cmodel fluxes in nanomaggies, ugriz order.
// Shapes are r band: theta in arc seconds, phi in degrees.
type RefObject struct {
	RA, Dec       float64
	Flux          [5]float32
	ResolveStatus int32
	Type          int32

	FracDev  float32
	ThetaDev float32
	AbDev    float32
	PhiDev   float32
	ThetaExp float32
	AbExp    float32
	PhiExp   float32
}

// Primary reports whether the survey primary bit is set.
func (o *RefObject) Primary() bool {
	return o.ResolveStatus&ResolvePrimary != 0
}

// PutRefObjects appends objects to the reference table.
func (d *DB) PutRefObjects(ctx context.Context, objs []RefObject) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	st, err := tx.PrepareContext(ctx, `
		INSERT INTO ref_object (ra, dec, flux_u, flux_g, flux_r, flux_i, flux_z,
			resolve_status, type, frac_dev, theta_dev, ab_dev, phi_dev,
			theta_exp, ab_exp, phi_exp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer st.Close()
	for i := range objs {
		o := &objs[i]
		if _, err := st.ExecContext(ctx, o.RA, o.Dec,
			o.Flux[0], o.Flux[1], o.Flux[2], o.Flux[3], o.Flux[4],
			o.ResolveStatus, o.Type, o.FracDev, o.ThetaDev, o.AbDev, o.PhiDev,
			o.ThetaExp, o.AbExp, o.PhiExp); err != nil {
			return fmt.Errorf("writing reference object: %w", err)
		}
	}
	return tx.Commit()
}

// RefObjects returns reference objects inside box, optionally only survey
// primary objects.  Order is by declination.
func (d *DB) RefObjects(ctx context.Context, box sky.Box, primaryOnly bool) ([]RefObject, error) {
	q := `
		SELECT ra, dec, flux_u, flux_g, flux_r, flux_i, flux_z,
			resolve_status, type, frac_dev, theta_dev, ab_dev, phi_dev,
			theta_exp, ab_exp, phi_exp
		FROM ref_object
		WHERE dec >= ? AND dec <= ? AND ra >= ? AND ra <= ?`
	if primaryOnly {
		q += fmt.Sprintf(" AND (resolve_status & %d) != 0", ResolvePrimary)
	}
	q += " ORDER BY dec, ra"
	rows, err := d.conn.QueryContext(ctx, q,
		box.Dec0.Deg(), box.Dec1.Deg(), box.RA0.Deg(), box.RA1.Deg())
	if err != nil {
		return nil, fmt.Errorf("querying reference objects: %w", err)
	}
	defer rows.Close()
	var objs []RefObject
	for rows.Next() {
		var o RefObject
		if err := rows.Scan(&o.RA, &o.Dec,
			&o.Flux[0], &o.Flux[1], &o.Flux[2], &o.Flux[3], &o.Flux[4],
			&o.ResolveStatus, &o.Type, &o.FracDev, &o.ThetaDev, &o.AbDev, &o.PhiDev,
			&o.ThetaExp, &o.AbExp, &o.PhiExp); err != nil {
			return nil, fmt.Errorf("scanning reference object: %w", err)
		}
		objs = append(objs, o)
	}
	d.Log.Debugw("reference objects", "n", len(objs), "primaryOnly", primaryOnly)
	return objs, rows.Err()
}

// CountRefObjects returns the number of stored reference objects.
func (d *DB) CountRefObjects(ctx context.Context) (n int, err error) {
	err = d.conn.QueryRowContext(ctx, `SELECT count(*) FROM ref_object`).Scan(&n)
	return
}

// photoObj columns.  Vector columns are indexed by band; shapes are taken
// from the r band.
var photoCols = []string{"RA", "DEC", "CMODELFLUX", "RESOLVE_STATUS", "TYPE",
	"FRACDEV", "THETA_DEV", "AB_DEV", "PHI_DEV_DEG",
	"THETA_EXP", "AB_EXP", "PHI_EXP_DEG"}

const shapeBand = 2

// ReadPhotoObj reads reference objects from an SDSS photoObj FITS table,
// extension 1.
func ReadPhotoObj(path string) ([]RefObject, error) {
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
	names := map[string]string{}
	for _, c := range tbl.Cols() {
		names[strings.ToUpper(c.Name)] = c.Name
	}
	for _, c := range photoCols {
		if _, ok := names[c]; !ok {
			return nil, fmt.Errorf("%s: missing column %s", path, c)
		}
	}
	rows, err := tbl.Read(0, tbl.NumRows())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer rows.Close()
	var objs []RefObject
	for rows.Next() {
		data := map[string]interface{}{}
		for _, c := range photoCols {
			data[names[c]] = nil
		}
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		v := func(c string) []float64 { return floats(data[names[c]]) }
		at := func(c string, i int) float64 {
			x := v(c)
			if i < len(x) {
				return x[i]
			}
			if len(x) == 1 {
				return x[0]
			}
			return 0
		}
		o := RefObject{
			RA:            at("RA", 0),
			Dec:           at("DEC", 0),
			ResolveStatus: int32(at("RESOLVE_STATUS", 0)),
			Type:          int32(at("TYPE", 0)),
			FracDev:       float32(at("FRACDEV", shapeBand)),
			ThetaDev:      float32(at("THETA_DEV", shapeBand)),
			AbDev:         float32(at("AB_DEV", shapeBand)),
			PhiDev:        float32(at("PHI_DEV_DEG", shapeBand)),
			ThetaExp:      float32(at("THETA_EXP", shapeBand)),
			AbExp:         float32(at("AB_EXP", shapeBand)),
			PhiExp:        float32(at("PHI_EXP_DEG", shapeBand)),
		}
		for b := range o.Flux {
			o.Flux[b] = float32(at("CMODELFLUX", b))
		}
		objs = append(objs, o)
	}
	return objs, rows.Err()
}

// ImportPhotoObj reads photoObj files into the reference table.  All files
// are read before any are written, so a bad file imports nothing.
func (d *DB) ImportPhotoObj(ctx context.Context, paths ...string) (int, error) {
	var all []RefObject
	for _, p := range paths {
		objs, err := ReadPhotoObj(p)
		if err != nil {
			return 0, err
		}
		d.Log.Infow("read reference objects", "file", p, "n", len(objs))
		all = append(all, objs...)
	}
	if err := d.PutRefObjects(ctx, all); err != nil {
		return 0, err
	}
	return len(all), nil
}

// floats flattens a scalar, array or slice column value.
func floats(v interface{}) []float64 {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Array, reflect.Slice:
		out := make([]float64, rv.Len())
		for i := range out {
			out[i] = scalar(rv.Index(i))
		}
		return out
	}
	return []float64{scalar(rv)}
}

func scalar(rv reflect.Value) float64 {
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	}
	return 0
}
