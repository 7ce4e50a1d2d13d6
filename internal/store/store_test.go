// Public domain.

package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soniakeys/cs82phot/internal/fields"
	"github.com/soniakeys/cs82phot/internal/sky"
	"github.com/soniakeys/cs82phot/internal/store"
)

func open(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "cs82.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// DB must satisfy the field loader's cache.
var _ fields.Cache = (*store.DB)(nil)

func TestFieldCache(t *testing.T) {
	db := open(t)
	ctx := context.Background()

	_, ok, err := db.Fields(ctx, "S82p18p")
	require.NoError(t, err)
	assert.False(t, ok)

	want := []fields.Field{
		{Run: 4263, Camcol: 2, Field: 100, Rerun: "301",
			RA0: 20.4, RA1: 20.6, Dec0: -.1, Dec1: .05, RA: 20.5, Dec: -.025,
			Score: .9, Enclosed: true},
		{Run: 2583, Camcol: 5, Field: 91, Rerun: "301",
			RA0: 20.9, RA1: 21.1, Dec0: .3, Dec1: .45, RA: 21, Dec: .375,
			Score: .3},
	}
	require.NoError(t, db.PutFields(ctx, "S82p18p", want))
	got, ok, err := db.Fields(ctx, "S82p18p")
	require.NoError(t, err)
	require.True(t, ok)
	if d := cmp.Diff(want, got); d != "" {
		t.Fatalf("cached fields (-want +got):\n%s", d)
	}

	// replace with an empty list, still a hit
	require.NoError(t, db.PutFields(ctx, "S82p18p", nil))
	got, ok, err = db.Fields(ctx, "S82p18p")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestRefObjects(t *testing.T) {
	db := open(t)
	ctx := context.Background()
	objs := []store.RefObject{
		{RA: 20.5, Dec: 0, Flux: [5]float32{1, 2, 3, 4, 5}, ResolveStatus: 257, Type: store.TypeStar},
		{RA: 20.5, Dec: .1, Flux: [5]float32{.5, 1, 1.5, 2, 2.5}, ResolveStatus: 2, Type: store.TypeStar},
		{RA: 20.6, Dec: .2, ResolveStatus: 256, Type: store.TypeGalaxy,
			FracDev: .25, ThetaDev: 1.5, AbDev: .5, PhiDev: 30,
			ThetaExp: 2, AbExp: .75, PhiExp: 45},
		{RA: 25, Dec: 0, ResolveStatus: 256},
	}
	require.NoError(t, db.PutRefObjects(ctx, objs))
	n, err := db.CountRefObjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	box := sky.BoxFromDeg(20, 21, -.5, .5)
	all, err := db.RefObjects(ctx, box, false)
	require.NoError(t, err)
	if d := cmp.Diff(objs[:3], all); d != "" {
		t.Fatalf("box query (-want +got):\n%s", d)
	}

	prim, err := db.RefObjects(ctx, box, true)
	require.NoError(t, err)
	require.Len(t, prim, 2)
	for _, o := range prim {
		assert.True(t, o.Primary())
	}
}

func writePhotoObj(t *testing.T, fn string) {
	t.Helper()
	w, err := os.Create(fn)
	require.NoError(t, err)
	f, err := fitsio.Create(w)
	require.NoError(t, err)
	phdu, err := fitsio.NewPrimaryHDU(nil)
	require.NoError(t, err)
	require.NoError(t, f.Write(phdu))
	tbl, err := fitsio.NewTable("photoobj", []fitsio.Column{
		{Name: "RA", Format: "D"},
		{Name: "DEC", Format: "D"},
		{Name: "CMODELFLUX", Format: "5E"},
		{Name: "RESOLVE_STATUS", Format: "J"},
		{Name: "TYPE", Format: "J"},
		{Name: "FRACDEV", Format: "5E"},
		{Name: "THETA_DEV", Format: "5E"},
		{Name: "AB_DEV", Format: "5E"},
		{Name: "PHI_DEV_DEG", Format: "5E"},
		{Name: "THETA_EXP", Format: "5E"},
		{Name: "AB_EXP", Format: "5E"},
		{Name: "PHI_EXP_DEG", Format: "5E"},
	}, fitsio.BINARY_TBL)
	require.NoError(t, err)
	ra, dec := 20.5, .125
	flux := [5]float32{1, 2, 3, 4, 5}
	rs, typ := int32(256), int32(store.TypeGalaxy)
	fd := [5]float32{0, 0, .5, 0, 0}
	td := [5]float32{0, 0, 1.5, 0, 0}
	ad := [5]float32{0, 0, .5, 0, 0}
	pd := [5]float32{0, 0, 30, 0, 0}
	te := [5]float32{0, 0, 2, 0, 0}
	ae := [5]float32{0, 0, .75, 0, 0}
	pe := [5]float32{0, 0, 45, 0, 0}
	require.NoError(t, tbl.Write(&ra, &dec, &flux, &rs, &typ,
		&fd, &td, &ad, &pd, &te, &ae, &pe))
	require.NoError(t, f.Write(tbl))
	require.NoError(t, tbl.Close())
	require.NoError(t, f.Close())
	require.NoError(t, w.Close())
}

func TestImportPhotoObj(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "photoObj.fits")
	writePhotoObj(t, fn)
	ra, dec := 20.5, .125
	flux := [5]float32{1, 2, 3, 4, 5}
	rs, typ := int32(256), int32(store.TypeGalaxy)

	db := open(t)
	ctx := context.Background()
	n, err := db.ImportPhotoObj(ctx, fn)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := db.RefObjects(ctx, sky.BoxFromDeg(20, 21, 0, 1), true)
	require.NoError(t, err)
	require.Len(t, got, 1)
	want := store.RefObject{RA: ra, Dec: dec, Flux: flux, ResolveStatus: rs, Type: typ,
		FracDev: .5, ThetaDev: 1.5, AbDev: .5, PhiDev: 30,
		ThetaExp: 2, AbExp: .75, PhiExp: 45}
	if d := cmp.Diff(want, got[0]); d != "" {
		t.Fatalf("imported object (-want +got):\n%s", d)
	}
}

// A file that fails to read leaves the table as it was.
func TestImportPhotoObjBadFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "photoObj.fits")
	writePhotoObj(t, good)
	bad := filepath.Join(dir, "bad.fits")
	require.NoError(t, os.WriteFile(bad, []byte("not fits"), 0o644))

	db := open(t)
	ctx := context.Background()
	for _, p := range []string{bad, filepath.Join(dir, "missing.fits")} {
		_, err := db.ImportPhotoObj(ctx, good, p)
		assert.Error(t, err, p)
		n, err := db.CountRefObjects(ctx)
		require.NoError(t, err)
		assert.Zero(t, n, p)
	}
}
