// Public domain.

package photom_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/soniakeys/unit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soniakeys/cs82phot/internal/catalog"
	"github.com/soniakeys/cs82phot/internal/diag"
	"github.com/soniakeys/cs82phot/internal/fields"
	"github.com/soniakeys/cs82phot/internal/fit"
	"github.com/soniakeys/cs82phot/internal/frame"
	"github.com/soniakeys/cs82phot/internal/photom"
	"github.com/soniakeys/cs82phot/internal/sky"
	"github.com/soniakeys/cs82phot/internal/store"
	"github.com/soniakeys/cs82phot/internal/tile"
	"github.com/soniakeys/cs82phot/internal/wcs"
)

var box = sky.BoxFromDeg(20, 20.01, 0, .01)

var field = fields.Field{Run: 4263, Camcol: 2, Field: 100, Rerun: "301",
	RA0: 19.9, RA1: 20.1, Dec0: -.1, Dec1: .1}

type fakeImages map[frame.Key]*frame.Image

func (f fakeImages) Cutout(ctx context.Context, k frame.Key, b sky.Box) (*frame.Image, error) {
	im, ok := f[k]
	if !ok {
		return nil, errors.New("no such frame")
	}
	return im, nil
}

type fakeRefs []store.RefObject

func (f fakeRefs) RefObjects(ctx context.Context, b sky.Box, primaryOnly bool) ([]store.RefObject, error) {
	return f, nil
}

// fakeFitter gives every thawed source flux 100 with inverse variance 4
// and records the fluxes it was handed.
type fakeFitter struct {
	status map[byte]fit.Status
	calls  []fit.Problem
	seen   map[byte][]float64
}

func (f *fakeFitter) ForcedPhotometry(ctx context.Context, p *fit.Problem, opt fit.Options) (*fit.Result, error) {
	f.calls = append(f.calls, *p)
	if f.seen == nil {
		f.seen = map[byte][]float64{}
	}
	for _, s := range p.Sources {
		f.seen[p.Band] = append(f.seen[p.Band], s.Flux().Band(p.Band))
	}
	res := &fit.Result{Status: f.status[p.Band], Stats: &fit.Stats{}}
	for i, t := range p.Thawed {
		if !t {
			continue
		}
		res.Thawed = append(res.Thawed, i)
		res.Flux = append(res.Flux, 100)
		res.IV = append(res.IV, 4)
		res.Stats.ProChi2 = append(res.Stats.ProChi2, 1)
		res.Stats.ProNPix = append(res.Stats.ProNPix, 2)
		res.Stats.ProFracFlux = append(res.Stats.ProFracFlux, 3)
		res.Stats.ProFlux = append(res.Stats.ProFlux, 300)
		res.Stats.NPix = append(res.Stats.NPix, 50)
	}
	if opt.WantImages {
		for _, im := range p.Images {
			res.Models = append(res.Models, make([]float32, im.W*im.H))
		}
	}
	return res, nil
}

func point(ra, dec, mag float64) catalog.Source {
	return catalog.Source{RA: ra, Dec: dec, Chi2PSF: 1, Chi2Model: 2, MagPSF: mag,
		MagDisk: 99, MagSpheroid: 99}
}

// rows: 0 interior to fit, 1 interior already done, 2 marginal,
// 3 interior but too faint to model
func testCatalog() *catalog.Catalog {
	rows := []catalog.Source{
		point(20.005, .005, 20),
		point(20.006, .004, 20),
		point(20.0101, .005, 20),
		{RA: 20.002, Dec: .002, Chi2PSF: 2, Chi2Model: 1, MagPSF: 30, MagDisk: 30, MagSpheroid: 30},
	}
	for i := range rows {
		rows[i].Index = int64(i)
	}
	cat := catalog.New(rows, "gr")
	cat.Sources[1].PhotDone = true
	cat.Sources[1].Phot[0].Nanomaggies = 7
	cat.Sources[1].Phot[0].NanomaggiesInvvar = 4
	cat.Sources[1].Phot[1].Nanomaggies = 8 // skipped band, zero invvar
	return cat
}

func testImage(b byte) *frame.Image {
	t := wcs.ForBox(box, .4)
	im := &frame.Image{
		Name: "test " + string(b),
		Key:  frame.Key{Run: field.Run, Camcol: field.Camcol, Field: field.Field, Band: b},
		W:    t.W,
		H:    t.H,
		Pix:  make([]float32, t.W*t.H),
		WCS:  t,
		ZR:   [2]float64{-1, 5},
	}
	im.SetNoise(1)
	return im
}

func allImages() fakeImages {
	f := fakeImages{}
	for _, b := range []byte("gr") {
		im := testImage(b)
		f[im.Key] = im
	}
	return f
}

func grid() *tile.Grid {
	return tile.NewGrid(box, 2, unit.AngleFromSec(tile.DefaultMargin))
}

func TestRun(t *testing.T) {
	cat := testCatalog()
	ff := &fakeFitter{status: map[byte]fit.Status{
		'g': {Termination: fit.FunctionTolerance, Steps: 2, StepsSuccessful: 2},
		'r': {Termination: fit.MaxSteps, Steps: 10, StepsSuccessful: 10},
	}}
	cp := &catalog.Checkpoint{Dir: t.TempDir(), Field: "T"}
	d := &photom.Driver{
		Images:     allImages(),
		Refs:       fakeRefs{{RA: 20.0051, Dec: .005, Flux: [5]float32{1, 2, 3, 4, 5}, ResolveStatus: store.ResolvePrimary}},
		Fitter:     ff,
		Checkpoint: cp,
	}
	sum, err := d.Run(context.Background(), cat, grid(), []fields.Field{field})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Tiles)
	assert.Equal(t, 1, sum.Fit)
	assert.Equal(t, 2, sum.Images)
	assert.Equal(t, 0, sum.Skipped)

	require.Len(t, ff.calls, 2)
	assert.Equal(t, []bool{true, false, false}, ff.calls[0].Thawed)
	assert.Len(t, ff.calls[0].Images, 1)
	// matched reference flux, fitted flux of the done row, catalog flux
	// of the marginal row.  The done row was not measured in r so it
	// keeps its catalog flux there.
	assert.InDeltaSlice(t, []float64{2, 7, 10}, ff.seen['g'], 1e-9)
	assert.InDeltaSlice(t, []float64{3, 10, 10}, ff.seen['r'], 1e-9)

	p := cat.Sources[0].Phot
	assert.Equal(t, float32(100), p[0].Nanomaggies)
	assert.Equal(t, float32(4), p[0].NanomaggiesInvvar)
	assert.InDelta(t, 17.5, p[0].Mag, 1e-6)
	assert.InDelta(t, 2.5/2.302585093*.5/100, p[0].MagErr, 1e-6)
	assert.Equal(t, float32(3), p[0].ProFracFlux)
	assert.Equal(t, float32(50), p[0].NPix)
	assert.True(t, p[0].FitOK)
	assert.False(t, p[1].FitOK, "max steps is not ok")

	assert.Equal(t, float32(7), cat.Sources[1].Phot[0].Nanomaggies, "done row untouched")
	assert.Equal(t, float32(0), cat.Sources[2].Phot[0].Nanomaggies, "marginal row untouched")

	assert.True(t, cat.Sources[0].PhotDone)
	assert.False(t, cat.Sources[3].PhotDone, "too faint to model")
	assert.False(t, cat.Sources[2].PhotDone)
	assert.True(t, cat.Sources[2].Marginal)

	_, err = os.Stat(cp.SlicePath(0))
	assert.NoError(t, err)
	_, err = os.Stat(cp.CutPath(0))
	assert.NoError(t, err)
}

func TestNoImages(t *testing.T) {
	cat := testCatalog()
	ff := &fakeFitter{}
	d := &photom.Driver{Images: fakeImages{}, Refs: fakeRefs{}, Fitter: ff}
	sum, err := d.Run(context.Background(), cat, grid(), []fields.Field{field})
	require.NoError(t, err)
	assert.Empty(t, ff.calls)
	assert.Equal(t, 2, sum.Skipped)
	assert.True(t, cat.Sources[0].PhotDone)
	assert.Equal(t, catalog.Phot{}, cat.Sources[0].Phot[0])
}

// A tile with no overlapping fields skips every band but still completes
// its modeled rows.
func TestNoFields(t *testing.T) {
	cat := testCatalog()
	ff := &fakeFitter{}
	d := &photom.Driver{Images: allImages(), Refs: fakeRefs{}, Fitter: ff}
	sum, err := d.Run(context.Background(), cat, grid(), nil)
	require.NoError(t, err)
	assert.Empty(t, ff.calls)
	assert.Equal(t, 2, sum.Skipped)
	assert.Zero(t, sum.Images)
	assert.Equal(t, 1, sum.Fit)
	assert.True(t, cat.Sources[0].PhotDone)
	assert.False(t, cat.Sources[3].PhotDone)
}

func TestDiagnostics(t *testing.T) {
	cat := testCatalog()
	w := &diag.Writer{Dir: t.TempDir()}
	d := &photom.Driver{
		Images: allImages(),
		Refs:   fakeRefs{},
		Fitter: &fakeFitter{},
		Diag:   w,
	}
	_, err := d.Run(context.Background(), cat, grid(), []fields.Field{field})
	require.NoError(t, err)
	for _, n := range []string{"coadd-0-g", "data-0-g", "model-0-r"} {
		_, err := os.Stat(w.Path(n))
		assert.NoError(t, err, n)
	}
}

// A one row catalog has a zero area grid.  The coadd still gets a pixel.
func TestSingleRowDiagnostics(t *testing.T) {
	cat := catalog.New([]catalog.Source{point(20.005, .005, 20)}, "gr")
	g := tile.NewGrid(cat.Bounds(), 2, unit.AngleFromSec(tile.DefaultMargin))
	w := &diag.Writer{Dir: t.TempDir()}
	ff := &fakeFitter{}
	d := &photom.Driver{
		Images: allImages(),
		Refs:   fakeRefs{},
		Fitter: ff,
		Diag:   w,
	}
	sum, err := d.Run(context.Background(), cat, g, []fields.Field{field})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Tiles)
	assert.Len(t, ff.calls, 2)
	assert.True(t, cat.Sources[0].PhotDone)
	_, err = os.Stat(w.Path("data-0-g"))
	assert.NoError(t, err)
}

func TestCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &photom.Driver{Images: allImages(), Refs: fakeRefs{}, Fitter: &fakeFitter{}}
	_, err := d.Run(ctx, testCatalog(), grid(), []fields.Field{field})
	assert.ErrorIs(t, err, context.Canceled)
}

func ExampleMagErr() {
	fmt.Printf("%.4f\n", photom.MagErr(100, 4))
	// Output:
	// 0.0054
}
