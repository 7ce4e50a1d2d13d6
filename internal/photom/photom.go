// Public domain.

// Package photom drives tiled forced photometry of the deep catalog.
//
// For each tile the catalog rows are turned into source models, seeded
// with reference survey fluxes, and fit one band at a time against the
// SDSS frames overlapping the tile.  Results go straight back into the
// catalog, which is checkpointed after every tile.
package photom

import (
	"context"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/soniakeys/unit"
	"go.uber.org/zap"

	"github.com/soniakeys/cs82phot/internal/catalog"
	"github.com/soniakeys/cs82phot/internal/diag"
	"github.com/soniakeys/cs82phot/internal/fields"
	"github.com/soniakeys/cs82phot/internal/fit"
	"github.com/soniakeys/cs82phot/internal/frame"
	"github.com/soniakeys/cs82phot/internal/model"
	"github.com/soniakeys/cs82phot/internal/sky"
	"github.com/soniakeys/cs82phot/internal/store"
	"github.com/soniakeys/cs82phot/internal/tile"
	"github.com/soniakeys/cs82phot/internal/wcs"
	"github.com/soniakeys/cs82phot/internal/xmatch"
)

// Defaults for Driver fields left zero.
const (
	DefaultMagLim      = 24.
	DefaultMatchRadius = 1. // arc seconds
	DefaultCoaddScale  = .4 // arc seconds per pixel
)

// ImageSource supplies frame cutouts.  A nil image with no error means
// the frame does not cover box.
type ImageSource interface {
	Cutout(ctx context.Context, k frame.Key, box sky.Box) (*frame.Image, error)
}

// RefSource supplies reference survey objects in a box.
type RefSource interface {
	RefObjects(ctx context.Context, box sky.Box, primaryOnly bool) ([]store.RefObject, error)
}

// Driver holds everything constant over a run.  Images, Refs, and Fitter
// are required; Diag and Checkpoint are optional.
type Driver struct {
	MagLim      float64
	MatchRadius unit.Angle
	Images      ImageSource
	Refs        RefSource
	Fitter      fit.Fitter
	Opts        fit.Options
	Diag        *diag.Writer
	Checkpoint  *catalog.Checkpoint
	Log         *zap.SugaredLogger
}

// Summary counts what a run did.
type Summary struct {
	Tiles   int // tiles with catalog rows
	Fit     int // rows newly marked done
	Images  int // band images used
	Skipped int // bands with no images
}

// Run processes every cell of grid in order.  Cells with no catalog rows
// are skipped without a checkpoint.
func (d *Driver) Run(ctx context.Context, cat *catalog.Catalog, grid *tile.Grid, fs []fields.Field) (*Summary, error) {
	log := d.logger()
	sum := &Summary{}
	t0 := time.Now()
	err := grid.Each(func(t *tile.Tile) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		grid.Fill(t, cat, fs)
		if len(t.Rows) == 0 {
			return nil
		}
		ts := time.Now()
		log.Infow("tile", "slice", t.Slice, "of", grid.Cells(),
			"rows", len(t.Rows), "marginal", t.NMarginal(), "fields", len(t.Fields))
		st, err := d.Tile(ctx, cat, t)
		if err != nil {
			return fmt.Errorf("slice %d: %w", t.Slice, err)
		}
		sum.Tiles++
		sum.Fit += st.Fit
		sum.Images += st.Images
		sum.Skipped += st.Skipped
		log.Infow("tile done", "slice", t.Slice, "elapsed", time.Since(ts).Round(time.Millisecond))
		return nil
	})
	log.Infow("run", "tiles", sum.Tiles, "fit", sum.Fit,
		"elapsed", time.Since(t0).Round(time.Second))
	return sum, err
}

// Tile fits all bands of one filled tile, marks its modeled interior rows
// done, and writes the checkpoint.  Rows too faint to model stay undone.
func (d *Driver) Tile(ctx context.Context, cat *catalog.Catalog, t *tile.Tile) (*Summary, error) {
	log := d.logger()
	sum := &Summary{}
	maglim := d.MagLim
	if maglim == 0 {
		maglim = DefaultMagLim
	}
	srcs, irows := model.Classify(cat, t.Rows, maglim, cat.Bands)
	marginal := make([]bool, len(srcs))
	for k, i := range irows {
		marginal[k] = t.Marginal[i]
	}
	log.Debugw("classified", "models", len(srcs), "rows", len(t.Rows))
	if err := d.seed(ctx, cat, t, srcs); err != nil {
		return nil, err
	}

	for b := 0; b < len(cat.Bands); b++ {
		band := cat.Bands[b]
		thawed := make([]bool, len(srcs))
		for k, s := range srcs {
			thawed[k] = !marginal[k] && !cat.Sources[s.Row()].PhotDone
		}
		ims, err := d.images(ctx, t, band)
		if err != nil {
			return nil, err
		}
		if len(ims) == 0 {
			log.Infow("no images", "slice", t.Slice, "band", string(band))
			sum.Skipped++
			continue
		}
		sum.Images += len(ims)
		if d.Diag != nil {
			d.coadd(t, band, ims)
		}
		res, err := d.Fitter.ForcedPhotometry(ctx, &fit.Problem{
			Images:  ims,
			Sources: srcs,
			Band:    band,
			Thawed:  thawed,
		}, d.options())
		if err != nil {
			return nil, fmt.Errorf("band %c: %w", band, err)
		}
		log.Debugw("fit", "band", string(band), "thawed", len(res.Thawed),
			"termination", res.Status.Termination, "steps", res.Status.Steps)
		WriteBack(cat, b, srcs, res)
		if d.Diag != nil && res.Models != nil {
			d.mosaics(t, band, ims, res.Models)
		}
	}

	for k, s := range srcs {
		if row := &cat.Sources[s.Row()]; !marginal[k] && !row.PhotDone {
			row.PhotDone = true
			sum.Fit++
		}
	}
	if d.Checkpoint != nil {
		full, cut, err := d.Checkpoint.Write(cat, t.Slice)
		if err != nil {
			return nil, err
		}
		log.Debugw("checkpoint", "full", full, "cut", cut)
	}
	return sum, nil
}

// seed sets brightnesses before fitting.  Rows already done carry their
// fitted fluxes in bands that were measured, and keep the catalog
// brightness in bands with zero inverse variance.  Rows still to fit take
// the flux of the nearest reference object within the match radius, if
// any.
func (d *Driver) seed(ctx context.Context, cat *catalog.Catalog, t *tile.Tile, srcs []model.Source) error {
	r := d.MatchRadius
	if r == 0 {
		r = unit.AngleFromSec(DefaultMatchRadius)
	}
	var todo []model.Source
	for _, s := range srcs {
		row := &cat.Sources[s.Row()]
		if !row.PhotDone {
			todo = append(todo, s)
			continue
		}
		for b := 0; b < len(cat.Bands); b++ {
			if p := row.Phot[b]; p.NanomaggiesInvvar > 0 {
				s.Flux().SetBand(cat.Bands[b], float64(p.Nanomaggies))
			}
		}
	}
	if len(todo) == 0 {
		return nil
	}
	refs, err := d.Refs.RefObjects(ctx, t.Box.Expand(t.Margin+r), true)
	if err != nil {
		return fmt.Errorf("reference objects: %w", err)
	}
	ra := make([]float64, len(refs))
	dec := make([]float64, len(refs))
	for i := range refs {
		ra[i], dec[i] = refs[i].RA, refs[i].Dec
	}
	x := xmatch.NewIndex(ra, dec)
	n := 0
	for _, s := range todo {
		sr, sd := cat.Sources[s.Row()].Pos()
		if j, _, ok := x.Nearest(sr, sd, r); ok {
			model.SeedFlux(s, &refs[j], cat.Bands)
			n++
		}
	}
	d.logger().Debugw("reference match", "refs", len(refs), "todo", len(todo), "matched", n)
	return nil
}

// images loads the band cutouts of every field overlapping the tile.
// Frames that are missing or unreadable are logged and skipped.
func (d *Driver) images(ctx context.Context, t *tile.Tile, band byte) ([]*frame.Image, error) {
	var ims []*frame.Image
	for _, f := range t.Fields {
		k := frame.Key{Run: f.Run, Camcol: f.Camcol, Field: f.Field, Band: band}
		im, err := d.Images.Cutout(ctx, k, t.Box)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.logger().Warnw("skipping frame", "frame", k.String(), "err", err)
			continue
		}
		if im != nil {
			ims = append(ims, im)
		}
	}
	return ims, nil
}

// WriteBack copies fit results for band index b into the catalog rows of
// srcs.  The fit_ok flag is the single optimizer status for the band,
// given to every thawed row.
func WriteBack(cat *catalog.Catalog, b int, srcs []model.Source, res *fit.Result) {
	ok := res.Status.OK()
	for j, k := range res.Thawed {
		nm, iv := res.Flux[j], res.IV[j]
		p := &cat.Sources[srcs[k].Row()].Phot[b]
		p.Nanomaggies = float32(nm)
		p.NanomaggiesInvvar = float32(iv)
		p.Mag = float32(model.NanomaggiesToMag(nm))
		p.MagErr = float32(MagErr(nm, iv))
		if st := res.Stats; st != nil {
			p.ProChi2 = float32(st.ProChi2[j])
			p.ProNPix = float32(st.ProNPix[j])
			p.ProFracFlux = float32(st.ProFracFlux[j])
			p.ProFlux = float32(st.ProFlux[j])
			p.NPix = float32(st.NPix[j])
		}
		p.FitOK = ok
	}
}

// MagErr is the magnitude error for flux nm with inverse variance iv.
func MagErr(nm, iv float64) float64 {
	dnm := 1 / math.Sqrt(iv)
	return math.Abs(2.5 / math.Ln10 * dnm / nm)
}

func (d *Driver) coadd(t *tile.Tile, band byte, ims []*frame.Image) {
	tw := wcs.ForBox(t.Box, DefaultCoaddScale)
	pix, n := diag.Coadd(d.logger(), tw, ims)
	if n == 0 {
		return
	}
	d.save(fmt.Sprintf("coadd-%d-%c", t.Slice, band), diag.Gray(tw.W, tw.H, pix, diag.Asinh(pix)))
}

func (d *Driver) mosaics(t *tile.Tile, band byte, ims []*frame.Image, mods [][]float32) {
	data := make([]image.Image, len(ims))
	mod := make([]image.Image, len(ims))
	for i, im := range ims {
		s := diag.Linear(im.ZR[0], im.ZR[1])
		data[i] = diag.Gray(im.W, im.H, im.Pix, s)
		mod[i] = diag.Gray(im.W, im.H, mods[i], s)
	}
	d.save(fmt.Sprintf("data-%d-%c", t.Slice, band), diag.Mosaic(data, 2))
	d.save(fmt.Sprintf("model-%d-%c", t.Slice, band), diag.Mosaic(mod, 2))
}

// save writes a diagnostic image.  Failures are logged only.
func (d *Driver) save(name string, img image.Image) {
	if _, err := d.Diag.Save(name, img); err != nil {
		d.logger().Warnw("diagnostic image", "name", name, "err", err)
	}
}

func (d *Driver) options() fit.Options {
	if d.Opts == (fit.Options{}) {
		return fit.DefaultOptions
	}
	return d.Opts
}

func (d *Driver) logger() *zap.SugaredLogger {
	if d.Log == nil {
		return zap.NewNop().Sugar()
	}
	return d.Log
}
