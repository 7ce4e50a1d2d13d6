// Public domain.

package synthprog

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/astrogo/fitsio"
	"go.uber.org/zap"

	"github.com/soniakeys/cs82phot/internal/diag"
	"github.com/soniakeys/cs82phot/internal/fit"
	"github.com/soniakeys/cs82phot/internal/frame"
	"github.com/soniakeys/cs82phot/internal/model"
	"github.com/soniakeys/cs82phot/internal/store"
)

// Tune is one tuning directive.  Kind 'n' takes Steps global steps over
// all sources.  Kind 'i' takes Steps rounds in which each source in turn
// gets NSteps steps of its own.
type Tune struct {
	Kind   byte
	Steps  int
	NSteps int
}

// TuneID is the output id of step of tuning set.  Both count from 1.
func TuneID(set, step int, prefix string) string {
	return fmt.Sprintf("tune-%d-%d-", set, step) + prefix
}

// Synth is one frame and the sources modeling it.
type Synth struct {
	Image   *frame.Image
	Sources []model.Source
	ROI     []int
	Dir     string
	Debug   bool // draw source outlines on the images
	PlotAll bool // images for each source alone
	Fitter  fit.Fitter
	Log     *zap.SugaredLogger
}

// Sources makes models of the reference objects centered on im.  Objects
// without positive flux in the band of im are dropped.
func Sources(objs []store.RefObject, im *frame.Image, log *zap.SugaredLogger) []model.Source {
	band := im.Key.Band
	var srcs []model.Source
	for i := range objs {
		o := &objs[i]
		x, y, err := im.WCS.RaDecToPixel(o.RA, o.Dec)
		if err != nil || x < 0 || y < 0 || x >= float64(im.W) || y >= float64(im.H) {
			continue
		}
		s := model.FromRef(o, string(band))
		if nm := s.Flux().Band(band); nm <= 0 {
			log.Debugw("dropping source without flux", "x", x, "y", y, "nanomaggies", nm)
			continue
		}
		log.Debugw("source", "n", len(srcs), "x", fmt.Sprintf("%.1f", x), "y", fmt.Sprintf("%.1f", y),
			"kind", model.Kind(s), "nanomaggies", s.Flux().Band(band))
		srcs = append(srcs, s)
	}
	return srcs
}

// ZR is the display range, five sky sigma either side of zero.
func (s *Synth) ZR() [2]float64 {
	return [2]float64{-5 * s.Image.SkySig, 5 * s.Image.SkySig}
}

// Save writes the synthetic image, the state, and the data, model, diff,
// and chi images, all tagged with idstr.
func (s *Synth) Save(idstr string) error {
	im := s.Image
	band := im.Key.Band
	mod := fit.ModelImage(im, s.Sources, band)
	chi := fit.ChiImage(im, mod)

	fn := filepath.Join(s.Dir, "synth-"+idstr+".fits")
	s.Log.Infow("writing synthetic image", "file", fn)
	if err := writeFITS(fn, im, mod); err != nil {
		return err
	}
	fn = filepath.Join(s.Dir, "state-"+idstr+".gob")
	s.Log.Infow("saving state", "file", fn)
	if err := WriteState(fn, &State{Frame: im.Key, ROI: s.ROI, Saved: time.Now(), Sources: s.Sources}); err != nil {
		return err
	}

	// nonlinear stretch set by the data, limits at the display range
	q := diag.Quantiles(im.Pix, .25, .5, .75)
	zr := s.ZR()
	nl := diag.AsinhQ(zr[0], q[0], q[1], q[2], zr[1])
	lin := diag.Linear(-10, 10)
	sky := float32(diag.Quantiles(mod, .5)[0])
	data := offset(im.Pix, sky)

	w := &diag.Writer{Dir: s.Dir, Log: s.Log}
	save := func(pre string, pix []float32, sc diag.Scale, debug bool) error {
		var img image.Image = diag.Gray(im.W, im.H, pix, sc)
		if debug {
			c := diag.NewCanvas(img)
			s.outline(c)
			img = c
		}
		fn, err := w.Save(pre+"-"+idstr, img)
		if err == nil {
			s.Log.Infow("saved", "file", fn)
		}
		return err
	}
	for _, p := range []struct {
		pre string
		pix []float32
		sc  diag.Scale
	}{
		{"data", data, nl},
		{"model", offset(mod, sky), nl},
		{"diff", residual(im.Pix, mod), nl},
		{"chi", chi, lin},
	} {
		if err := save(p.pre, p.pix, p.sc, s.Debug); err != nil {
			return err
		}
	}
	if !s.PlotAll {
		return nil
	}
	for i, src := range s.Sources {
		one := fit.ModelImage(im, []model.Source{src}, band)
		sn := fmt.Sprintf("-s%d", i+1)
		for _, p := range []struct {
			pre string
			pix []float32
			sc  diag.Scale
		}{
			{"data" + sn, data, nl},
			{"model" + sn, offset(one, sky), nl},
			{"diff" + sn, residual(im.Pix, one), nl},
			{"chi" + sn, fit.ChiImage(im, one), lin},
		} {
			if err := save(p.pre, p.pix, p.sc, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeFITS(fn string, im *frame.Image, pix []float32) error {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	err = frame.Write(f, im.W, im.H, pix, im.WCS,
		fitsio.Card{Name: "RUN", Value: im.Key.Run},
		fitsio.Card{Name: "CAMCOL", Value: im.Key.Camcol},
		fitsio.Card{Name: "FIELD", Value: im.Key.Field},
		fitsio.Card{Name: "FILTER", Value: string(im.Key.Band)})
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func offset(pix []float32, d float32) []float32 {
	out := make([]float32, len(pix))
	for i, v := range pix {
		out[i] = v - d
	}
	return out
}

func residual(data, mod []float32) []float32 {
	out := make([]float32, len(data))
	for i := range out {
		out[i] = data[i] - mod[i]
	}
	return out
}

// outline draws each source: points as yellow markers, galaxy shapes as
// ellipses, blue for the exponential part of a composite, green for the
// deV part, red for single component galaxies.
func (s *Synth) outline(c *diag.Canvas) {
	im := s.Image
	for _, src := range s.Sources {
		ra, dec := src.Position()
		x, y, err := im.WCS.RaDecToPixel(ra, dec)
		if err != nil {
			continue
		}
		comps := src.Components()
		if len(comps) == 1 && comps[0].Profile == model.PointProfile {
			c.Marker(x, y, 2, diag.Yellow)
			continue
		}
		for _, cp := range comps {
			col := diag.Red
			if len(comps) > 1 {
				col = diag.Blue
				if cp.Profile == model.DevProfile {
					col = diag.Green
				}
			}
			a, b, th := ellipse(im, cp.Shape)
			c.Ellipse(x, y, a, b, th, col)
			c.Line(x, y, x+a*math.Cos(th), y+a*math.Sin(th), diag.Purple)
		}
		c.Marker(x, y, 1, diag.Green)
	}
}

// ellipse returns the pixel semi axes of sh on im and the angle of the
// major axis from +x.  The major axis is at position angle Phi, east of
// north.
func ellipse(im *frame.Image, sh model.Shape) (a, b, theta float64) {
	inv := im.WCS.CDInverse()
	sp, cp := math.Sincos(sh.Phi * math.Pi / 180)
	px := inv[0][0]*sp + inv[0][1]*cp
	py := inv[1][0]*sp + inv[1][1]*cp
	a = sh.Re / im.WCS.PixelScale()
	return a, a * sh.AB, math.Atan2(py, px)
}

// Tune runs the tuning directives in order, saving after every step.
func (s *Synth) Tune(ctx context.Context, tune []Tune, prefix string) error {
	all := make([]bool, len(s.Sources))
	for i := range all {
		all[i] = true
	}
	for set, t := range tune {
		for step := 1; step <= t.Steps; step++ {
			switch t.Kind {
			case 'n':
				if err := s.step(ctx, all, 1); err != nil {
					return err
				}
			case 'i':
				for j := range s.Sources {
					one := make([]bool, len(s.Sources))
					one[j] = true
					if err := s.step(ctx, one, t.NSteps); err != nil {
						return err
					}
				}
			default:
				return fmt.Errorf("unknown tuning kind %q", t.Kind)
			}
			if err := s.Save(TuneID(set+1, step, prefix)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Synth) step(ctx context.Context, thawed []bool, n int) error {
	res, err := s.Fitter.ForcedPhotometry(ctx, &fit.Problem{
		Images:  []*frame.Image{s.Image},
		Sources: s.Sources,
		Band:    s.Image.Key.Band,
		Thawed:  thawed,
	}, fit.Options{MinDlnP: fit.DefaultOptions.MinDlnP, MaxSteps: n})
	if err != nil {
		return err
	}
	s.Log.Debugw("optimize", "thawed", len(res.Thawed),
		"termination", res.Status.Termination, "steps", res.Status.Steps)
	return nil
}
