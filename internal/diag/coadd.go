// Public domain.

package diag

import (
	"errors"
	"image"
	"math"

	"go.uber.org/zap"

	"github.com/soniakeys/cs82phot/internal/frame"
	"github.com/soniakeys/cs82phot/internal/sky"
	"github.com/soniakeys/cs82phot/internal/wcs"
)

// Coadd resamples ims onto t by nearest neighbour and averages them where
// they overlap.  Images that cannot be resampled are logged and skipped;
// n is the number actually used.  Pixels no image covers are zero.
func Coadd(log *zap.SugaredLogger, t *wcs.Tan, ims []*frame.Image) (pix []float32, n int) {
	w, h := t.W, t.H
	if w <= 0 || h <= 0 {
		return nil, 0
	}
	pix = make([]float32, w*h)
	cnt := make([]int32, w*h)
	ra := make([]float64, w*h)
	dec := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ra[y*w+x], dec[y*w+x] = t.PixelToRaDec(float64(x), float64(y))
		}
	}
	for _, im := range ims {
		if err := resample(im, ra, dec, pix, cnt); err != nil {
			log.Warnw("coadd: skipping image", "image", im.Name, "err", err)
			continue
		}
		n++
	}
	for i, c := range cnt {
		if c > 1 {
			pix[i] /= float32(c)
		}
	}
	return pix, n
}

var errNoWCS = errors.New("no usable WCS")

func resample(im *frame.Image, ra, dec []float64, pix []float32, cnt []int32) error {
	if im.WCS == nil || len(im.Pix) != im.W*im.H || len(ra) == 0 {
		return errNoWCS
	}
	// one projection up front so a bad WCS fails before any pixel is added
	if _, _, err := im.WCS.RaDecToPixel(ra[len(ra)/2], dec[len(dec)/2]); err != nil {
		return err
	}
	for i := range ra {
		fx, fy, err := im.WCS.RaDecToPixel(ra[i], dec[i])
		if err != nil {
			continue
		}
		x, y := int(math.Round(fx)), int(math.Round(fy))
		if x < 0 || y < 0 || x >= im.W || y >= im.H {
			continue
		}
		pix[i] += im.Pix[y*im.W+x]
		cnt[i]++
	}
	return nil
}

// Footprint maps the density of catalog positions over box onto a w by h
// image and outlines each of boxes in red.  RA increases to the right.
func Footprint(box sky.Box, w, h int, ra, dec []float64, boxes []sky.Box) *image.RGBA {
	r0, d0 := box.RA0.Deg(), box.Dec0.Deg()
	sr := (box.RA1 - box.RA0).Deg()
	sd := (box.Dec1 - box.Dec0).Deg()
	if sr <= 0 {
		sr = 1
	}
	if sd <= 0 {
		sd = 1
	}
	px := func(r, d float64) (float64, float64) {
		return (r - r0) / sr * float64(w-1), (d - d0) / sd * float64(h-1)
	}
	hist := make([]float32, w*h)
	var mx float32
	for i := range ra {
		fx, fy := px(ra[i], dec[i])
		x, y := int(math.Round(fx)), int(math.Round(fy))
		if x < 0 || y < 0 || x >= w || y >= h {
			continue
		}
		hist[y*w+x]++
		mx = max(mx, hist[y*w+x])
	}
	c := NewCanvas(Gray(w, h, hist, Linear(0, float64(mx))))
	for _, b := range boxes {
		x0, y0 := px(b.RA0.Deg(), b.Dec0.Deg())
		x1, y1 := px(b.RA1.Deg(), b.Dec1.Deg())
		c.Outline(x0, y0, x1, y1, Red)
	}
	return c.RGBA
}
