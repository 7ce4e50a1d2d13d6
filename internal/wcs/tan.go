// Public domain.

// Package wcs implements the gnomonic (TAN) world coordinate system used by
// SDSS frames and by the synthetic tile grids of the photometry driver.
//
// Pixel coordinates here are zero based.  CRPix keeps the FITS one based
// convention so header values can be stored unchanged.
package wcs

import (
	"errors"
	"math"

	"github.com/soniakeys/cs82phot/internal/sky"
)

// ErrProjection is returned for positions more than 90 degrees from the
// tangent point.
var ErrProjection = errors.New("wcs: position not on the tangent plane hemisphere")

// Tan is a TAN projection.  All angles in degrees.
type Tan struct {
	CRVal [2]float64    // tangent point, RA, Dec
	CRPix [2]float64    // reference pixel, FITS one based
	CD    [2][2]float64 // degrees per pixel
	W, H  int
}

// ForBox makes an axis aligned TAN WCS covering box at the given pixel
// scale in arc seconds, at least one pixel each way.  cos(dec) is ignored
// in the RA pixel count, which is close enough for the near equatorial
// Stripe 82 grids.
func ForBox(b sky.Box, pixscale float64) *Tan {
	ps := pixscale / 3600
	w := max(1, int(math.Ceil((b.RA1-b.RA0).Deg()/ps)))
	h := max(1, int(math.Ceil((b.Dec1-b.Dec0).Deg()/ps)))
	ra, dec := b.Center()
	return &Tan{
		CRVal: [2]float64{ra.Deg(), dec.Deg()},
		CRPix: [2]float64{float64(w/2 + 1), float64(h/2 + 1)},
		CD:    [2][2]float64{{ps, 0}, {0, ps}},
		W:     w,
		H:     h,
	}
}

func (t *Tan) cdInv() (m [2][2]float64, ok bool) {
	det := t.CD[0][0]*t.CD[1][1] - t.CD[0][1]*t.CD[1][0]
	if det == 0 {
		return m, false
	}
	m[0][0] = t.CD[1][1] / det
	m[0][1] = -t.CD[0][1] / det
	m[1][0] = -t.CD[1][0] / det
	m[1][1] = t.CD[0][0] / det
	return m, true
}

// CDInverse returns the pixel per degree matrix.
func (t *Tan) CDInverse() [2][2]float64 {
	m, _ := t.cdInv()
	return m
}

// PixelScale returns the mean pixel size in arc seconds.
func (t *Tan) PixelScale() float64 {
	det := t.CD[0][0]*t.CD[1][1] - t.CD[0][1]*t.CD[1][0]
	return math.Sqrt(math.Abs(det)) * 3600
}

// PixelToRaDec converts zero based pixel coordinates to RA, Dec in degrees.
func (t *Tan) PixelToRaDec(x, y float64) (ra, dec float64) {
	dx := x + 1 - t.CRPix[0]
	dy := y + 1 - t.CRPix[1]
	xi := (t.CD[0][0]*dx + t.CD[0][1]*dy) * math.Pi / 180
	eta := (t.CD[1][0]*dx + t.CD[1][1]*dy) * math.Pi / 180
	sd0, cd0 := math.Sincos(t.CRVal[1] * math.Pi / 180)
	den := cd0 - eta*sd0
	r := math.Atan2(xi, den) + t.CRVal[0]*math.Pi/180
	d := math.Atan2(sd0+eta*cd0, math.Hypot(xi, den))
	ra = math.Mod(r*180/math.Pi+360, 360)
	return ra, d * 180 / math.Pi
}

// RaDecToPixel converts RA, Dec in degrees to zero based pixel coordinates.
func (t *Tan) RaDecToPixel(ra, dec float64) (x, y float64, err error) {
	inv, ok := t.cdInv()
	if !ok {
		return 0, 0, errors.New("wcs: singular CD matrix")
	}
	sd0, cd0 := math.Sincos(t.CRVal[1] * math.Pi / 180)
	sd, cd := math.Sincos(dec * math.Pi / 180)
	sdr, cdr := math.Sincos((ra - t.CRVal[0]) * math.Pi / 180)
	cosc := sd0*sd + cd0*cd*cdr
	if cosc <= 0 {
		return 0, 0, ErrProjection
	}
	xi := cd * sdr / cosc * 180 / math.Pi
	eta := (cd0*sd - sd0*cd*cdr) / cosc * 180 / math.Pi
	x = inv[0][0]*xi + inv[0][1]*eta + t.CRPix[0] - 1
	y = inv[1][0]*xi + inv[1][1]*eta + t.CRPix[1] - 1
	return x, y, nil
}

// Shift returns a copy of t for the sub image starting at pixel x0, y0.
func (t *Tan) Shift(x0, y0, w, h int) *Tan {
	s := *t
	s.CRPix[0] -= float64(x0)
	s.CRPix[1] -= float64(y0)
	s.W, s.H = w, h
	return &s
}

// Footprint returns the RA, Dec box of the image corners.
func (t *Tan) Footprint() sky.Box {
	xs := [4]float64{0, float64(t.W - 1), 0, float64(t.W - 1)}
	ys := [4]float64{0, 0, float64(t.H - 1), float64(t.H - 1)}
	r0, d0 := t.PixelToRaDec(xs[0], ys[0])
	b := sky.BoxFromDeg(r0, r0, d0, d0)
	for i := 1; i < 4; i++ {
		r, d := t.PixelToRaDec(xs[i], ys[i])
		o := sky.BoxFromDeg(r, r, d, d)
		b.RA0 = min(b.RA0, o.RA0)
		b.RA1 = max(b.RA1, o.RA1)
		b.Dec0 = min(b.Dec0, o.Dec0)
		b.Dec1 = max(b.Dec1, o.Dec1)
	}
	return b
}
