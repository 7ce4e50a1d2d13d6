// Public domain.

// Package diag makes diagnostic PNG images: stretched pixel data, mosaics,
// coadds, footprint maps, and simple overlays.
//
// Images are drawn with the origin at the lower left, so north is up for
// the usual SDSS frame orientation.
package diag

import (
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Scale maps a pixel value to a gray level.
type Scale func(v float64) uint8

// Linear maps lo..hi to 0..255, clipping outside.
func Linear(lo, hi float64) Scale {
	d := hi - lo
	if d <= 0 {
		d = 1
	}
	return func(v float64) uint8 {
		return clip((v - lo) / d)
	}
}

func clip(f float64) uint8 {
	switch {
	case math.IsNaN(f) || f <= 0:
		return 0
	case f >= 1:
		return 255
	}
	return uint8(f*255 + .5)
}

// Quantiles returns the p quantiles of pix.
func Quantiles(pix []float32, p ...float64) []float64 {
	s := make([]float64, 0, len(pix))
	for _, v := range pix {
		if !math.IsNaN(float64(v)) {
			s = append(s, float64(v))
		}
	}
	q := make([]float64, len(p))
	if len(s) == 0 {
		return q
	}
	sort.Float64s(s)
	for i, pi := range p {
		q[i] = stat.Quantile(pi, stat.Empirical, s, nil)
	}
	return q
}

// Asinh returns a nonlinear stretch fit to the distribution of pix.
//
// Values are centered on the median, scaled by half the interquartile
// range, and compressed with asinh.  Black and white are at the .1 and
// .99 quantiles.
func Asinh(pix []float32) Scale {
	q := Quantiles(pix, .1, .25, .5, .75, .99)
	return AsinhQ(q[0], q[1], q[2], q[3], q[4])
}

// AsinhQ is Asinh with the quantiles given: lo and hi are the black and
// white points, q1, q2, q3 the quartiles.
func AsinhQ(lo, q1, q2, q3, hi float64) Scale {
	s := (q3 - q1) / 2
	if s <= 0 {
		s = 1
	}
	nl := func(v float64) float64 {
		return math.Asinh((v-q2)/s*10) / 10
	}
	return mapped(nl, nl(lo), nl(hi))
}

func mapped(f func(float64) float64, mn, mx float64) Scale {
	lin := Linear(mn, mx)
	return func(v float64) uint8 {
		return lin(f(v))
	}
}

// Gray renders a w by h row major image, row 0 at the bottom.
func Gray(w, h int, pix []float32, s Scale) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := g.Pix[(h-1-y)*g.Stride:]
		for x := 0; x < w; x++ {
			row[x] = s(float64(pix[y*w+x]))
		}
	}
	return g
}
