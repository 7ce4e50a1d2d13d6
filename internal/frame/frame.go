// Public domain.

// Package frame reads SDSS calibrated frame images into memory with the
// per pixel inverse variance, WCS, and PSF width the fitter needs.
package frame

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/astrogo/fitsio"
	"gonum.org/v1/gonum/stat"

	"github.com/soniakeys/cs82phot/internal/wcs"
)

// Key identifies one frame.
type Key struct {
	Run, Camcol, Field int
	Band               byte
}

// Filename is the frame file name as served by the archive, without any
// compression suffix.
func (k Key) Filename() string {
	return fmt.Sprintf("frame-%c-%06d-%d-%04d.fits", k.Band, k.Run, k.Camcol, k.Field)
}

// String is the RRRRRR-BC-FFFF form used in output file names.
func (k Key) String() string {
	return fmt.Sprintf("%06d-%c%d-%04d", k.Run, k.Band, k.Camcol, k.Field)
}

// DefaultPSFFWHM is used for frames without a seeing header, arc seconds.
const DefaultPSFFWHM = 1.4

// fwhm = 2 sqrt(2 ln 2) sigma
const fwhmPerSigma = 2.3548200450309493

// Image is a frame or a cutout of one.  Pixels are row major, x fastest,
// in nanomaggies.
type Image struct {
	Name   string
	Key    Key
	W, H   int
	Pix    []float32
	Invvar []float32
	WCS    *wcs.Tan

	// X0, Y0 locate a cutout in the full frame.
	X0, Y0 int

	PSFSigma float64 // pixels
	SkySig   float64 // nanomaggies per pixel
	ZR       [2]float64
}

// At returns the pixel value at x, y.
func (im *Image) At(x, y int) float32 {
	return im.Pix[y*im.W+x]
}

// Sub returns the cutout x0 <= x < x1, y0 <= y < y1, clipped to the
// image, or nil if nothing is left.
func (im *Image) Sub(x0, x1, y0, y1 int) *Image {
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, im.W), min(y1, im.H)
	if x1 <= x0 || y1 <= y0 {
		return nil
	}
	w, h := x1-x0, y1-y0
	s := *im
	s.W, s.H = w, h
	s.X0, s.Y0 = im.X0+x0, im.Y0+y0
	s.Pix = make([]float32, w*h)
	s.Invvar = make([]float32, w*h)
	for y := 0; y < h; y++ {
		copy(s.Pix[y*w:(y+1)*w], im.Pix[(y+y0)*im.W+x0:])
		copy(s.Invvar[y*w:(y+1)*w], im.Invvar[(y+y0)*im.W+x0:])
	}
	s.WCS = im.WCS.Shift(x0, y0, w, h)
	return &s
}

// MedianInvvar is the median of the inverse variance.
func (im *Image) MedianInvvar() float64 {
	return median32(im.Invvar)
}

func median32(v []float32) float64 {
	if len(v) == 0 {
		return 0
	}
	s := make([]float64, len(v))
	for i, x := range v {
		s[i] = float64(x)
	}
	sort.Float64s(s)
	return stat.Quantile(.5, stat.Empirical, s, nil)
}

// Noise estimates pixel noise as the scaled median absolute deviation.
func Noise(pix []float32) (median, sigma float64) {
	if len(pix) == 0 {
		return 0, 0
	}
	median = median32(pix)
	dev := make([]float32, len(pix))
	for i, x := range pix {
		dev[i] = float32(math.Abs(float64(x) - median))
	}
	return median, 1.4826 * median32(dev)
}

// Read reads a frame from r: the primary image with its TAN WCS.  The
// inverse variance is constant, from the SKYSIG header value if present
// or else from the pixel noise, ignoring source flux.
func Read(r io.Reader, k Key) (*Image, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("%s: primary hdu is not an image", k.Filename())
	}
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) != 2 {
		return nil, fmt.Errorf("%s: %d image axes", k.Filename(), len(axes))
	}
	w, h := axes[0], axes[1]
	pix, err := readPix(img, hdr.Bitpix(), w*h)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", k.Filename(), err)
	}
	t, err := headerWCS(hdr, w, h)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", k.Filename(), err)
	}
	im := &Image{
		Name: fmt.Sprintf("SDSS %d-%d-%d %c", k.Run, k.Camcol, k.Field, k.Band),
		Key:  k,
		W:    w,
		H:    h,
		Pix:  pix,
		WCS:  t,
	}
	fwhm := DefaultPSFFWHM
	if v, ok := cardFloat(hdr, "PSF_FWHM"); ok && v > 0 {
		fwhm = v
	}
	im.PSFSigma = fwhm / fwhmPerSigma / t.PixelScale()
	med, sig := Noise(pix)
	if v, ok := cardFloat(hdr, "SKYSIG"); ok && v > 0 {
		sig = v
	}
	im.SetNoise(sig)
	im.ZR = [2]float64{med - 2*sig, med + 5*sig}
	return im, nil
}

// SetNoise sets a constant inverse variance for pixel noise sigma.
func (im *Image) SetNoise(sigma float64) {
	im.SkySig = sigma
	iv := float32(0)
	if sigma > 0 {
		iv = float32(1 / (sigma * sigma))
	}
	im.Invvar = make([]float32, len(im.Pix))
	for i := range im.Invvar {
		im.Invvar[i] = iv
	}
}

func readPix(img fitsio.Image, bitpix, n int) ([]float32, error) {
	out := make([]float32, n)
	switch bitpix {
	case -32:
		if err := img.Read(&out); err != nil {
			return nil, err
		}
	case -64:
		d := make([]float64, n)
		if err := img.Read(&d); err != nil {
			return nil, err
		}
		for i, x := range d {
			out[i] = float32(x)
		}
	case 16:
		d := make([]int16, n)
		if err := img.Read(&d); err != nil {
			return nil, err
		}
		for i, x := range d {
			out[i] = float32(x)
		}
	case 32:
		d := make([]int32, n)
		if err := img.Read(&d); err != nil {
			return nil, err
		}
		for i, x := range d {
			out[i] = float32(x)
		}
	default:
		return nil, fmt.Errorf("unsupported BITPIX %d", bitpix)
	}
	return out, nil
}

func cardFloat(hdr *fitsio.Header, name string) (float64, bool) {
	c := hdr.Get(name)
	if c == nil {
		return 0, false
	}
	switch v := c.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	}
	return 0, false
}

var wcsCards = []string{"CRVAL1", "CRVAL2", "CRPIX1", "CRPIX2",
	"CD1_1", "CD1_2", "CD2_1", "CD2_2"}

func headerWCS(hdr *fitsio.Header, w, h int) (*wcs.Tan, error) {
	var v [8]float64
	for i, n := range wcsCards {
		x, ok := cardFloat(hdr, n)
		if !ok {
			return nil, fmt.Errorf("missing WCS card %s", n)
		}
		v[i] = x
	}
	return &wcs.Tan{
		CRVal: [2]float64{v[0], v[1]},
		CRPix: [2]float64{v[2], v[3]},
		CD:    [2][2]float64{{v[4], v[5]}, {v[6], v[7]}},
		W:     w,
		H:     h,
	}, nil
}

// Write writes pixels as a single float image with TAN WCS cards and any
// extra cards.  A nil t writes no WCS.
func Write(wr io.Writer, w, h int, pix []float32, t *wcs.Tan, extra ...fitsio.Card) error {
	f, err := fitsio.Create(wr)
	if err != nil {
		return err
	}
	img := fitsio.NewImage(-32, []int{w, h})
	if t != nil {
		err = img.Header().Append(
			fitsio.Card{Name: "CTYPE1", Value: "RA---TAN"},
			fitsio.Card{Name: "CTYPE2", Value: "DEC--TAN"},
			fitsio.Card{Name: "CRVAL1", Value: t.CRVal[0]},
			fitsio.Card{Name: "CRVAL2", Value: t.CRVal[1]},
			fitsio.Card{Name: "CRPIX1", Value: t.CRPix[0]},
			fitsio.Card{Name: "CRPIX2", Value: t.CRPix[1]},
			fitsio.Card{Name: "CD1_1", Value: t.CD[0][0]},
			fitsio.Card{Name: "CD1_2", Value: t.CD[0][1]},
			fitsio.Card{Name: "CD2_1", Value: t.CD[1][0]},
			fitsio.Card{Name: "CD2_2", Value: t.CD[1][1]},
		)
		if err != nil {
			return err
		}
	}
	if len(extra) > 0 {
		if err := img.Header().Append(extra...); err != nil {
			return err
		}
	}
	if err := img.Write(&pix); err != nil {
		return err
	}
	if err := f.Write(img); err != nil {
		return err
	}
	return f.Close()
}
