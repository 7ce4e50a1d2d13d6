// Public domain.

// Package fit renders sources onto images and fits their fluxes.
//
// Galaxy profiles are approximated as mixtures of concentric Gaussians,
// convolved analytically with a Gaussian PSF.  Fitting is forced
// photometry: positions and shapes are fixed and only fluxes of thawed
// sources move, so each step is a linear least squares solve.
package fit

import (
	"math"

	"github.com/soniakeys/cs82phot/internal/frame"
	"github.com/soniakeys/cs82phot/internal/model"
)

// Mixture of Gaussian approximations to the exponential and
// de Vaucouleurs profiles of unit half light radius.  Variances are in
// units of the radius squared.
var (
	expAmp = []float64{2.34853813e-03, 3.07995260e-02, 2.23364214e-01,
		1.17949102e+00, 4.33873750e+00, 5.99820770e+00}
	expVar = []float64{1.20078965e-03, 8.84526493e-03, 3.91463084e-02,
		1.39976817e-01, 4.60962500e-01, 1.50159566e+00}
	devAmp = []float64{4.26347652e-02, 2.40127183e-01, 6.85907632e-01,
		1.51937350e+00, 2.83627243e+00, 4.46467501e+00, 5.61424478e+00,
		5.25463691e+00}
	devVar = []float64{2.23759216e-04, 1.00220099e-03, 4.18731126e-03,
		1.69432589e-02, 6.84850479e-02, 2.87207080e-01, 1.33320254e+00,
		8.40215071e+00}
)

func init() {
	normalize(expAmp)
	normalize(devAmp)
}

func normalize(a []float64) {
	s := 0.
	for _, x := range a {
		s += x
	}
	for i := range a {
		a[i] /= s
	}
}

// patch extent in sigmas of the widest Gaussian
const nSigma = 5

// Patch is a unit flux rendering of a source on part of an image.
type Patch struct {
	X0, Y0, W, H int
	P            []float64
}

// Sum is the total of the patch values.
func (p *Patch) Sum() float64 {
	s := 0.
	for _, v := range p.P {
		s += v
	}
	return s
}

// At returns the patch value at image pixel x, y, zero outside.
func (p *Patch) At(x, y int) float64 {
	x -= p.X0
	y -= p.Y0
	if x < 0 || y < 0 || x >= p.W || y >= p.H {
		return 0
	}
	return p.P[y*p.W+x]
}

// overlap returns the intersection of the patch rectangles.
func overlap(a, b *Patch) (x0, x1, y0, y1 int, ok bool) {
	x0, y0 = max(a.X0, b.X0), max(a.Y0, b.Y0)
	x1, y1 = min(a.X0+a.W, b.X0+b.W), min(a.Y0+a.H, b.Y0+b.H)
	return x0, x1, y0, y1, x1 > x0 && y1 > y0
}

type gauss struct {
	amp           float64
	cxx, cxy, cyy float64 // pixel covariance
}

// mixture returns the PSF convolved Gaussians of s in pixel units at im.
func mixture(im *frame.Image, s model.Source) []gauss {
	ps2 := im.PSFSigma * im.PSFSigma
	inv := im.WCS.CDInverse()
	var g []gauss
	for _, c := range s.Components() {
		if c.Frac == 0 {
			continue
		}
		var amp, vr []float64
		switch c.Profile {
		case model.ExpProfile:
			amp, vr = expAmp, expVar
		case model.DevProfile:
			amp, vr = devAmp, devVar
		default:
			g = append(g, gauss{c.Frac, ps2, 0, ps2})
			continue
		}
		// shape covariance on the tangent plane, degrees squared
		re := c.Shape.Re / 3600
		sp, cp := math.Sincos(c.Shape.Phi * math.Pi / 180)
		ab2 := c.Shape.AB * c.Shape.AB
		sxx := re * re * (sp*sp + ab2*cp*cp)
		sxy := re * re * (sp*cp - ab2*cp*sp)
		syy := re * re * (cp*cp + ab2*sp*sp)
		// to pixels: inv S invᵀ
		a, b, cc, d := inv[0][0], inv[0][1], inv[1][0], inv[1][1]
		pxx := a*a*sxx + 2*a*b*sxy + b*b*syy
		pxy := a*cc*sxx + (a*d+b*cc)*sxy + b*d*syy
		pyy := cc*cc*sxx + 2*cc*d*sxy + d*d*syy
		for k := range amp {
			g = append(g, gauss{
				amp: c.Frac * amp[k],
				cxx: vr[k]*pxx + ps2,
				cxy: vr[k] * pxy,
				cyy: vr[k]*pyy + ps2,
			})
		}
	}
	return g
}

// Render returns the unit flux patch of s on im, or nil if s does not
// project onto im.
func Render(im *frame.Image, s model.Source) *Patch {
	ra, dec := s.Position()
	cx, cy, err := im.WCS.RaDecToPixel(ra, dec)
	if err != nil {
		return nil
	}
	g := mixture(im, s)
	if len(g) == 0 {
		return nil
	}
	r := 1.
	for _, k := range g {
		r = math.Max(r, math.Sqrt(math.Max(k.cxx, k.cyy)))
	}
	r = math.Ceil(nSigma*r) + 1
	x0 := max(int(math.Floor(cx-r)), 0)
	y0 := max(int(math.Floor(cy-r)), 0)
	x1 := min(int(math.Ceil(cx+r))+1, im.W)
	y1 := min(int(math.Ceil(cy+r))+1, im.H)
	if x1 <= x0 || y1 <= y0 {
		return nil
	}
	p := &Patch{X0: x0, Y0: y0, W: x1 - x0, H: y1 - y0}
	p.P = make([]float64, p.W*p.H)
	for _, k := range g {
		det := k.cxx*k.cyy - k.cxy*k.cxy
		if det <= 0 {
			continue
		}
		ixx, ixy, iyy := k.cyy/det, -k.cxy/det, k.cxx/det
		norm := k.amp / (2 * math.Pi * math.Sqrt(det))
		for y := y0; y < y1; y++ {
			dy := float64(y) - cy
			row := p.P[(y-y0)*p.W:]
			for x := x0; x < x1; x++ {
				dx := float64(x) - cx
				q := ixx*dx*dx + 2*ixy*dx*dy + iyy*dy*dy
				if q < 2*nSigma*nSigma {
					row[x-x0] += norm * math.Exp(-.5*q)
				}
			}
		}
	}
	return p
}

// ModelImage renders srcs in band onto a blank image the size of im.
func ModelImage(im *frame.Image, srcs []model.Source, band byte) []float32 {
	out := make([]float32, im.W*im.H)
	for _, s := range srcs {
		f := s.Flux().Band(band)
		if f == 0 {
			continue
		}
		p := Render(im, s)
		if p == nil {
			continue
		}
		addPatch(out, im.W, p, f)
	}
	return out
}

func addPatch(img []float32, w int, p *Patch, f float64) {
	for y := 0; y < p.H; y++ {
		for x := 0; x < p.W; x++ {
			img[(y+p.Y0)*w+x+p.X0] += float32(f * p.P[y*p.W+x])
		}
	}
}

// ChiImage returns (data - model) * sqrt(invvar).
func ChiImage(im *frame.Image, mod []float32) []float32 {
	chi := make([]float32, len(mod))
	for i := range chi {
		chi[i] = (im.Pix[i] - mod[i]) * float32(math.Sqrt(float64(im.Invvar[i])))
	}
	return chi
}
