// Public domain.

package fit

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/soniakeys/cs82phot/internal/frame"
	"github.com/soniakeys/cs82phot/internal/model"
)

// Termination is why an optimization stopped.
type Termination int

const (
	NotRun Termination = iota
	FunctionTolerance
	ParameterTolerance
	MaxSteps
	Failure
)

func (t Termination) String() string {
	switch t {
	case NotRun:
		return "not run"
	case FunctionTolerance:
		return "function tolerance"
	case ParameterTolerance:
		return "parameter tolerance"
	case MaxSteps:
		return "max steps"
	case Failure:
		return "failure"
	}
	return fmt.Sprintf("Termination(%d)", int(t))
}

// Status reports how an optimization went.
type Status struct {
	Termination     Termination
	Steps           int
	StepsSuccessful int
}

// OK is true for convergence on the function tolerance after at least one
// successful step.
func (s Status) OK() bool {
	return s.Termination == FunctionTolerance && s.StepsSuccessful > 0
}

// Problem is a forced photometry problem in one band.  Thawed is parallel
// to Sources; fluxes of other sources are held fixed.
type Problem struct {
	Images  []*frame.Image
	Sources []model.Source
	Band    byte
	Thawed  []bool
}

// Options control the optimizer.
type Options struct {
	MinDlnP    float64 // stop when a step improves log likelihood by less
	MaxSteps   int
	WantImages bool
}

// DefaultOptions are the settings used for survey photometry.
var DefaultOptions = Options{MinDlnP: 1, MaxSteps: 10, WantImages: true}

// Stats are fit quality numbers for each thawed source, weighted by the
// source's unit flux profile p and summed over all images:
//
//	ProChi2      sum of p chi²
//	ProNPix      sum of p over pixels with nonzero inverse variance
//	ProFlux      sum of p times flux of all other sources
//	ProFracFlux  ProFlux over the source's own flux
//	NPix         number of pixels the source was rendered on
type Stats struct {
	ProChi2, ProNPix, ProFracFlux, ProFlux, NPix []float64
}

// Result of ForcedPhotometry.  Thawed lists source indices; Flux, IV,
// and Stats are parallel to it.  IV is the flux inverse variance.
type Result struct {
	Thawed []int
	Flux   []float64
	IV     []float64
	Stats  *Stats
	Status Status

	// with Options.WantImages, per image models before and after the fit
	// and chi after.
	Models0, Models, Chi [][]float32
}

// ErrNoImages is returned for a problem with no images.
var ErrNoImages = errors.New("fit: no images")

// Fitter is anything that can do forced photometry.
type Fitter interface {
	ForcedPhotometry(ctx context.Context, p *Problem, opt Options) (*Result, error)
}

// LSQ is the linear least squares Fitter of this package.
type LSQ struct{}

// ForcedPhotometry calls the package function.
func (LSQ) ForcedPhotometry(ctx context.Context, p *Problem, opt Options) (*Result, error) {
	return ForcedPhotometry(ctx, p, opt)
}

// ForcedPhotometry fits thawed fluxes in p.Band and writes them back to
// the sources.
func ForcedPhotometry(ctx context.Context, p *Problem, opt Options) (*Result, error) {
	if len(p.Images) == 0 {
		return nil, ErrNoImages
	}
	if opt.MaxSteps <= 0 {
		opt.MaxSteps = DefaultOptions.MaxSteps
	}
	res := &Result{}
	for i, t := range p.Thawed {
		if t {
			res.Thawed = append(res.Thawed, i)
		}
	}
	// patches[i][s] for image i, source s
	patches := make([][]*Patch, len(p.Images))
	for i, im := range p.Images {
		patches[i] = make([]*Patch, len(p.Sources))
		for s, src := range p.Sources {
			patches[i][s] = Render(im, src)
		}
	}
	if opt.WantImages {
		res.Models0 = models(p, patches)
	}

	n := len(res.Thawed)
	flux := make([]float64, n)
	for j, s := range res.Thawed {
		flux[j] = p.Sources[s].Flux().Band(p.Band)
	}
	A, b := normal(p, patches, res.Thawed)

	// sources without usable pixels stay put
	var act []int
	for j := 0; j < n; j++ {
		if A.At(j, j) > 0 {
			act = append(act, j)
		}
	}
	res.IV = make([]float64, n)
	for _, j := range act {
		res.IV[j] = A.At(j, j)
	}

	if len(act) > 0 {
		res.Status = solve(ctx, A, b, act, flux, opt)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	} else {
		res.Status = Status{Termination: FunctionTolerance}
	}
	for j, s := range res.Thawed {
		p.Sources[s].Flux().SetBand(p.Band, flux[j])
	}
	res.Flux = flux
	res.Stats = stats(p, patches, res.Thawed, flux)
	if opt.WantImages {
		res.Models = models(p, patches)
		res.Chi = make([][]float32, len(p.Images))
		for i, im := range p.Images {
			res.Chi[i] = ChiImage(im, res.Models[i])
		}
	}
	return res, nil
}

// normal builds the normal equations for the thawed fluxes, with b the
// correlation of each thawed profile with the data minus frozen sources.
func normal(p *Problem, patches [][]*Patch, thawed []int) (*mat.SymDense, []float64) {
	n := len(thawed)
	isThawed := make([]bool, len(p.Sources))
	for _, s := range thawed {
		isThawed[s] = true
	}
	A := mat.NewSymDense(max(n, 1), nil)
	b := make([]float64, n)
	for i, im := range p.Images {
		resid := make([]float64, len(im.Pix))
		for k, v := range im.Pix {
			resid[k] = float64(v)
		}
		for s, pt := range patches[i] {
			if pt == nil || isThawed[s] {
				continue
			}
			f := p.Sources[s].Flux().Band(p.Band)
			for y := 0; y < pt.H; y++ {
				for x := 0; x < pt.W; x++ {
					resid[(y+pt.Y0)*im.W+x+pt.X0] -= f * pt.P[y*pt.W+x]
				}
			}
		}
		for j, sj := range thawed {
			pj := patches[i][sj]
			if pj == nil {
				continue
			}
			for y := 0; y < pj.H; y++ {
				for x := 0; x < pj.W; x++ {
					k := (y+pj.Y0)*im.W + x + pj.X0
					w := float64(im.Invvar[k])
					b[j] += w * pj.P[y*pj.W+x] * resid[k]
				}
			}
			for jj := j; jj < n; jj++ {
				pk := patches[i][thawed[jj]]
				if pk == nil {
					continue
				}
				x0, x1, y0, y1, ok := overlap(pj, pk)
				if !ok {
					continue
				}
				sum := 0.
				for y := y0; y < y1; y++ {
					for x := x0; x < x1; x++ {
						sum += float64(im.Invvar[y*im.W+x]) * pj.At(x, y) * pk.At(x, y)
					}
				}
				A.SetSym(j, jj, A.At(j, jj)+sum)
			}
		}
	}
	return A, b
}

// solve takes Newton steps on the active fluxes.  The problem is
// quadratic, so the log likelihood change of step d is ½ dᵀA d.
func solve(ctx context.Context, A *mat.SymDense, b []float64, act []int, flux []float64, opt Options) (st Status) {
	m := len(act)
	sub := mat.NewSymDense(m, nil)
	for r, j := range act {
		for c := r; c < m; c++ {
			sub.SetSym(r, c, A.At(j, act[c]))
		}
	}
	var ch mat.Cholesky
	if !ch.Factorize(sub) {
		st.Termination = Failure
		return
	}
	grad := mat.NewVecDense(m, nil)
	x := mat.NewVecDense(m, nil)
	var ad mat.VecDense
	for st.Steps < opt.MaxSteps {
		if ctx.Err() != nil {
			st.Termination = Failure
			return
		}
		st.Steps++
		// gradient of log likelihood at the current fluxes: b - A f
		for r, j := range act {
			g := b[j]
			for k := range flux {
				g -= A.At(j, k) * flux[k]
			}
			grad.SetVec(r, g)
		}
		if err := ch.SolveVecTo(x, grad); err != nil {
			st.Termination = Failure
			return
		}
		ad.MulVec(sub, x)
		dlnp := .5 * mat.Dot(x, &ad)
		if math.IsNaN(dlnp) {
			st.Termination = Failure
			return
		}
		for r, j := range act {
			flux[j] += x.AtVec(r)
		}
		st.StepsSuccessful++
		if dlnp < opt.MinDlnP {
			st.Termination = FunctionTolerance
			return
		}
	}
	st.Termination = MaxSteps
	return
}

func models(p *Problem, patches [][]*Patch) [][]float32 {
	out := make([][]float32, len(p.Images))
	for i, im := range p.Images {
		out[i] = make([]float32, im.W*im.H)
		for s, pt := range patches[i] {
			if pt == nil {
				continue
			}
			addPatch(out[i], im.W, pt, p.Sources[s].Flux().Band(p.Band))
		}
	}
	return out
}

func stats(p *Problem, patches [][]*Patch, thawed []int, flux []float64) *Stats {
	n := len(thawed)
	st := &Stats{
		ProChi2:     make([]float64, n),
		ProNPix:     make([]float64, n),
		ProFracFlux: make([]float64, n),
		ProFlux:     make([]float64, n),
		NPix:        make([]float64, n),
	}
	mods := models(p, patches)
	for i, im := range p.Images {
		for j, s := range thawed {
			pt := patches[i][s]
			if pt == nil {
				continue
			}
			for y := 0; y < pt.H; y++ {
				for x := 0; x < pt.W; x++ {
					k := (y+pt.Y0)*im.W + x + pt.X0
					pv := pt.P[y*pt.W+x]
					iv := float64(im.Invvar[k])
					m := float64(mods[i][k])
					r := float64(im.Pix[k]) - m
					st.ProChi2[j] += pv * r * r * iv
					if iv > 0 {
						st.ProNPix[j] += pv
						st.NPix[j]++
					}
					st.ProFlux[j] += pv * (m - flux[j]*pv)
				}
			}
		}
	}
	for j := range st.ProFlux {
		if flux[j] != 0 {
			st.ProFracFlux[j] = st.ProFlux[j] / flux[j]
		}
	}
	return st
}
