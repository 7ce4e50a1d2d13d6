// Public domain.

package fit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soniakeys/cs82phot/internal/fit"
	"github.com/soniakeys/cs82phot/internal/frame"
	"github.com/soniakeys/cs82phot/internal/model"
	"github.com/soniakeys/cs82phot/internal/wcs"
)

func testImage(w, h int) *frame.Image {
	tan := &wcs.Tan{
		CRVal: [2]float64{20, 0},
		CRPix: [2]float64{float64(w/2 + 1), float64(h/2 + 1)},
		CD:    [2][2]float64{{.4 / 3600, 0}, {0, .4 / 3600}},
		W:     w,
		H:     h,
	}
	im := &frame.Image{Name: "test", W: w, H: h, Pix: make([]float32, w*h),
		WCS: tan, PSFSigma: 1.5}
	im.SetNoise(1)
	return im
}

func pointAt(im *frame.Image, x, y, nm float64) *model.Point {
	ra, dec := im.WCS.PixelToRaDec(x, y)
	return &model.Point{CatRow: -1, RA: ra, Dec: dec, Bright: model.Uniform("r", nm)}
}

func TestRenderUnitFlux(t *testing.T) {
	im := testImage(81, 81)
	ra, dec := im.WCS.PixelToRaDec(40, 40)
	for _, s := range []model.Source{
		&model.Point{RA: ra, Dec: dec},
		&model.Exp{RA: ra, Dec: dec, Shape: model.Shape{Re: 1, AB: .5, Phi: 30}},
		&model.Dev{RA: ra, Dec: dec, Shape: model.Shape{Re: .5, AB: .8, Phi: -45}},
		&model.Composite{RA: ra, Dec: dec, FracDev: .3,
			ShapeExp: model.Shape{Re: 1, AB: .5, Phi: 30},
			ShapeDev: model.Shape{Re: .5, AB: .8, Phi: -45}},
	} {
		p := fit.Render(im, s)
		require.NotNil(t, p, model.Kind(s))
		assert.InDelta(t, 1, p.Sum(), 1e-2, model.Kind(s))
		// peak at the center pixel
		assert.Greater(t, p.At(40, 40), p.At(43, 40), model.Kind(s))
	}
}

// A galaxy at position angle 0 is elongated north-south.
func TestRenderOrientation(t *testing.T) {
	im := testImage(81, 81)
	ra, dec := im.WCS.PixelToRaDec(40, 40)
	p := fit.Render(im, &model.Exp{RA: ra, Dec: dec,
		Shape: model.Shape{Re: 3, AB: .2, Phi: 0}})
	require.NotNil(t, p)
	assert.Greater(t, p.At(40, 48), 2*p.At(48, 40))
}

func TestRenderOffImage(t *testing.T) {
	im := testImage(21, 21)
	assert.Nil(t, fit.Render(im, pointAt(im, 200, 10, 1)))
}

func TestForcedPhotometry(t *testing.T) {
	im := testImage(61, 41)
	truth := []model.Source{pointAt(im, 20, 20, 100), pointAt(im, 24, 21, 50),
		pointAt(im, 45, 15, 30)}
	copy(im.Pix, fit.ModelImage(im, truth, 'r'))

	srcs := []model.Source{pointAt(im, 20, 20, 1), pointAt(im, 24, 21, 1),
		pointAt(im, 45, 15, 30)}
	p := &fit.Problem{
		Images:  []*frame.Image{im},
		Sources: srcs,
		Band:    'r',
		Thawed:  []bool{true, true, false},
	}
	res, err := fit.ForcedPhotometry(context.Background(), p, fit.DefaultOptions)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, res.Thawed)
	assert.InDelta(t, 100, res.Flux[0], 1e-3)
	assert.InDelta(t, 50, res.Flux[1], 1e-3)
	assert.InDelta(t, 100, srcs[0].Flux().Band('r'), 1e-3, "written back")
	assert.Equal(t, 30., srcs[2].Flux().Band('r'), "frozen")
	assert.True(t, res.Status.OK(), res.Status.Termination.String())
	assert.Equal(t, fit.FunctionTolerance, res.Status.Termination)
	assert.Greater(t, res.Status.StepsSuccessful, 0)

	// point source IV with unit invvar is the sum of the squared profile,
	// about 1/(4 pi sigma²)
	for _, iv := range res.IV {
		assert.InDelta(t, 1/(4*3.14159265*1.5*1.5), iv, 2e-3)
	}
	for j := range res.Thawed {
		assert.InDelta(t, 0, res.Stats.ProChi2[j], 1e-6)
		assert.InDelta(t, 1, res.Stats.ProNPix[j], 1e-2)
		assert.Greater(t, res.Stats.NPix[j], 0.)
	}
	// the neighbors overlap so each sees the other's flux
	assert.Greater(t, res.Stats.ProFlux[0], 0.)
	assert.InDelta(t, res.Stats.ProFlux[0]/res.Flux[0], res.Stats.ProFracFlux[0], 1e-12)

	require.Len(t, res.Models, 1)
	require.Len(t, res.Models0, 1)
	require.Len(t, res.Chi, 1)
	assert.InDelta(t, float64(im.At(20, 20)), float64(res.Models[0][20*61+20]), 1e-3)
}

func TestForcedPhotometryOffImage(t *testing.T) {
	im := testImage(21, 21)
	src := pointAt(im, 300, 10, 7)
	res, err := fit.ForcedPhotometry(context.Background(), &fit.Problem{
		Images:  []*frame.Image{im},
		Sources: []model.Source{src},
		Band:    'r',
		Thawed:  []bool{true},
	}, fit.Options{MinDlnP: 1, MaxSteps: 5})
	require.NoError(t, err)
	assert.Equal(t, 7., res.Flux[0])
	assert.Equal(t, 0., res.IV[0])
	assert.Nil(t, res.Models)
}

func TestNoImages(t *testing.T) {
	_, err := fit.ForcedPhotometry(context.Background(), &fit.Problem{Band: 'r'}, fit.DefaultOptions)
	assert.ErrorIs(t, err, fit.ErrNoImages)
}

func TestCanceled(t *testing.T) {
	im := testImage(21, 21)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fit.LSQ{}.ForcedPhotometry(ctx, &fit.Problem{
		Images:  []*frame.Image{im},
		Sources: []model.Source{pointAt(im, 10, 10, 1)},
		Band:    'r',
		Thawed:  []bool{true},
	}, fit.DefaultOptions)
	assert.ErrorIs(t, err, context.Canceled)
}
