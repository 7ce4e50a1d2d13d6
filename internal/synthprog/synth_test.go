// Public domain.

package synthprog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/soniakeys/cs82phot/internal/fit"
	"github.com/soniakeys/cs82phot/internal/frame"
	"github.com/soniakeys/cs82phot/internal/model"
	"github.com/soniakeys/cs82phot/internal/sky"
	"github.com/soniakeys/cs82phot/internal/store"
	"github.com/soniakeys/cs82phot/internal/wcs"
)

func execute(t *testing.T, args ...string) (*commandLine, error) {
	t.Helper()
	var got *commandLine
	cmd := newCommand(func(ctx context.Context, cl *commandLine, log *zap.SugaredLogger) error {
		got = cl
		return nil
	})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return got, err
}

func TestTuneFlags(t *testing.T) {
	cl, err := execute(t, "-r", "1", "-c", "2", "-f", "3", "-b", "r",
		"--ntune", "2", "--itune", "1,3", "--ntune", "1", "-vv")
	require.NoError(t, err)
	want := []Tune{{Kind: 'n', Steps: 2}, {Kind: 'i', Steps: 1, NSteps: 3}, {Kind: 'n', Steps: 1}}
	if d := cmp.Diff(want, cl.tune); d != "" {
		t.Fatal(d)
	}
	assert.Equal(t, 2, cl.verbose)
	assert.Equal(t, "000001-r2-0003", cl.Prefix())
	assert.Equal(t, frame.Key{Run: 1, Camcol: 2, Field: 3, Band: 'r'}, cl.Key())
}

func TestUsage(t *testing.T) {
	for _, args := range [][]string{
		{"-r", "1", "-c", "2", "-b", "r"},
		{"-r", "1", "-c", "2", "-f", "3", "-b", "x"},
		{"-r", "1", "-c", "2", "-f", "3", "-b", "gr"},
		{"-r", "1", "-c", "2", "-f", "3", "-b", "r", "--roi", "1,2"},
	} {
		_, err := execute(t, args...)
		assert.ErrorIs(t, err, errUsage, args)
	}
	for _, bad := range []string{"--itune=3", "--ntune=0", "--itune=1,x"} {
		_, err := execute(t, "-r", "1", "-c", "2", "-f", "3", "-b", "r", bad)
		assert.Error(t, err, bad)
		assert.NotErrorIs(t, err, errUsage, bad)
	}
}

func TestFlipbook(t *testing.T) {
	src := Flipbook("p", []Tune{{Kind: 'n', Steps: 2}, {Kind: 'i', Steps: 1, NSteps: 4}}, 2, false)
	assert.True(t, strings.HasPrefix(src, `\documentclass[compress]{beamer}`))
	assert.True(t, strings.HasSuffix(src, "\\end{document}\n"))
	for _, s := range []string{
		`\part{Tuning steps}\frame{\partpage}`,
		`\frametitle{Initial model}`,
		`\frametitle{Tuning set 1, Tuning step 2}`,
		`\plot{chi-tune-1-2-p}`,
		`\frametitle{Tuning set 2, Individual tuning step 1}`,
		`\part{Before-n-after}`,
		`\plot{model-p}` + "\n" + `\plot{model-tune-2-1-p}`,
	} {
		assert.Contains(t, src, s)
	}
	assert.NotContains(t, src, "Source:")

	src = Flipbook("p", nil, 2, true)
	assert.NotContains(t, src, `\part{Tuning steps}`)
	assert.Contains(t, src, `\frametitle{Source: 2}`)
	assert.Contains(t, src, `\plot{diff-s2-p}`)
	assert.NotContains(t, src, "Before-n-after")
	assert.True(t, strings.HasSuffix(src, "\\end{document}\n"))
}

func testImage(w, h int) *frame.Image {
	tan := wcs.ForBox(sky.BoxFromDeg(20, 20+float64(w)*.4/3600, 0, float64(h)*.4/3600), .4)
	tan.W, tan.H = w, h
	im := &frame.Image{Name: "test", Key: frame.Key{Run: 1, Camcol: 2, Field: 3, Band: 'r'},
		W: w, H: h, Pix: make([]float32, w*h), WCS: tan, PSFSigma: 1.5}
	im.SetNoise(.5)
	return im
}

func TestStateRoundTrip(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "s.gob")
	st := &State{
		Frame: frame.Key{Run: 1, Camcol: 2, Field: 3, Band: 'g'},
		ROI:   []int{0, 10, 5, 20},
		Sources: []model.Source{
			&model.Point{CatRow: -1, RA: 20, Dec: 1, Bright: model.Uniform("g", 3)},
			&model.Composite{CatRow: -1, RA: 21, Dec: 1, Bright: model.Uniform("g", 4), FracDev: .4,
				ShapeExp: model.Shape{Re: 1, AB: .5, Phi: 10}, ShapeDev: model.Shape{Re: 2, AB: .3, Phi: 20}},
		},
	}
	require.NoError(t, WriteState(fn, st))
	got, err := ReadState(fn)
	require.NoError(t, err)
	if d := cmp.Diff(st, got); d != "" {
		t.Fatal(d)
	}
}

func TestSources(t *testing.T) {
	im := testImage(40, 40)
	in, dec := im.WCS.PixelToRaDec(20, 20)
	objs := []store.RefObject{
		{RA: in, Dec: dec, Flux: [5]float32{0, 0, 5, 0, 0}, Type: store.TypeStar},
		{RA: in, Dec: dec, Flux: [5]float32{5, 5, 0, 5, 5}, Type: store.TypeStar}, // no r flux
		{RA: in + 1, Dec: dec, Flux: [5]float32{0, 0, 5, 0, 0}, Type: store.TypeStar},
		{RA: in, Dec: dec, Flux: [5]float32{0, 0, 2, 0, 0}, Type: store.TypeGalaxy,
			FracDev: 1, ThetaDev: 1, AbDev: .5},
	}
	srcs := Sources(objs, im, zap.NewNop().Sugar())
	require.Len(t, srcs, 2)
	assert.Equal(t, "point", model.Kind(srcs[0]))
	assert.Equal(t, 2., srcs[1].Flux().Band('r'))
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	im := testImage(40, 30)
	ra, dec := im.WCS.PixelToRaDec(10, 15)
	ra2, dec2 := im.WCS.PixelToRaDec(28, 12)
	s := &Synth{
		Image: im,
		Sources: []model.Source{
			&model.Point{CatRow: -1, RA: ra, Dec: dec, Bright: model.Uniform("r", 20)},
			&model.Composite{CatRow: -1, RA: ra2, Dec: dec2, Bright: model.Uniform("r", 30), FracDev: .5,
				ShapeExp: model.Shape{Re: 2, AB: .5, Phi: 30}, ShapeDev: model.Shape{Re: 1, AB: .8}},
		},
		Dir:     dir,
		Debug:   true,
		PlotAll: true,
		Fitter:  fit.LSQ{},
		Log:     zap.NewNop().Sugar(),
	}
	require.NoError(t, s.Save("x"))
	for _, fn := range []string{
		"synth-x.fits", "state-x.gob",
		"data-x.png", "model-x.png", "diff-x.png", "chi-x.png",
		"data-s1-x.png", "model-s2-x.png", "diff-s2-x.png", "chi-s1-x.png",
	} {
		_, err := os.Stat(filepath.Join(dir, fn))
		assert.NoError(t, err, fn)
	}

	// the synthetic image reads back as a frame
	f, err := os.Open(filepath.Join(dir, "synth-x.fits"))
	require.NoError(t, err)
	defer f.Close()
	got, err := frame.Read(f, im.Key)
	require.NoError(t, err)
	assert.Equal(t, 40, got.W)
	assert.Equal(t, fit.ModelImage(im, s.Sources, 'r'), got.Pix)
}

// The major axis of a galaxy at position angle 0 points north, +y on an
// axis aligned frame.
func TestEllipse(t *testing.T) {
	im := testImage(40, 40)
	a, b, th := ellipse(im, model.Shape{Re: 2, AB: .5})
	assert.InDelta(t, 5, a, 1e-9)
	assert.InDelta(t, 2.5, b, 1e-9)
	assert.InDelta(t, 1.5707963, th, 1e-6)
}

func writeFrame(t *testing.T, dir string, im *frame.Image, pix []float32) {
	t.Helper()
	fn := filepath.Join(dir, "1", "2", im.Key.Filename())
	require.NoError(t, os.MkdirAll(filepath.Dir(fn), 0o755))
	f, err := os.Create(fn)
	require.NoError(t, err)
	require.NoError(t, frame.Write(f, im.W, im.H, pix, im.WCS,
		fitsio.Card{Name: "SKYSIG", Value: .5}))
	require.NoError(t, f.Close())
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	imDir := filepath.Join(dir, "frames")
	im := testImage(50, 50)
	writeFrame(t, imDir, im, im.Pix)

	// the data: one star of 50 nanomaggies, rendered with the PSF the
	// frame reader assigns
	fs := &frame.Store{Dir: imDir, Local: true}
	blank, err := fs.Open(ctx, im.Key)
	require.NoError(t, err)
	ra, dec := blank.WCS.PixelToRaDec(25, 25)
	star := &model.Point{CatRow: -1, RA: ra, Dec: dec, Bright: model.Uniform("r", 50)}
	writeFrame(t, imDir, im, fit.ModelImage(blank, []model.Source{star}, 'r'))

	db, err := store.Open(filepath.Join(dir, "ref.db"), nil)
	require.NoError(t, err)
	require.NoError(t, db.PutRefObjects(ctx, []store.RefObject{
		{RA: ra, Dec: dec, Flux: [5]float32{0, 0, 30, 0, 0}, ResolveStatus: store.ResolvePrimary, Type: store.TypeStar},
	}))
	require.NoError(t, db.Close())

	out := filepath.Join(dir, "out")
	cl := &commandLine{run: 1, camcol: 2, field: 3, band: "r",
		tune:     []Tune{{Kind: 'n', Steps: 1}, {Kind: 'i', Steps: 1, NSteps: 2}},
		prefix:   "t",
		outDir:   out,
		imageDir: imDir,
		local:    true,
		refDB:    filepath.Join(dir, "ref.db"),
	}
	var latexDir, latexFile string
	latex := func(ctx context.Context, dir, fn string) error {
		latexDir, latexFile = dir, fn
		return nil
	}
	require.NoError(t, run(ctx, cl, zap.NewNop().Sugar(), latex))
	assert.Equal(t, out, latexDir)
	assert.Equal(t, "flip-t.tex", latexFile)

	for _, fn := range []string{"synth-t.fits", "data-t.png", "chi-tune-1-1-t.png",
		"model-tune-2-1-t.png", "flip-t.tex"} {
		_, err := os.Stat(filepath.Join(out, fn))
		assert.NoError(t, err, fn)
	}
	st, err := ReadState(filepath.Join(out, "state-t.gob"))
	require.NoError(t, err)
	require.Len(t, st.Sources, 1)
	assert.Equal(t, 30., st.Sources[0].Flux().Band('r'))

	st, err = ReadState(filepath.Join(out, "state-tune-1-1-t.gob"))
	require.NoError(t, err)
	assert.InDelta(t, 50, st.Sources[0].Flux().Band('r'), .5)
}

func TestRunROI(t *testing.T) {
	dir := t.TempDir()
	im := testImage(20, 20)
	writeFrame(t, dir, im, im.Pix)
	cl := &commandLine{run: 1, camcol: 2, field: 3, band: "r",
		roi: []int{30, 40, 0, 10}, imageDir: dir, local: true}
	err := run(context.Background(), cl, zap.NewNop().Sugar(), nil)
	assert.ErrorContains(t, err, "outside")
}
