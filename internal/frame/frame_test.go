// Public domain.

package frame_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soniakeys/cs82phot/internal/frame"
	"github.com/soniakeys/cs82phot/internal/sky"
	"github.com/soniakeys/cs82phot/internal/wcs"
)

var key = frame.Key{Run: 4263, Camcol: 2, Field: 100, Band: 'r'}

func TestKey(t *testing.T) {
	assert.Equal(t, "frame-r-004263-2-0100.fits", key.Filename())
	assert.Equal(t, "004263-r2-0100", key.String())
	s := &frame.Store{Dir: "/data", URL: "http://das"}
	assert.Equal(t, "/data/4263/2/frame-r-004263-2-0100.fits", s.Path(key))
	assert.Equal(t, "http://das/4263/2/frame-r-004263-2-0100.fits.bz2", s.URLOf(key))
}

// 40 by 30 frame at .4 arc seconds per pixel, value x+100y
func testFrame(t *testing.T, dir string) *wcs.Tan {
	t.Helper()
	tan := wcs.ForBox(sky.BoxFromDeg(20, 20+40*.4/3600, 0, 30*.4/3600), .4)
	tan.W, tan.H = 40, 30
	pix := make([]float32, 40*30)
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			pix[y*40+x] = float32(x + 100*y)
		}
	}
	fn := filepath.Join(dir, "4263", "2", key.Filename())
	require.NoError(t, os.MkdirAll(filepath.Dir(fn), 0o755))
	w, err := os.Create(fn)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, frame.Write(w, 40, 30, pix, tan,
		fitsio.Card{Name: "SKYSIG", Value: .5}))
	return tan
}

func TestOpenLocal(t *testing.T) {
	dir := t.TempDir()
	tan := testFrame(t, dir)
	s := &frame.Store{Dir: dir, Local: true}
	im, err := s.Open(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 40, im.W)
	assert.Equal(t, 30, im.H)
	assert.Equal(t, float32(205), im.At(5, 2))
	assert.InDelta(t, tan.CRVal[0], im.WCS.CRVal[0], 1e-12)
	assert.InDelta(t, .4, im.WCS.PixelScale(), 1e-9)
	assert.InDelta(t, .5, im.SkySig, 1e-12)
	assert.InDelta(t, 4, im.MedianInvvar(), 1e-6)
	assert.InDelta(t, 1.4/2.35482/.4, im.PSFSigma, 1e-4)

	sub := im.Sub(10, 20, 5, 8)
	require.NotNil(t, sub)
	assert.Equal(t, 10, sub.W)
	assert.Equal(t, 3, sub.H)
	assert.Equal(t, im.At(12, 6), sub.At(2, 1))
	r1, d1 := im.WCS.PixelToRaDec(12, 6)
	r2, d2 := sub.WCS.PixelToRaDec(2, 1)
	assert.InDelta(t, r1, r2, 1e-12)
	assert.InDelta(t, d1, d2, 1e-12)

	assert.Nil(t, im.Sub(50, 60, 0, 10))
}

func TestCutout(t *testing.T) {
	dir := t.TempDir()
	testFrame(t, dir)
	s := &frame.Store{Dir: dir, Local: true}
	ctx := context.Background()
	im, err := s.Cutout(ctx, key, sky.BoxFromDeg(20.001, 20.002, .001, .002))
	require.NoError(t, err)
	require.NotNil(t, im)
	assert.Less(t, im.W, 40)
	assert.Less(t, im.H, 30)

	im, err = s.Cutout(ctx, key, sky.BoxFromDeg(21, 21.1, 0, .1))
	require.NoError(t, err)
	assert.Nil(t, im)
}

func TestLocalMissing(t *testing.T) {
	s := &frame.Store{Dir: t.TempDir(), Local: true}
	_, err := s.Open(context.Background(), key)
	assert.ErrorIs(t, err, frame.ErrNotLocal)
}

func TestFetchHTTP(t *testing.T) {
	body := []byte("BZh9 not really")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/4263/2/frame-r-004263-2-0100.fits.bz2" {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()
	dir := t.TempDir()
	s := &frame.Store{Dir: dir, URL: srv.URL, Client: srv.Client()}
	fn, err := s.Fetch(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, s.Path(key)+".bz2", fn)
	got, err := os.ReadFile(fn)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(body, got))

	_, err = s.Fetch(context.Background(), frame.Key{Run: 1, Camcol: 1, Field: 1, Band: 'g'})
	assert.Error(t, err)
}

func TestNoise(t *testing.T) {
	med, sig := frame.Noise([]float32{-1, 0, 1, 0, 0})
	assert.Equal(t, 0., med)
	assert.Equal(t, 0., sig)
	med, sig = frame.Noise([]float32{1, 2, 3, 4, 5})
	assert.Equal(t, 3., med)
	assert.InDelta(t, 1.4826, sig, 1e-12)
}

func TestOpenCached(t *testing.T) {
	dir := t.TempDir()
	testFrame(t, dir)
	s := &frame.Store{Dir: dir, Local: true, CacheSize: 2}
	ctx := context.Background()
	im1, err := s.Open(ctx, key)
	require.NoError(t, err)
	require.NoError(t, os.Remove(s.Path(key)))
	im2, err := s.Open(ctx, key)
	require.NoError(t, err)
	assert.Same(t, im1, im2)

	s = &frame.Store{Dir: dir, Local: true}
	_, err = s.Open(ctx, key)
	assert.ErrorIs(t, err, frame.ErrNotLocal)
}
