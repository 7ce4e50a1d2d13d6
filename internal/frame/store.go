// Public domain.

package frame

import (
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/hashicorp/go-cleanhttp"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/soniakeys/cs82phot/internal/sky"
)

// DefaultURL is the SDSS data archive server root for DR9 frames.
var DefaultURL = "http://data.sdss3.org/sas/dr9/boss/photoObj/frames/301"

// Tool selects how missing frames are downloaded.
type Tool int

const (
	HTTP Tool = iota // net/http
	Curl
	Wget
)

// ErrNotLocal is returned when a frame is not in a local-only store.
var ErrNotLocal = errors.New("frame not in local tree")

// Store finds frames under Dir, laid out <run>/<camcol>/<file>, and
// downloads missing ones from URL with the same layout, bzip2 compressed.
//
// With CacheSize > 0 the most recently opened frames are kept decoded in
// memory.  Images returned by Open are then shared and must not be
// modified; Cutout always returns a copy.
type Store struct {
	Dir       string
	URL       string
	Local     bool // never download
	Tool      Tool
	CacheSize int
	Log       *zap.SugaredLogger

	Client *http.Client

	cache *lru.Cache[Key, *Image]
}

// Path is the uncompressed local path of k.
func (s *Store) Path(k Key) string {
	return filepath.Join(s.Dir, strconv.Itoa(k.Run), strconv.Itoa(k.Camcol), k.Filename())
}

// URLOf is the remote location of k.
func (s *Store) URLOf(k Key) string {
	u := s.URL
	if u == "" {
		u = DefaultURL
	}
	return fmt.Sprintf("%s/%d/%d/%s.bz2", u, k.Run, k.Camcol, k.Filename())
}

// Fetch returns the local path of k, plain or .bz2, downloading it first
// if needed and allowed.
func (s *Store) Fetch(ctx context.Context, k Key) (string, error) {
	p := s.Path(k)
	for _, fn := range []string{p, p + ".bz2"} {
		if _, err := os.Stat(fn); err == nil {
			return fn, nil
		}
	}
	if s.Local {
		return "", fmt.Errorf("%s: %w", p, ErrNotLocal)
	}
	fn := p + ".bz2"
	if err := os.MkdirAll(filepath.Dir(fn), 0o755); err != nil {
		return "", err
	}
	url := s.URLOf(k)
	s.logger().Infow("downloading", "url", url)
	tmp := fn + ".part"
	var err error
	switch s.Tool {
	case Curl:
		err = run(ctx, "curl", "-f", "-s", "-S", "-o", tmp, url)
	case Wget:
		err = run(ctx, "wget", "-q", "-O", tmp, url)
	default:
		err = s.get(ctx, url, tmp)
	}
	if err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	return fn, os.Rename(tmp, fn)
}

func run(ctx context.Context, name string, args ...string) error {
	c := exec.CommandContext(ctx, name, args...)
	c.Stderr = os.Stderr
	return c.Run()
}

func (s *Store) get(ctx context.Context, url, fn string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	cl := s.Client
	if cl == nil {
		cl = cleanhttp.DefaultClient()
	}
	r, err := cl.Do(req)
	if err != nil {
		return err
	}
	defer r.Body.Close()
	if r.StatusCode != http.StatusOK {
		return fmt.Errorf("http status %s", r.Status)
	}
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	if _, err = io.Copy(f, r.Body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *Store) logger() *zap.SugaredLogger {
	if s.Log == nil {
		return zap.NewNop().Sugar()
	}
	return s.Log
}

// Open fetches and reads the full frame k.
func (s *Store) Open(ctx context.Context, k Key) (*Image, error) {
	if s.CacheSize > 0 && s.cache == nil {
		c, err := lru.New[Key, *Image](s.CacheSize)
		if err != nil {
			return nil, err
		}
		s.cache = c
	}
	if s.cache != nil {
		if im, ok := s.cache.Get(k); ok {
			return im, nil
		}
	}
	fn, err := s.Fetch(ctx, k)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var r io.Reader = f
	if filepath.Ext(fn) == ".bz2" {
		r = bzip2.NewReader(f)
	}
	im, err := Read(r, k)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	if s.cache != nil {
		s.cache.Add(k, im)
	}
	return im, nil
}

// Cutout returns the part of frame k covering box, or nil if the frame
// does not overlap box.
func (s *Store) Cutout(ctx context.Context, k Key, box sky.Box) (*Image, error) {
	im, err := s.Open(ctx, k)
	if err != nil {
		return nil, err
	}
	return CutBox(im, box), nil
}

// CutBox cuts im to the pixel bounding box of the corners of box.
func CutBox(im *Image, box sky.Box) *Image {
	x0, y0 := im.W, im.H
	x1, y1 := -1, -1
	for _, c := range [4][2]float64{
		{box.RA0.Deg(), box.Dec0.Deg()},
		{box.RA1.Deg(), box.Dec0.Deg()},
		{box.RA0.Deg(), box.Dec1.Deg()},
		{box.RA1.Deg(), box.Dec1.Deg()},
	} {
		x, y, err := im.WCS.RaDecToPixel(c[0], c[1])
		if err != nil {
			return nil
		}
		x0 = min(x0, int(x))
		y0 = min(y0, int(y))
		x1 = max(x1, int(x)+2)
		y1 = max(y1, int(y)+2)
	}
	return im.Sub(x0, x1, y0, y1)
}
