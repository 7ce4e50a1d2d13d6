// Public domain.

package catalog

import (
	"fmt"
	"path/filepath"
)

// Checkpoint writes the catalog after every tile so a crash loses at most
// the tile in progress.  Files are named by deep field and sky slice index.
//
// There is no tile number in the output; grid order is fixed, so a restart
// can work out where to resume from the slice index in the file name.
type Checkpoint struct {
	Dir   string
	Field string
}

// SlicePath is the path of the full catalog checkpoint for a slice.
func (c *Checkpoint) SlicePath(slice int) string {
	return filepath.Join(c.Dir, fmt.Sprintf("cs82-phot-%s-slice%d.fits", c.Field, slice))
}

// CutPath is the path of the done-only checkpoint for a slice.
func (c *Checkpoint) CutPath(slice int) string {
	return filepath.Join(c.Dir, fmt.Sprintf("cs82-phot-%s-slice%d-cut.fits", c.Field, slice))
}

// FinalPath is the path of the merged output catalog.
func (c *Checkpoint) FinalPath() string {
	return filepath.Join(c.Dir, fmt.Sprintf("cs82-phot-%s.fits", c.Field))
}

// Write writes the full catalog and the rows with photometry done.
func (c *Checkpoint) Write(cat *Catalog, slice int) (full, cut string, err error) {
	full = c.SlicePath(slice)
	if err = WriteFITS(full, cat.Sources, cat.Bands, false); err != nil {
		return
	}
	cut = c.CutPath(slice)
	err = WriteFITS(cut, cat.Done(), cat.Bands, false)
	return
}

// WriteFinal writes the finished catalog without tiling bookkeeping.
func (c *Checkpoint) WriteFinal(cat *Catalog) (string, error) {
	fn := c.FinalPath()
	return fn, WriteFITS(fn, cat.Sources, cat.Bands, true)
}
