// Public domain.

package diag

import (
	"image"
	"image/png"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Writer saves PNGs as Dir/<Prefix><name>.png.
type Writer struct {
	Dir    string
	Prefix string
	Log    *zap.SugaredLogger
}

// Path returns the file name Save uses for name.
func (w *Writer) Path(name string) string {
	return filepath.Join(w.Dir, w.Prefix+name+".png")
}

// Save writes img under name and returns the path written.
func (w *Writer) Save(name string, img image.Image) (string, error) {
	fn := w.Path(name)
	if err := SaveAs(fn, img); err != nil {
		return "", err
	}
	if w.Log != nil {
		w.Log.Debugw("wrote", "file", fn)
	}
	return fn, nil
}

// SaveAs writes img as a PNG file.
func SaveAs(fn string, img image.Image) error {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	if err = png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
