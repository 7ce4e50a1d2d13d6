// Public domain.

package synthprog

import (
	"encoding/gob"
	"os"
	"time"

	"github.com/soniakeys/cs82phot/internal/frame"
	"github.com/soniakeys/cs82phot/internal/model"
)

func init() {
	gob.Register(&model.Point{})
	gob.Register(&model.Exp{})
	gob.Register(&model.Dev{})
	gob.Register(&model.Composite{})
}

// State is what a saved synthetic image depends on besides the frame
// itself: the region of interest and the current source models.
type State struct {
	Frame   frame.Key
	ROI     []int
	Saved   time.Time
	Sources []model.Source
}

// WriteState saves st to file fn.
func WriteState(fn string, st *State) error {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	if err = gob.NewEncoder(f).Encode(st); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadState reads a file written by WriteState.
func ReadState(fn string) (*State, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var st State
	if err := gob.NewDecoder(f).Decode(&st); err != nil {
		return nil, err
	}
	return &st, nil
}
