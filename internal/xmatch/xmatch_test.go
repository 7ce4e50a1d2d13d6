// Public domain.

package xmatch_test

import (
	"fmt"
	"testing"

	"github.com/soniakeys/unit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soniakeys/cs82phot/internal/xmatch"
)

func ExampleMatch() {
	ra1 := []float64{10, 10.5, 11}
	dec1 := []float64{0, 0, 0}
	// second object half an arc second north of the first
	ra2 := []float64{11.1, 10}
	dec2 := []float64{0, .5 / 3600}
	I, J, D := xmatch.Match(ra1, dec1, ra2, dec2, unit.AngleFromSec(1))
	for k := range I {
		fmt.Printf("%d %d %.2f\n", I[k], J[k], D[k].Sec())
	}
	// Output:
	// 0 1 0.50
}

func TestNearest(t *testing.T) {
	ra := []float64{20, 20, 20.0002, 21}
	dec := []float64{.0002, -.0001, 0, 0}
	x := xmatch.NewIndex(ra, dec)
	require.Equal(t, 4, x.Len())

	j, d, ok := x.Nearest(unit.AngleFromDeg(20), 0, unit.AngleFromSec(1))
	require.True(t, ok)
	assert.Equal(t, 1, j)
	assert.InDelta(t, .36, d.Sec(), 1e-6)

	// wider radius still picks the nearest
	j, _, ok = x.Nearest(unit.AngleFromDeg(20), 0, unit.AngleFromSec(10))
	require.True(t, ok)
	assert.Equal(t, 1, j)

	_, _, ok = x.Nearest(unit.AngleFromDeg(20.5), 0, unit.AngleFromSec(1))
	assert.False(t, ok)
}

func TestMatchEmpty(t *testing.T) {
	I, J, D := xmatch.Match([]float64{1}, []float64{1}, nil, nil, unit.AngleFromSec(1))
	assert.Empty(t, I)
	assert.Empty(t, J)
	assert.Empty(t, D)
}
