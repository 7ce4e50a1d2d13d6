// Public domain.

package diag

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

// Colors used for overlays.
var (
	Red    = color.RGBA{255, 0, 0, 255}
	Green  = color.RGBA{0, 255, 0, 255}
	Blue   = color.RGBA{0, 0, 255, 255}
	Yellow = color.RGBA{255, 255, 0, 255}
	Purple = color.RGBA{128, 0, 128, 255}
)

// Canvas is a color image addressed in lower left origin pixel
// coordinates, for drawing overlays on a Gray image.
type Canvas struct {
	*image.RGBA
}

// NewCanvas copies src to a new canvas.
func NewCanvas(src image.Image) *Canvas {
	b := src.Bounds()
	c := &Canvas{image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))}
	draw.Draw(c.RGBA, c.Rect, src, b.Min, draw.Src)
	return c
}

// Plot sets pixel x, y.  Points off the canvas are ignored.
func (c *Canvas) Plot(x, y int, col color.Color) {
	c.Set(x, c.Rect.Dy()-1-y, col)
}

// Line draws a straight line between two points.
func (c *Canvas) Line(x0, y0, x1, y1 float64, col color.Color) {
	n := int(math.Max(math.Abs(x1-x0), math.Abs(y1-y0))) + 1
	for i := 0; i <= n; i++ {
		t := float64(i) / float64(n)
		c.Plot(int(math.Round(x0+t*(x1-x0))), int(math.Round(y0+t*(y1-y0))), col)
	}
}

// Ellipse outlines an ellipse centered at cx, cy with semi axes a and b,
// the a axis at angle theta radians counterclockwise from +x.
func (c *Canvas) Ellipse(cx, cy, a, b, theta float64, col color.Color) {
	n := max(16, int(2*math.Pi*a))
	st, ct := math.Sincos(theta)
	px, py := cx+a*ct, cy+a*st
	for i := 1; i <= n; i++ {
		s, k := math.Sincos(2 * math.Pi * float64(i) / float64(n))
		u, v := a*k, b*s
		x, y := cx+u*ct-v*st, cy+u*st+v*ct
		c.Line(px, py, x, y, col)
		px, py = x, y
	}
}

// Marker draws a plus sign of arm length r.
func (c *Canvas) Marker(x, y, r float64, col color.Color) {
	c.Line(x-r, y, x+r, y, col)
	c.Line(x, y-r, x, y+r, col)
}

// Outline draws the rectangle with corners x0, y0 and x1, y1.
func (c *Canvas) Outline(x0, y0, x1, y1 float64, col color.Color) {
	c.Line(x0, y0, x1, y0, col)
	c.Line(x1, y0, x1, y1, col)
	c.Line(x1, y1, x0, y1, col)
	c.Line(x0, y1, x0, y0, col)
}

// Mosaic lays out imgs left to right, top to bottom, in a square-ish grid
// of equal cells separated by gap pixels.
func Mosaic(imgs []image.Image, gap int) *image.RGBA {
	if len(imgs) == 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}
	cols := int(math.Ceil(math.Sqrt(float64(len(imgs)))))
	rows := (len(imgs) + cols - 1) / cols
	cw, ch := 0, 0
	for _, im := range imgs {
		cw = max(cw, im.Bounds().Dx())
		ch = max(ch, im.Bounds().Dy())
	}
	m := image.NewRGBA(image.Rect(0, 0, cols*cw+(cols-1)*gap, rows*ch+(rows-1)*gap))
	draw.Draw(m, m.Rect, image.Black, image.Point{}, draw.Src)
	for i, im := range imgs {
		x := i % cols * (cw + gap)
		y := i / cols * (ch + gap)
		b := im.Bounds()
		draw.Draw(m, image.Rect(x, y, x+b.Dx(), y+b.Dy()), im, b.Min, draw.Src)
	}
	return m
}
