// Package aperture implements fractional-pixel aperture photometry:
// geometric apertures (circles, ellipses, rectangles, in pixel or sky
// coordinates), per-pixel overlap masks with exact, center and subpixel
// weighting, and flux aggregation with error propagation.
//
// Pixel convention: the pixel at integer coordinate (x, y) spans the square
// [x-0.5, x+0.5] x [y-0.5, y+0.5], so aperture positions are continuous
// coordinates where integers land on pixel centers.
package aperture

import (
	"errors"
	"fmt"
	"math"

	"skyphot/internal/geom"
	"skyphot/pkg/frame"
)

// ErrInvalidGeometry is returned when an aperture is constructed with
// non-positive radius, semi-axes or side lengths.
var ErrInvalidGeometry = errors.New("aperture: invalid geometry")

// Aperture is a fixed geometric region used to aggregate pixel values.
// The shape set is closed: circular, elliptical and rectangular apertures in
// pixel coordinates (sky-coordinate variants resolve to these, see sky.go).
type Aperture interface {
	// Validate rejects non-positive dimensions with ErrInvalidGeometry.
	Validate() error

	// Bounds returns an integer pixel box covering the whole shape,
	// unclipped (it may extend outside any particular image).
	Bounds() frame.Bounds

	// Contains reports whether the continuous point (x, y) lies inside the
	// aperture boundary.
	Contains(x, y float64) bool

	// PixelOverlap returns the exact fractional area of the intersection
	// between the unit square of pixel (x, y) and the aperture.
	PixelOverlap(x, y int) float64

	// Area returns the analytic area of the aperture in pixels.
	Area() float64

	// Position returns the aperture center.
	Position() (x, y float64)

	// Recenter returns a copy of the aperture moved to a new center.
	Recenter(x, y float64) Aperture
}

// Circular is a circle of radius R centered at (X, Y).
type Circular struct {
	X, Y float64
	R    float64
}

// NewCircular returns a validated circular aperture.
func NewCircular(x, y, r float64) (Circular, error) {
	c := Circular{X: x, Y: y, R: r}
	return c, c.Validate()
}

func (c Circular) Validate() error {
	if c.R <= 0 || math.IsNaN(c.R) {
		return fmt.Errorf("%w: radius %g", ErrInvalidGeometry, c.R)
	}
	return nil
}

func (c Circular) Bounds() frame.Bounds {
	return extentBounds(c.X, c.Y, c.R, c.R)
}

func (c Circular) Contains(x, y float64) bool {
	dx := x - c.X
	dy := y - c.Y
	return dx*dx+dy*dy < c.R*c.R
}

func (c Circular) PixelOverlap(x, y int) float64 {
	fx := float64(x)
	fy := float64(y)
	return geom.CircleRectOverlap(c.X, c.Y, c.R, fx-0.5, fy-0.5, fx+0.5, fy+0.5)
}

func (c Circular) Area() float64 { return math.Pi * c.R * c.R }

func (c Circular) Position() (float64, float64) { return c.X, c.Y }

func (c Circular) Recenter(x, y float64) Aperture {
	c.X, c.Y = x, y
	return c
}

// Elliptical is an ellipse with semi-major axis A, semi-minor axis B and
// major-axis rotation Theta (radians, counter-clockwise from +x), centered
// at (X, Y).
type Elliptical struct {
	X, Y  float64
	A, B  float64
	Theta float64
}

// NewElliptical returns a validated elliptical aperture.
func NewElliptical(x, y, a, b, theta float64) (Elliptical, error) {
	e := Elliptical{X: x, Y: y, A: a, B: b, Theta: theta}
	return e, e.Validate()
}

func (e Elliptical) Validate() error {
	if e.A <= 0 || e.B <= 0 || math.IsNaN(e.A) || math.IsNaN(e.B) {
		return fmt.Errorf("%w: semi-axes (%g, %g)", ErrInvalidGeometry, e.A, e.B)
	}
	return nil
}

func (e Elliptical) Bounds() frame.Bounds {
	sin, cos := math.Sincos(e.Theta)
	ex := math.Sqrt(e.A*e.A*cos*cos + e.B*e.B*sin*sin)
	ey := math.Sqrt(e.A*e.A*sin*sin + e.B*e.B*cos*cos)
	return extentBounds(e.X, e.Y, ex, ey)
}

// toUnit maps a point into the frame where the ellipse is the unit circle.
func (e Elliptical) toUnit(x, y float64) (float64, float64) {
	sin, cos := math.Sincos(e.Theta)
	dx := x - e.X
	dy := y - e.Y
	u := (dx*cos + dy*sin) / e.A
	v := (-dx*sin + dy*cos) / e.B
	return u, v
}

func (e Elliptical) Contains(x, y float64) bool {
	u, v := e.toUnit(x, y)
	return u*u+v*v < 1
}

func (e Elliptical) PixelOverlap(x, y int) float64 {
	fx := float64(x)
	fy := float64(y)
	// Map the pixel square into the unit-circle frame; the affine map scales
	// areas by 1/(A*B), so the overlap scales back by A*B.
	corners := [4][2]float64{
		{fx - 0.5, fy - 0.5},
		{fx + 0.5, fy - 0.5},
		{fx + 0.5, fy + 0.5},
		{fx - 0.5, fy + 0.5},
	}
	poly := make([]geom.Point, 4)
	for i, c := range corners {
		u, v := e.toUnit(c[0], c[1])
		poly[i] = geom.Point{X: u, Y: v}
	}
	return geom.CirclePolygonOverlap(1, poly) * e.A * e.B
}

func (e Elliptical) Area() float64 { return math.Pi * e.A * e.B }

func (e Elliptical) Position() (float64, float64) { return e.X, e.Y }

func (e Elliptical) Recenter(x, y float64) Aperture {
	e.X, e.Y = x, y
	return e
}

// Rectangular is a rectangle of full width W and full height H rotated by
// Theta (radians, counter-clockwise), centered at (X, Y).
type Rectangular struct {
	X, Y  float64
	W, H  float64
	Theta float64
}

// NewRectangular returns a validated rectangular aperture.
func NewRectangular(x, y, w, h, theta float64) (Rectangular, error) {
	r := Rectangular{X: x, Y: y, W: w, H: h, Theta: theta}
	return r, r.Validate()
}

func (r Rectangular) Validate() error {
	if r.W <= 0 || r.H <= 0 || math.IsNaN(r.W) || math.IsNaN(r.H) {
		return fmt.Errorf("%w: sides (%g, %g)", ErrInvalidGeometry, r.W, r.H)
	}
	return nil
}

func (r Rectangular) Bounds() frame.Bounds {
	sin, cos := math.Sincos(r.Theta)
	ex := (r.W*math.Abs(cos) + r.H*math.Abs(sin)) / 2
	ey := (r.W*math.Abs(sin) + r.H*math.Abs(cos)) / 2
	return extentBounds(r.X, r.Y, ex, ey)
}

func (r Rectangular) Contains(x, y float64) bool {
	sin, cos := math.Sincos(r.Theta)
	dx := x - r.X
	dy := y - r.Y
	u := dx*cos + dy*sin
	v := -dx*sin + dy*cos
	return math.Abs(u) < r.W/2 && math.Abs(v) < r.H/2
}

// corners returns the rectangle vertices in counter-clockwise order.
func (r Rectangular) corners() []geom.Point {
	sin, cos := math.Sincos(r.Theta)
	hw := r.W / 2
	hh := r.H / 2
	local := [4][2]float64{{-hw, -hh}, {hw, -hh}, {hw, hh}, {-hw, hh}}
	out := make([]geom.Point, 4)
	for i, p := range local {
		out[i] = geom.Point{
			X: r.X + p[0]*cos - p[1]*sin,
			Y: r.Y + p[0]*sin + p[1]*cos,
		}
	}
	return out
}

func (r Rectangular) PixelOverlap(x, y int) float64 {
	fx := float64(x)
	fy := float64(y)
	pixel := []geom.Point{
		{X: fx - 0.5, Y: fy - 0.5},
		{X: fx + 0.5, Y: fy - 0.5},
		{X: fx + 0.5, Y: fy + 0.5},
		{X: fx - 0.5, Y: fy + 0.5},
	}
	return geom.PolygonArea(geom.ClipPolygon(pixel, r.corners()))
}

func (r Rectangular) Area() float64 { return r.W * r.H }

func (r Rectangular) Position() (float64, float64) { return r.X, r.Y }

func (r Rectangular) Recenter(x, y float64) Aperture {
	r.X, r.Y = x, y
	return r
}

// extentBounds converts a center and half-extents to an integer pixel box
// covering every pixel whose square could intersect the shape.
func extentBounds(cx, cy, ex, ey float64) frame.Bounds {
	return frame.Bounds{
		X0: int(math.Floor(cx - ex - 0.5)),
		Y0: int(math.Floor(cy - ey - 0.5)),
		X1: int(math.Ceil(cx+ex+0.5)) + 1,
		Y1: int(math.Ceil(cy+ey+0.5)) + 1,
	}
}

// AtPositions recenters each prototype shape at each position and returns the
// expanded list ordered position-major, then shape index, matching a client's
// nested-loop expectations.
func AtPositions(shapes []Aperture, positions [][2]float64) []Aperture {
	out := make([]Aperture, 0, len(shapes)*len(positions))
	for _, pos := range positions {
		for _, s := range shapes {
			out = append(out, s.Recenter(pos[0], pos[1]))
		}
	}
	return out
}
