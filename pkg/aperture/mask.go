package aperture

import (
	"fmt"

	"skyphot/pkg/frame"
)

// Method selects how per-pixel overlap weights are computed.
type Method int

const (
	// MethodExact weights each pixel by the analytic fractional area of its
	// intersection with the aperture boundary.
	MethodExact Method = iota

	// MethodCenter counts a pixel fully when its center lies inside the
	// aperture, and not at all otherwise. Fastest, least accurate.
	MethodCenter

	// MethodSubpixel subdivides each pixel into an NxN grid and weights by
	// the fraction of subpixel centers inside the aperture, approximating
	// MethodExact with error O(1/N).
	MethodSubpixel
)

func (m Method) String() string {
	switch m {
	case MethodExact:
		return "exact"
	case MethodCenter:
		return "center"
	case MethodSubpixel:
		return "subpixel"
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// ParseMethod converts a config string to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "exact", "":
		return MethodExact, nil
	case "center":
		return MethodCenter, nil
	case "subpixel":
		return MethodSubpixel, nil
	}
	return 0, fmt.Errorf("aperture: unknown overlap method %q", s)
}

// Mask is the per-pixel overlap-fraction grid of one aperture: weights in
// [0,1] over the aperture's bounding box, plus the box origin within the
// parent image. A mask is immutable once built and can be reapplied to any
// number of images of the same shape (multi-band photometry).
type Mask struct {
	Weights []float64
	Width   int
	Height  int
	X0, Y0  int // parent-image coordinate of Weights[0]
}

// NewMask computes the overlap mask for an aperture with the given method.
// subpixels is only consulted for MethodSubpixel; values < 1 default to 5.
func NewMask(ap Aperture, method Method, subpixels int) (*Mask, error) {
	if err := ap.Validate(); err != nil {
		return nil, err
	}
	if subpixels < 1 {
		subpixels = 5
	}
	b := ap.Bounds()
	m := &Mask{
		Weights: make([]float64, b.Width()*b.Height()),
		Width:   b.Width(),
		Height:  b.Height(),
		X0:      b.X0,
		Y0:      b.Y0,
	}
	for y := b.Y0; y < b.Y1; y++ {
		for x := b.X0; x < b.X1; x++ {
			var w float64
			switch method {
			case MethodCenter:
				if ap.Contains(float64(x), float64(y)) {
					w = 1
				}
			case MethodSubpixel:
				w = subpixelWeight(ap, x, y, subpixels)
			default:
				w = ap.PixelOverlap(x, y)
			}
			m.Weights[(y-b.Y0)*m.Width+(x-b.X0)] = w
		}
	}
	return m, nil
}

// subpixelWeight samples an NxN grid of subpixel centers within pixel (x, y).
func subpixelWeight(ap Aperture, x, y, n int) float64 {
	inside := 0
	for sy := 0; sy < n; sy++ {
		py := float64(y) - 0.5 + (float64(sy)+0.5)/float64(n)
		for sx := 0; sx < n; sx++ {
			px := float64(x) - 0.5 + (float64(sx)+0.5)/float64(n)
			if ap.Contains(px, py) {
				inside++
			}
		}
	}
	return float64(inside) / float64(n*n)
}

// WeightAt returns the mask weight for a parent-image pixel, or 0 when the
// pixel lies outside the mask's bounding box.
func (m *Mask) WeightAt(x, y int) float64 {
	mx := x - m.X0
	my := y - m.Y0
	if mx < 0 || mx >= m.Width || my < 0 || my >= m.Height {
		return 0
	}
	return m.Weights[my*m.Width+mx]
}

// Sum returns the total weight in the mask, which for MethodExact equals the
// aperture's analytic area to floating-point tolerance.
func (m *Mask) Sum() float64 {
	total := 0.0
	for _, w := range m.Weights {
		total += w
	}
	return total
}

// Bounds returns the mask's bounding box in parent-image coordinates.
func (m *Mask) Bounds() frame.Bounds {
	return frame.Bounds{X0: m.X0, Y0: m.Y0, X1: m.X0 + m.Width, Y1: m.Y0 + m.Height}
}
