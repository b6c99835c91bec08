// Package frame holds the pixel-level data model shared by the photometry
// and segmentation engines: a 2D intensity image with optional per-pixel
// error and bad-pixel mask arrays, plus bounding-box cutouts into it.
package frame

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrShapeMismatch is returned when the data, error and mask arrays of an
// image do not all share the same shape.
var ErrShapeMismatch = errors.New("frame: array shape mismatch")

// Image is a 2D intensity array of shape Height x Width stored row-major,
// optionally paired with an equal-shape error array and an equal-shape
// bad-pixel mask (true = excluded). The engines treat an Image as read-only
// for its whole lifetime; anything that needs to alter pixels works on a
// copy.
type Image struct {
	// Data holds the pixel intensities in row-major order, so the pixel at
	// column x, row y lives at Data[y*Width+x].
	Data []float64

	// Error holds the 1-sigma per-pixel uncertainties. Nil when no error
	// array was supplied.
	Error []float64

	// Mask marks pixels excluded from all measurements. Nil when no mask
	// was supplied.
	Mask []bool

	// Width and Height are the image dimensions in pixels.
	Width  int
	Height int

	// Unit is an optional physical-unit tag carried through for display
	// purposes only; the engines never interpret it.
	Unit string
}

// New creates an image from a row-major data array. The optional error and
// mask arrays may be nil; when present they must match the data shape.
func New(data []float64, width, height int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("frame: invalid dimensions %dx%d", width, height)
	}
	if len(data) != width*height {
		return nil, fmt.Errorf("%w: data length %d, expected %d",
			ErrShapeMismatch, len(data), width*height)
	}
	return &Image{Data: data, Width: width, Height: height}, nil
}

// WithError attaches a per-pixel error array to the image.
func (img *Image) WithError(err []float64) (*Image, error) {
	if len(err) != len(img.Data) {
		return nil, fmt.Errorf("%w: error length %d, expected %d",
			ErrShapeMismatch, len(err), len(img.Data))
	}
	img.Error = err
	return img, nil
}

// WithMask attaches a bad-pixel mask to the image (true = excluded).
func (img *Image) WithMask(mask []bool) (*Image, error) {
	if len(mask) != len(img.Data) {
		return nil, fmt.Errorf("%w: mask length %d, expected %d",
			ErrShapeMismatch, len(mask), len(img.Data))
	}
	img.Mask = mask
	return img, nil
}

// At returns the intensity at column x, row y. The caller is responsible
// for staying inside the image bounds.
func (img *Image) At(x, y int) float64 { return img.Data[y*img.Width+x] }

// Masked reports whether the pixel at column x, row y is excluded.
func (img *Image) Masked(x, y int) bool {
	return img.Mask != nil && img.Mask[y*img.Width+x]
}

// Inside reports whether the pixel coordinate lies within the image.
func (img *Image) Inside(x, y int) bool {
	return x >= 0 && x < img.Width && y >= 0 && y < img.Height
}

// Copy returns a deep copy of the image including any error and mask arrays.
func (img *Image) Copy() *Image {
	out := &Image{Width: img.Width, Height: img.Height, Unit: img.Unit}
	out.Data = make([]float64, len(img.Data))
	copy(out.Data, img.Data)
	if img.Error != nil {
		out.Error = make([]float64, len(img.Error))
		copy(out.Error, img.Error)
	}
	if img.Mask != nil {
		out.Mask = make([]bool, len(img.Mask))
		copy(out.Mask, img.Mask)
	}
	return out
}

// MinMax returns the minimum and maximum intensities, skipping masked pixels.
func (img *Image) MinMax() (float64, float64) {
	min, max := math.Inf(1), math.Inf(-1)
	for i, v := range img.Data {
		if img.Mask != nil && img.Mask[i] {
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// Percentiles returns the intensities at the given low and high fractional
// percentiles (each in [0,1]), used for display stretch. Masked pixels are
// skipped.
func (img *Image) Percentiles(lo, hi float64) (float64, float64) {
	vals := make([]float64, 0, len(img.Data))
	for i, v := range img.Data {
		if img.Mask != nil && img.Mask[i] {
			continue
		}
		vals = append(vals, v)
	}
	if len(vals) == 0 {
		return 0, 0
	}
	sort.Float64s(vals)
	iLo := int(lo * float64(len(vals)))
	iHi := int(hi * float64(len(vals)))
	if iLo < 0 {
		iLo = 0
	}
	if iHi >= len(vals) {
		iHi = len(vals) - 1
	}
	return vals[iLo], vals[iHi]
}

// Bounds is an integer bounding box, inclusive of (X0,Y0) and exclusive of
// (X1,Y1), matching the standard image convention.
type Bounds struct {
	X0, Y0, X1, Y1 int
}

// Width returns the horizontal extent of the box.
func (b Bounds) Width() int { return b.X1 - b.X0 }

// Height returns the vertical extent of the box.
func (b Bounds) Height() int { return b.Y1 - b.Y0 }

// Empty reports whether the box contains no pixels.
func (b Bounds) Empty() bool { return b.X1 <= b.X0 || b.Y1 <= b.Y0 }

// Clip restricts the box to the given image dimensions.
func (b Bounds) Clip(width, height int) Bounds {
	if b.X0 < 0 {
		b.X0 = 0
	}
	if b.Y0 < 0 {
		b.Y0 = 0
	}
	if b.X1 > width {
		b.X1 = width
	}
	if b.Y1 > height {
		b.Y1 = height
	}
	if b.X1 < b.X0 {
		b.X1 = b.X0
	}
	if b.Y1 < b.Y0 {
		b.Y1 = b.Y0
	}
	return b
}

// Union returns the smallest box containing both boxes.
func (b Bounds) Union(o Bounds) Bounds {
	if b.Empty() {
		return o
	}
	if o.Empty() {
		return b
	}
	if o.X0 < b.X0 {
		b.X0 = o.X0
	}
	if o.Y0 < b.Y0 {
		b.Y0 = o.Y0
	}
	if o.X1 > b.X1 {
		b.X1 = o.X1
	}
	if o.Y1 > b.Y1 {
		b.Y1 = o.Y1
	}
	return b
}

// Cutout extracts a copy of the image region covered by the (clipped) box.
func (img *Image) Cutout(b Bounds) *Image {
	b = b.Clip(img.Width, img.Height)
	out := &Image{Width: b.Width(), Height: b.Height(), Unit: img.Unit}
	out.Data = make([]float64, out.Width*out.Height)
	if img.Error != nil {
		out.Error = make([]float64, out.Width*out.Height)
	}
	if img.Mask != nil {
		out.Mask = make([]bool, out.Width*out.Height)
	}
	for y := b.Y0; y < b.Y1; y++ {
		for x := b.X0; x < b.X1; x++ {
			src := y*img.Width + x
			dst := (y-b.Y0)*out.Width + (x - b.X0)
			out.Data[dst] = img.Data[src]
			if out.Error != nil {
				out.Error[dst] = img.Error[src]
			}
			if out.Mask != nil {
				out.Mask[dst] = img.Mask[src]
			}
		}
	}
	return out
}
