// Package background estimates the sky background and noise of an image:
// sigma-clipped global statistics, a mesh-based 2D background map with
// bilinear interpolation, and the per-pixel detection threshold derived
// from them.
package background

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"skyphot/pkg/frame"
)

// Stats holds sigma-clipped statistics of a pixel sample.
type Stats struct {
	Mean   float64
	Median float64
	StdDev float64

	// N is the number of samples surviving the clipping.
	N int
}

// ClipOptions controls iterative sigma clipping.
type ClipOptions struct {
	// Sigma is the clip threshold in standard deviations (default 3).
	Sigma float64

	// MaxIters bounds the clipping iterations (default 5). Clipping also
	// stops early once an iteration rejects nothing.
	MaxIters int
}

func (o *ClipOptions) normalize() {
	if o.Sigma <= 0 {
		o.Sigma = 3
	}
	if o.MaxIters < 1 {
		o.MaxIters = 5
	}
}

// SigmaClippedStats computes mean, median and standard deviation of the
// values after iteratively rejecting outliers beyond Sigma standard
// deviations from the median. The input slice is not modified.
func SigmaClippedStats(values []float64, opts ClipOptions) Stats {
	opts.normalize()
	sample := append([]float64(nil), values...)
	if len(sample) == 0 {
		return Stats{}
	}
	sort.Float64s(sample)

	for iter := 0; iter < opts.MaxIters; iter++ {
		med := stat.Quantile(0.5, stat.Empirical, sample, nil)
		sd := stat.StdDev(sample, nil)
		if sd == 0 || math.IsNaN(sd) {
			break
		}
		lo := med - opts.Sigma*sd
		hi := med + opts.Sigma*sd
		start := sort.SearchFloat64s(sample, lo)
		end := sort.SearchFloat64s(sample, math.Nextafter(hi, math.Inf(1)))
		if start == 0 && end == len(sample) {
			break
		}
		if end-start < 2 {
			break
		}
		sample = sample[start:end]
	}

	return Stats{
		Mean:   stat.Mean(sample, nil),
		Median: stat.Quantile(0.5, stat.Empirical, sample, nil),
		StdDev: stat.StdDev(sample, nil),
		N:      len(sample),
	}
}

// ImageStats runs sigma-clipped statistics over an image, skipping masked
// pixels.
func ImageStats(img *frame.Image, opts ClipOptions) Stats {
	values := make([]float64, 0, len(img.Data))
	for i, v := range img.Data {
		if img.Mask != nil && img.Mask[i] {
			continue
		}
		values = append(values, v)
	}
	return SigmaClippedStats(values, opts)
}

// Map is a smooth 2D background model: sigma-clipped medians on a coarse
// mesh, interpolated bilinearly back to full resolution.
type Map struct {
	// Background is the full-resolution background estimate, row-major.
	Background []float64

	// RMS is the full-resolution background noise estimate, row-major.
	RMS []float64

	Width  int
	Height int
}

// Options configures Estimate.
type Options struct {
	// BoxSize is the mesh cell size in pixels (default 64). Cells at the
	// right and bottom edges may be smaller.
	BoxSize int

	// Clip controls the per-cell sigma clipping.
	Clip ClipOptions
}

// Estimate builds a background map for the image. Each mesh cell contributes
// its sigma-clipped median and standard deviation at the cell center, and
// the full-resolution arrays are bilinear interpolations of those mesh
// values. A cell that is entirely masked borrows the global statistics.
func Estimate(img *frame.Image, opts Options) (*Map, error) {
	if opts.BoxSize <= 0 {
		opts.BoxSize = 64
	}
	if opts.BoxSize > img.Width || opts.BoxSize > img.Height {
		return nil, fmt.Errorf("background: box size %d exceeds image %dx%d",
			opts.BoxSize, img.Width, img.Height)
	}

	nx := (img.Width + opts.BoxSize - 1) / opts.BoxSize
	ny := (img.Height + opts.BoxSize - 1) / opts.BoxSize
	meshBkg := make([]float64, nx*ny)
	meshRMS := make([]float64, nx*ny)
	meshX := make([]float64, nx)
	meshY := make([]float64, ny)

	global := ImageStats(img, opts.Clip)

	cell := make([]float64, 0, opts.BoxSize*opts.BoxSize)
	for cy := 0; cy < ny; cy++ {
		y0 := cy * opts.BoxSize
		y1 := y0 + opts.BoxSize
		if y1 > img.Height {
			y1 = img.Height
		}
		meshY[cy] = (float64(y0) + float64(y1-1)) / 2
		for cx := 0; cx < nx; cx++ {
			x0 := cx * opts.BoxSize
			x1 := x0 + opts.BoxSize
			if x1 > img.Width {
				x1 = img.Width
			}
			if cy == 0 {
				meshX[cx] = (float64(x0) + float64(x1-1)) / 2
			}

			cell = cell[:0]
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					i := y*img.Width + x
					if img.Mask != nil && img.Mask[i] {
						continue
					}
					cell = append(cell, img.Data[i])
				}
			}
			mi := cy*nx + cx
			if len(cell) == 0 {
				meshBkg[mi] = global.Median
				meshRMS[mi] = global.StdDev
				continue
			}
			st := SigmaClippedStats(cell, opts.Clip)
			meshBkg[mi] = st.Median
			meshRMS[mi] = st.StdDev
		}
	}

	m := &Map{
		Background: make([]float64, len(img.Data)),
		RMS:        make([]float64, len(img.Data)),
		Width:      img.Width,
		Height:     img.Height,
	}
	for y := 0; y < img.Height; y++ {
		cy, fy := meshCoord(float64(y), meshY)
		for x := 0; x < img.Width; x++ {
			cx, fx := meshCoord(float64(x), meshX)
			i := y*img.Width + x
			m.Background[i] = bilinear(meshBkg, nx, cx, cy, fx, fy)
			m.RMS[i] = bilinear(meshRMS, nx, cx, cy, fx, fy)
		}
	}
	return m, nil
}

// meshCoord locates a pixel coordinate between two mesh centers, returning
// the lower mesh index and the interpolation fraction. Coordinates outside
// the mesh centers clamp to the edge value.
func meshCoord(v float64, centers []float64) (int, float64) {
	if v <= centers[0] || len(centers) == 1 {
		return 0, 0
	}
	last := len(centers) - 1
	if v >= centers[last] {
		return last, 0
	}
	lo := sort.SearchFloat64s(centers, v) - 1
	if lo < 0 {
		lo = 0
	}
	f := (v - centers[lo]) / (centers[lo+1] - centers[lo])
	return lo, f
}

func bilinear(mesh []float64, nx, cx, cy int, fx, fy float64) float64 {
	x1 := cx
	if fx > 0 {
		x1 = cx + 1
	}
	y1 := cy
	if fy > 0 {
		y1 = cy + 1
	}
	v00 := mesh[cy*nx+cx]
	v10 := mesh[cy*nx+x1]
	v01 := mesh[y1*nx+cx]
	v11 := mesh[y1*nx+x1]
	top := v00*(1-fx) + v10*fx
	bot := v01*(1-fx) + v11*fx
	return top*(1-fy) + bot*fy
}

// Threshold returns the per-pixel detection threshold background + nsigma*rms,
// ready to feed into segmentation.PerPixel.
func (m *Map) Threshold(nsigma float64) []float64 {
	out := make([]float64, len(m.Background))
	for i := range out {
		out[i] = m.Background[i] + nsigma*m.RMS[i]
	}
	return out
}

// Subtract returns a copy of the image with the background model removed.
func (m *Map) Subtract(img *frame.Image) (*frame.Image, error) {
	if len(img.Data) != len(m.Background) {
		return nil, fmt.Errorf("%w: image %dx%d vs background %dx%d",
			frame.ErrShapeMismatch, img.Width, img.Height, m.Width, m.Height)
	}
	out := img.Copy()
	for i := range out.Data {
		out.Data[i] -= m.Background[i]
	}
	return out, nil
}
