package aperture

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"skyphot/pkg/frame"
)

// Flag carries data-quality information about one measurement.
type Flag uint8

const (
	// FlagPartial marks an aperture clipped by the image boundary:
	// out-of-bounds pixels contribute zero weight.
	FlagPartial Flag = 1 << iota

	// FlagOutside marks an aperture whose bounding box lies entirely outside
	// the image. The measurement reports zero flux instead of failing.
	FlagOutside

	// FlagMasked marks an aperture that overlapped at least one masked
	// pixel; masked pixels are excluded entirely, not interpolated.
	FlagMasked
)

// Result is the aggregate measurement for one aperture.
type Result struct {
	// X, Y echo the aperture center.
	X, Y float64

	// Sum is the weighted flux total over the aperture.
	Sum float64

	// SumErr is the propagated 1-sigma uncertainty on Sum, assuming
	// independent pixel noise. Zero when the image has no error array.
	SumErr float64

	// Area is the total overlap weight actually accumulated, after mask and
	// boundary clipping.
	Area float64

	Flags Flag
}

// ProgressCallback reports batch progress; message lines are informational.
type ProgressCallback func(completed, total int, message string)

// Options configures a Measure call.
type Options struct {
	// Method selects the overlap computation; default MethodExact.
	Method Method

	// Subpixels is the subdivision factor for MethodSubpixel (default 5).
	Subpixels int

	// Workers bounds the number of goroutines measuring apertures in
	// parallel; values < 1 default to runtime.NumCPU().
	Workers int

	// Progress, when set, is invoked as apertures complete.
	Progress ProgressCallback
}

// Measure performs aperture photometry for every aperture on one image.
// It is a pure function of its inputs: results are returned in the order the
// apertures were supplied, each measured independently.
//
// For each aperture, sum = sum(w_i * data_i) over its bounding cutout and
// sumErr = sqrt(sum((w_i * err_i)^2)) when an error array is present. Masked
// pixels are forced to weight zero before aggregation. Apertures partially
// outside the image are clipped (FlagPartial); apertures fully outside
// report zero flux with FlagOutside rather than an error.
func Measure(img *frame.Image, apertures []Aperture, opts Options) ([]Result, error) {
	for i, ap := range apertures {
		if err := ap.Validate(); err != nil {
			return nil, fmt.Errorf("aperture %d: %w", i, err)
		}
	}

	results := make([]Result, len(apertures))
	workers := opts.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if workers > len(apertures) {
		workers = len(apertures)
	}
	if workers <= 1 {
		for i, ap := range apertures {
			results[i] = measureOne(img, ap, opts)
			if opts.Progress != nil {
				opts.Progress(i+1, len(apertures), "")
			}
		}
		return results, nil
	}

	// Fan the apertures out over a bounded worker pool; each worker writes
	// only to its own result slots.
	var wg sync.WaitGroup
	var completed int64
	var mu sync.Mutex
	perWorker := (len(apertures) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * perWorker
		end := start + perWorker
		if end > len(apertures) {
			end = len(apertures)
		}
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				results[i] = measureOne(img, apertures[i], opts)
				if opts.Progress != nil {
					mu.Lock()
					completed++
					opts.Progress(int(completed), len(apertures), "")
					mu.Unlock()
				}
			}
		}(start, end)
	}
	wg.Wait()
	return results, nil
}

// MeasureMask aggregates flux under a precomputed overlap mask. This is the
// multi-band path: one mask built per aperture, applied to several images of
// the same shape.
func MeasureMask(img *frame.Image, m *Mask) Result {
	var res Result
	res.X = float64(m.X0) + float64(m.Width)/2
	res.Y = float64(m.Y0) + float64(m.Height)/2

	clipped := m.Bounds().Clip(img.Width, img.Height)
	if clipped.Empty() {
		res.Flags |= FlagOutside
		return res
	}
	if clipped != m.Bounds() {
		res.Flags |= FlagPartial
	}

	var sum, errSq, area float64
	for y := clipped.Y0; y < clipped.Y1; y++ {
		for x := clipped.X0; x < clipped.X1; x++ {
			w := m.Weights[(y-m.Y0)*m.Width+(x-m.X0)]
			if w == 0 {
				continue
			}
			idx := y*img.Width + x
			if img.Mask != nil && img.Mask[idx] {
				res.Flags |= FlagMasked
				continue
			}
			sum += w * img.Data[idx]
			area += w
			if img.Error != nil {
				we := w * img.Error[idx]
				errSq += we * we
			}
		}
	}
	res.Sum = sum
	res.Area = area
	res.SumErr = math.Sqrt(errSq)
	return res
}

// measureOne computes one aperture's aggregate without materializing a Mask,
// walking the bounding cutout directly.
func measureOne(img *frame.Image, ap Aperture, opts Options) Result {
	var res Result
	res.X, res.Y = ap.Position()

	b := ap.Bounds()
	clipped := b.Clip(img.Width, img.Height)
	if clipped.Empty() {
		res.Flags |= FlagOutside
		return res
	}
	if clipped != b {
		res.Flags |= FlagPartial
	}

	subpixels := opts.Subpixels
	if subpixels < 1 {
		subpixels = 5
	}

	var sum, errSq, area float64
	for y := clipped.Y0; y < clipped.Y1; y++ {
		for x := clipped.X0; x < clipped.X1; x++ {
			var w float64
			switch opts.Method {
			case MethodCenter:
				if ap.Contains(float64(x), float64(y)) {
					w = 1
				}
			case MethodSubpixel:
				w = subpixelWeight(ap, x, y, subpixels)
			default:
				w = ap.PixelOverlap(x, y)
			}
			if w == 0 {
				continue
			}
			idx := y*img.Width + x
			if img.Mask != nil && img.Mask[idx] {
				res.Flags |= FlagMasked
				continue
			}
			sum += w * img.Data[idx]
			area += w
			if img.Error != nil {
				we := w * img.Error[idx]
				errSq += we * we
			}
		}
	}
	res.Sum = sum
	res.Area = area
	res.SumErr = math.Sqrt(errSq)
	return res
}
