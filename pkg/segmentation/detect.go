package segmentation

import (
	"fmt"

	"skyphot/pkg/frame"
)

// Threshold is the detection boundary: either one scalar for the whole image
// or a per-pixel array (typically background + nsigma*rms).
type Threshold struct {
	perPixel []float64
	scalar   float64
}

// Constant returns a scalar threshold.
func Constant(v float64) Threshold { return Threshold{scalar: v} }

// PerPixel returns a per-pixel threshold array.
func PerPixel(values []float64) Threshold { return Threshold{perPixel: values} }

// at returns the threshold for row-major pixel index i.
func (t Threshold) at(i int) float64 {
	if t.perPixel != nil {
		return t.perPixel[i]
	}
	return t.scalar
}

// DetectOptions configures Detect.
type DetectOptions struct {
	// NPixels is the minimum component size; smaller detections are
	// discarded as noise. Values < 1 default to 1.
	NPixels int

	// Connectivity is Connect4 or Connect8 (default Connect8).
	Connectivity Connectivity

	// Kernel, when set, smooths a copy of the image before thresholding.
	// Only detection sees the smoothed data; callers keep measuring fluxes
	// on the original image.
	Kernel *Kernel
}

func (o *DetectOptions) normalize() {
	if o.NPixels < 1 {
		o.NPixels = 1
	}
	if o.Connectivity != Connect4 {
		o.Connectivity = Connect8
	}
}

// Detect performs threshold segmentation: pixels with image > threshold are
// grouped into connected components, components smaller than NPixels are
// dropped, and survivors are labeled densely 1..N in the order their first
// pixel is encountered in a row-major scan. Masked image pixels never detect.
//
// Detection is deterministic: identical inputs produce bit-identical label
// maps. An image entirely below threshold yields a valid map with NLabels 0.
func Detect(img *frame.Image, threshold Threshold, opts DetectOptions) (*Map, error) {
	opts.normalize()
	if threshold.perPixel != nil && len(threshold.perPixel) != len(img.Data) {
		return nil, fmt.Errorf("%w: threshold length %d, expected %d",
			frame.ErrShapeMismatch, len(threshold.perPixel), len(img.Data))
	}

	data := img.Data
	if opts.Kernel != nil {
		data = opts.Kernel.Convolve(img)
	}

	above := make([]bool, len(data))
	for i, v := range data {
		if img.Mask != nil && img.Mask[i] {
			continue
		}
		above[i] = v > threshold.at(i)
	}

	labels, n := labelComponents(above, img.Width, img.Height, opts.Connectivity, opts.NPixels)
	return newMap(labels, img.Width, img.Height, n), nil
}

// labelComponents groups true pixels into connected components with an
// iterative flood fill, scanning row-major so label ids follow each
// component's first-encountered pixel. Components smaller than npixels are
// erased. Returned labels are dense 1..count.
func labelComponents(above []bool, width, height int, conn Connectivity, npixels int) ([]int, int) {
	labels := make([]int, len(above))
	visited := make([]bool, len(above))
	offsets := conn.offsets()

	var stack []int
	var component []int
	next := 1

	for start := range above {
		if !above[start] || visited[start] {
			continue
		}

		component = component[:0]
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			component = append(component, i)

			x := i % width
			y := i / width
			for _, off := range offsets {
				nx := x + off[0]
				ny := y + off[1]
				if nx < 0 || nx >= width || ny < 0 || ny >= height {
					continue
				}
				ni := ny*width + nx
				if above[ni] && !visited[ni] {
					visited[ni] = true
					stack = append(stack, ni)
				}
			}
		}

		if len(component) < npixels {
			continue
		}
		for _, i := range component {
			labels[i] = next
		}
		next++
	}
	return labels, next - 1
}
