package segmentation

import (
	"fmt"
	"math"

	"skyphot/pkg/frame"
)

// Kernel is a square, odd-sized convolution kernel normalized to unit sum,
// used to smooth an image before thresholding so that low surface-brightness
// sources detect cleanly.
type Kernel struct {
	Data []float64
	Size int
}

// GaussianKernel builds a normalized 2D Gaussian kernel with the given FWHM
// in pixels. size must be odd; values < 3 default to the smallest odd size
// covering +/-2 sigma.
func GaussianKernel(fwhm float64, size int) (*Kernel, error) {
	if fwhm <= 0 {
		return nil, fmt.Errorf("segmentation: kernel fwhm must be positive, got %g", fwhm)
	}
	sigma := fwhm / (2 * math.Sqrt(2*math.Log(2)))
	if size < 3 {
		size = 2*int(math.Ceil(2*sigma)) + 1
		if size < 3 {
			size = 3
		}
	}
	if size%2 == 0 {
		return nil, fmt.Errorf("segmentation: kernel size must be odd, got %d", size)
	}

	k := &Kernel{Data: make([]float64, size*size), Size: size}
	half := size / 2
	sum := 0.0
	for y := -half; y <= half; y++ {
		for x := -half; x <= half; x++ {
			v := math.Exp(-float64(x*x+y*y) / (2 * sigma * sigma))
			k.Data[(y+half)*size+(x+half)] = v
			sum += v
		}
	}
	for i := range k.Data {
		k.Data[i] /= sum
	}
	return k, nil
}

// Convolve applies the kernel to the image data and returns the smoothed
// array. Edges clamp to the nearest pixel. The input image is not modified;
// its mask and error arrays are ignored here since the result is only ever
// compared against a threshold.
func (k *Kernel) Convolve(img *frame.Image) []float64 {
	out := make([]float64, len(img.Data))
	half := k.Size / 2
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			acc := 0.0
			for ky := -half; ky <= half; ky++ {
				sy := y + ky
				if sy < 0 {
					sy = 0
				} else if sy >= img.Height {
					sy = img.Height - 1
				}
				for kx := -half; kx <= half; kx++ {
					sx := x + kx
					if sx < 0 {
						sx = 0
					} else if sx >= img.Width {
						sx = img.Width - 1
					}
					acc += k.Data[(ky+half)*k.Size+(kx+half)] * img.Data[sy*img.Width+sx]
				}
			}
			out[y*img.Width+x] = acc
		}
	}
	return out
}
