package catalog

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"skyphot/pkg/frame"
	"skyphot/pkg/segmentation"
)

// Source is the measurement record for one labeled segment. Properties come
// in two lazy groups, each computed on first access and cached: the basic
// group (area, bbox, flux, peak) and the moment group (centroid, shape).
// Accessors never fail; degenerate shapes clamp rather than error.
type Source struct {
	// Label is the segment's label in the backing map.
	Label int

	img    *frame.Image
	errArr []float64
	segm   *segmentation.Map

	basicOnce  sync.Once
	area       int
	bbox       frame.Bounds
	flux       float64
	fluxErr    float64
	peak       float64
	peakX      int
	peakY      int

	momentOnce  sync.Once
	cx, cy      float64
	semiMajor   float64
	semiMinor   float64
	orientation float64
}

func (s *Source) computeBasic() {
	s.basicOnce.Do(func() {
		s.bbox = s.segm.BBox(s.Label)
		s.peak = math.Inf(-1)
		var errSq float64
		for _, i := range s.segm.Footprint(s.Label) {
			if s.img.Mask != nil && s.img.Mask[i] {
				continue
			}
			v := s.img.Data[i]
			s.area++
			s.flux += v
			if s.errArr != nil {
				errSq += s.errArr[i] * s.errArr[i]
			}
			if v > s.peak {
				s.peak = v
				s.peakX = i % s.img.Width
				s.peakY = i / s.img.Width
			}
		}
		s.fluxErr = math.Sqrt(errSq)
		if s.area == 0 {
			s.peak = 0
		}
	})
}

// computeMoments derives the intensity-weighted centroid and the 2x2 second
// central moment matrix, then eigendecomposes it for the semi-axes and
// orientation. Negative pixel values are clipped to zero for the weighting
// so that noise troughs cannot push the centroid outside the segment.
func (s *Source) computeMoments() {
	s.momentOnce.Do(func() {
		s.computeBasic()

		var wsum, sx, sy float64
		for _, i := range s.segm.Footprint(s.Label) {
			if s.img.Mask != nil && s.img.Mask[i] {
				continue
			}
			w := s.img.Data[i]
			if w < 0 {
				w = 0
			}
			wsum += w
			sx += w * float64(i%s.img.Width)
			sy += w * float64(i/s.img.Width)
		}
		if wsum <= 0 {
			// All-negative or masked-out segment: fall back to the bbox center.
			s.cx = float64(s.bbox.X0) + float64(s.bbox.Width()-1)/2
			s.cy = float64(s.bbox.Y0) + float64(s.bbox.Height()-1)/2
			s.semiMajor = 0.5
			s.semiMinor = 0.5
			return
		}
		s.cx = sx / wsum
		s.cy = sy / wsum

		var mxx, myy, mxy float64
		for _, i := range s.segm.Footprint(s.Label) {
			if s.img.Mask != nil && s.img.Mask[i] {
				continue
			}
			w := s.img.Data[i]
			if w < 0 {
				w = 0
			}
			dx := float64(i%s.img.Width) - s.cx
			dy := float64(i/s.img.Width) - s.cy
			mxx += w * dx * dx
			myy += w * dy * dy
			mxy += w * dx * dy
		}
		mxx /= wsum
		myy /= wsum
		mxy /= wsum

		cov := mat.NewSymDense(2, []float64{mxx, mxy, mxy, myy})
		var eig mat.EigenSym
		if !eig.Factorize(cov, true) {
			s.semiMajor = 0.5
			s.semiMinor = 0.5
			return
		}
		vals := eig.Values(nil)
		var vecs mat.Dense
		eig.VectorsTo(&vecs)

		// gonum orders eigenvalues ascending.
		major, minor := vals[1], vals[0]
		if major < 0 {
			major = 0
		}
		if minor < 0 {
			minor = 0
		}
		s.semiMajor = math.Sqrt(major)
		s.semiMinor = math.Sqrt(minor)
		s.orientation = math.Atan2(vecs.At(1, 1), vecs.At(0, 1))
		if s.orientation > math.Pi/2 {
			s.orientation -= math.Pi
		} else if s.orientation <= -math.Pi/2 {
			s.orientation += math.Pi
		}

		// A point-like or collinear segment has a vanishing moment; clamp to
		// half a pixel since the source occupies at least the pixel it sits in.
		if s.semiMajor < 0.5 {
			s.semiMajor = 0.5
		}
		if s.semiMinor < 0.5 {
			s.semiMinor = 0.5
		}
	})
}

// Area returns the number of unmasked pixels in the segment.
func (s *Source) Area() int {
	s.computeBasic()
	return s.area
}

// BBox returns the segment's minimal bounding box.
func (s *Source) BBox() frame.Bounds {
	s.computeBasic()
	return s.bbox
}

// Flux returns the sum of unmasked pixel values over the segment.
func (s *Source) Flux() float64 {
	s.computeBasic()
	return s.flux
}

// FluxErr returns the propagated 1-sigma uncertainty on Flux, or zero when
// no error array is available.
func (s *Source) FluxErr() float64 {
	s.computeBasic()
	return s.fluxErr
}

// Peak returns the maximum unmasked pixel value in the segment.
func (s *Source) Peak() float64 {
	s.computeBasic()
	return s.peak
}

// PeakPos returns the pixel coordinates of the peak.
func (s *Source) PeakPos() (int, int) {
	s.computeBasic()
	return s.peakX, s.peakY
}

// Centroid returns the intensity-weighted center of the segment.
func (s *Source) Centroid() (float64, float64) {
	s.computeMoments()
	return s.cx, s.cy
}

// SemiMajor returns the semi-major axis length in pixels, derived from the
// largest eigenvalue of the second-moment matrix.
func (s *Source) SemiMajor() float64 {
	s.computeMoments()
	return s.semiMajor
}

// SemiMinor returns the semi-minor axis length in pixels.
func (s *Source) SemiMinor() float64 {
	s.computeMoments()
	return s.semiMinor
}

// Orientation returns the position angle of the major axis in radians,
// measured counterclockwise from +x, in (-pi/2, pi/2].
func (s *Source) Orientation() float64 {
	s.computeMoments()
	return s.orientation
}

// Elongation returns the axis ratio a/b.
func (s *Source) Elongation() float64 {
	s.computeMoments()
	return s.semiMajor / s.semiMinor
}

// Cutout returns a copy of the image region covered by the segment's
// bounding box.
func (s *Source) Cutout() *frame.Image {
	s.computeBasic()
	return s.img.Cutout(s.bbox)
}
