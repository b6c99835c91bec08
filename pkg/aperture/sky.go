package aperture

import (
	"fmt"
	"math"

	"skyphot/pkg/wcs"
)

// Sky-coordinate apertures carry angular sizes (degrees) and a celestial
// center. They are not measured directly: a wcs.Transform resolves each to
// its pixel-coordinate equivalent first, and the engine only ever sees pixel
// apertures.

// SkyCircular is a circular aperture defined on the sky.
type SkyCircular struct {
	Center wcs.SkyCoord
	RDeg   float64 // radius in degrees
}

// ToPixel resolves the sky aperture to a pixel aperture via the transform.
func (s SkyCircular) ToPixel(t wcs.Transform) (Circular, error) {
	if s.RDeg <= 0 {
		return Circular{}, fmt.Errorf("%w: sky radius %g deg", ErrInvalidGeometry, s.RDeg)
	}
	x, y := t.SkyToPixel(s.Center)
	return NewCircular(x, y, s.RDeg/t.Scale())
}

// SkyElliptical is an elliptical aperture defined on the sky. ThetaDeg is
// the major-axis position angle in degrees.
type SkyElliptical struct {
	Center   wcs.SkyCoord
	ADeg     float64
	BDeg     float64
	ThetaDeg float64
}

// ToPixel resolves the sky aperture to a pixel aperture via the transform.
func (s SkyElliptical) ToPixel(t wcs.Transform) (Elliptical, error) {
	if s.ADeg <= 0 || s.BDeg <= 0 {
		return Elliptical{}, fmt.Errorf("%w: sky semi-axes (%g, %g) deg",
			ErrInvalidGeometry, s.ADeg, s.BDeg)
	}
	x, y := t.SkyToPixel(s.Center)
	return NewElliptical(x, y, s.ADeg/t.Scale(), s.BDeg/t.Scale(),
		s.ThetaDeg*math.Pi/180)
}

// SkyRectangular is a rectangular aperture defined on the sky.
type SkyRectangular struct {
	Center   wcs.SkyCoord
	WDeg     float64
	HDeg     float64
	ThetaDeg float64
}

// ToPixel resolves the sky aperture to a pixel aperture via the transform.
func (s SkyRectangular) ToPixel(t wcs.Transform) (Rectangular, error) {
	if s.WDeg <= 0 || s.HDeg <= 0 {
		return Rectangular{}, fmt.Errorf("%w: sky sides (%g, %g) deg",
			ErrInvalidGeometry, s.WDeg, s.HDeg)
	}
	x, y := t.SkyToPixel(s.Center)
	return NewRectangular(x, y, s.WDeg/t.Scale(), s.HDeg/t.Scale(),
		s.ThetaDeg*math.Pi/180)
}
