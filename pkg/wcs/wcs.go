// Package wcs provides the coordinate-transform collaborator used when
// apertures are defined in sky coordinates. The photometry engine itself
// operates exclusively in pixel coordinates; a Transform is consulted once,
// when a sky aperture is resolved to its pixel equivalent.
package wcs

import (
	"fmt"
	"math"
)

// SkyCoord is a celestial coordinate in degrees.
type SkyCoord struct {
	RA  float64
	Dec float64
}

// Transform converts between pixel and sky coordinates.
type Transform interface {
	PixelToSky(x, y float64) SkyCoord
	SkyToPixel(c SkyCoord) (x, y float64)
	// Scale returns the pixel scale in degrees per pixel, used to convert
	// angular aperture sizes to pixel sizes.
	Scale() float64
}

// Linear is a flat-sky transform: a reference pixel mapped to a reference
// sky position, a uniform pixel scale and a rotation of the pixel grid
// relative to the sky axes. It is adequate for small fields where spherical
// projection terms are negligible.
type Linear struct {
	RefX, RefY float64  // reference pixel
	RefSky     SkyCoord // sky position at the reference pixel
	ScaleDeg   float64  // degrees per pixel, > 0
	RotDeg     float64  // grid rotation, degrees east of north
}

// NewLinear validates and returns a linear transform.
func NewLinear(refX, refY float64, refSky SkyCoord, scaleDeg, rotDeg float64) (*Linear, error) {
	if scaleDeg <= 0 {
		return nil, fmt.Errorf("wcs: pixel scale must be positive, got %g", scaleDeg)
	}
	return &Linear{RefX: refX, RefY: refY, RefSky: refSky, ScaleDeg: scaleDeg, RotDeg: rotDeg}, nil
}

// PixelToSky maps a pixel position to sky coordinates.
func (l *Linear) PixelToSky(x, y float64) SkyCoord {
	dx := x - l.RefX
	dy := y - l.RefY
	sin, cos := math.Sincos(l.RotDeg * math.Pi / 180)
	// Rotate grid offsets onto the sky axes; RA grows opposite to x for the
	// usual east-left orientation.
	dra := -(dx*cos - dy*sin) * l.ScaleDeg
	ddec := (dx*sin + dy*cos) * l.ScaleDeg
	cosDec := math.Cos(l.RefSky.Dec * math.Pi / 180)
	if cosDec == 0 {
		cosDec = 1e-12
	}
	return SkyCoord{
		RA:  l.RefSky.RA + dra/cosDec,
		Dec: l.RefSky.Dec + ddec,
	}
}

// SkyToPixel maps sky coordinates to a pixel position, inverting PixelToSky.
func (l *Linear) SkyToPixel(c SkyCoord) (float64, float64) {
	cosDec := math.Cos(l.RefSky.Dec * math.Pi / 180)
	dra := (c.RA - l.RefSky.RA) * cosDec
	ddec := c.Dec - l.RefSky.Dec
	sin, cos := math.Sincos(l.RotDeg * math.Pi / 180)
	u := -dra / l.ScaleDeg
	v := ddec / l.ScaleDeg
	// Inverse of the rotation applied in PixelToSky.
	dx := u*cos + v*sin
	dy := -u*sin + v*cos
	return l.RefX + dx, l.RefY + dy
}

// Scale returns the pixel scale in degrees per pixel.
func (l *Linear) Scale() float64 { return l.ScaleDeg }
