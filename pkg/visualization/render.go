// Package visualization renders frames, segmentation maps and aperture
// outlines to images for inspection: grayscale percentile stretch, colored
// label overlays, and vector aperture outlines drawn on top.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/fogleman/gg"
	colorful "github.com/lucasb-eyer/go-colorful"

	"skyphot/pkg/aperture"
	"skyphot/pkg/frame"
	"skyphot/pkg/segmentation"
)

// Renderer turns one frame into display images. The stretch maps the
// intensity range between two percentiles onto the full 8-bit range, which
// keeps a handful of bright sources from washing out the sky.
type Renderer struct {
	img    *frame.Image
	lo, hi float64
}

// NewRenderer creates a renderer with the default 1..99 percentile stretch.
func NewRenderer(img *frame.Image) *Renderer {
	r := &Renderer{img: img}
	r.SetStretch(0.01, 0.99)
	return r
}

// SetStretch picks the display range from the given fractional percentiles.
func (r *Renderer) SetStretch(lo, hi float64) {
	r.lo, r.hi = r.img.Percentiles(lo, hi)
	if r.hi <= r.lo {
		r.hi = r.lo + 1
	}
}

// Grayscale renders the frame with the current stretch. Masked pixels render
// black.
func (r *Renderer) Grayscale() *image.Gray {
	out := image.NewGray(image.Rect(0, 0, r.img.Width, r.img.Height))
	scale := 255 / (r.hi - r.lo)
	for y := 0; y < r.img.Height; y++ {
		for x := 0; x < r.img.Width; x++ {
			if r.img.Masked(x, y) {
				continue
			}
			v := (r.img.At(x, y) - r.lo) * scale
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			out.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return out
}

// LabelColors returns n perceptually distinct colors, one per label,
// deterministic across runs. Hues advance by the golden angle so neighboring
// labels never share a similar color.
func LabelColors(n int) []colorful.Color {
	out := make([]colorful.Color, n)
	for i := range out {
		h := math.Mod(float64(i)*137.508, 360)
		out[i] = colorful.Hsv(h, 0.85, 0.95)
	}
	return out
}

// Segmentation renders the label map blended over the grayscale frame.
// alpha in [0,1] controls the overlay opacity; background pixels keep the
// grayscale value.
func (r *Renderer) Segmentation(segm *segmentation.Map, alpha float64) (*image.RGBA, error) {
	if segm.Width != r.img.Width || segm.Height != r.img.Height {
		return nil, fmt.Errorf("%w: image %dx%d vs segmentation %dx%d",
			frame.ErrShapeMismatch, r.img.Width, r.img.Height, segm.Width, segm.Height)
	}
	if alpha < 0 {
		alpha = 0
	} else if alpha > 1 {
		alpha = 1
	}

	gray := r.Grayscale()
	colors := LabelColors(segm.NLabels)
	out := image.NewRGBA(gray.Bounds())
	for y := 0; y < segm.Height; y++ {
		for x := 0; x < segm.Width; x++ {
			g := float64(gray.GrayAt(x, y).Y) / 255
			l := segm.LabelAt(x, y)
			if l == 0 {
				out.Set(x, y, color.Gray{Y: uint8(g * 255)})
				continue
			}
			c := colors[l-1]
			blend := colorful.Color{
				R: g*(1-alpha) + c.R*alpha,
				G: g*(1-alpha) + c.G*alpha,
				B: g*(1-alpha) + c.B*alpha,
			}
			out.Set(x, y, blend.Clamped())
		}
	}
	return out, nil
}

// Apertures draws aperture outlines over a base image and returns the
// result. Pixel centers sit at integer coordinates, so outlines shift by
// half a pixel into raster space.
func Apertures(base image.Image, apertures []aperture.Aperture, c color.Color) image.Image {
	dc := gg.NewContextForImage(base)
	dc.SetColor(c)
	dc.SetLineWidth(1.2)

	for _, ap := range apertures {
		switch a := ap.(type) {
		case aperture.Circular:
			dc.DrawCircle(a.X+0.5, a.Y+0.5, a.R)
			dc.Stroke()
		case aperture.Elliptical:
			dc.Push()
			dc.RotateAbout(a.Theta, a.X+0.5, a.Y+0.5)
			dc.DrawEllipse(a.X+0.5, a.Y+0.5, a.A, a.B)
			dc.Stroke()
			dc.Pop()
		case aperture.Rectangular:
			cosT, sinT := math.Cos(a.Theta), math.Sin(a.Theta)
			hw, hh := a.W/2, a.H/2
			corners := [4][2]float64{
				{-hw, -hh}, {hw, -hh}, {hw, hh}, {-hw, hh},
			}
			for i, corner := range corners {
				px := a.X + 0.5 + corner[0]*cosT - corner[1]*sinT
				py := a.Y + 0.5 + corner[0]*sinT + corner[1]*cosT
				if i == 0 {
					dc.MoveTo(px, py)
				} else {
					dc.LineTo(px, py)
				}
			}
			dc.ClosePath()
			dc.Stroke()
		}
	}
	return dc.Image()
}

// SavePNG writes an image to disk as PNG.
func SavePNG(img image.Image, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("visualization: creating %s: %w", path, err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("visualization: encoding %s: %w", path, err)
	}
	return nil
}
