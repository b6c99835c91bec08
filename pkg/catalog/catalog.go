// Package catalog derives morphological and photometric source properties
// from an image plus its segmentation map: flux, centroid, second-moment
// shape parameters, and tabular export. Properties are computed lazily per
// source and cached for the catalog's lifetime.
package catalog

import (
	"errors"
	"fmt"

	"skyphot/pkg/aperture"
	"skyphot/pkg/frame"
	"skyphot/pkg/segmentation"
)

// ErrUnknownLabel is returned when a requested label is not present in the
// segmentation map backing the catalog.
var ErrUnknownLabel = errors.New("catalog: unknown label")

// Options configures Build.
type Options struct {
	// Error overrides the image's own error array for flux uncertainty
	// propagation. Must match the image shape when set.
	Error []float64

	// Labels restricts the catalog to the given segments. Empty means all.
	// Labels absent from the map are skipped here; they surface as
	// ErrUnknownLabel only when looked up, so one bad label never blocks a
	// batch build over the valid ones.
	Labels []int
}

// Catalog is a read-only view of source measurements over one (image,
// segmentation) pair. The catalog holds references to both, so the map must
// not be edited afterwards; any segmentation edit calls for a new catalog.
type Catalog struct {
	img  *frame.Image
	segm *segmentation.Map

	sources []*Source
	index   map[int]*Source
}

// Build creates a catalog over the image and segmentation map. Measurements
// are deferred until the corresponding property is first accessed.
func Build(img *frame.Image, segm *segmentation.Map, opts Options) (*Catalog, error) {
	if len(img.Data) != len(segm.Labels) {
		return nil, fmt.Errorf("%w: image %dx%d vs segmentation %dx%d",
			frame.ErrShapeMismatch, img.Width, img.Height, segm.Width, segm.Height)
	}
	errArr := img.Error
	if opts.Error != nil {
		if len(opts.Error) != len(img.Data) {
			return nil, fmt.Errorf("%w: error length %d, expected %d",
				frame.ErrShapeMismatch, len(opts.Error), len(img.Data))
		}
		errArr = opts.Error
	}

	labels := opts.Labels
	if len(labels) == 0 {
		labels = segm.AllLabels()
	}
	c := &Catalog{
		img:     img,
		segm:    segm,
		sources: make([]*Source, 0, len(labels)),
		index:   make(map[int]*Source, len(labels)),
	}
	for _, label := range labels {
		if !segm.HasLabel(label) {
			continue
		}
		s := &Source{Label: label, img: img, errArr: errArr, segm: segm}
		c.sources = append(c.sources, s)
		c.index[label] = s
	}
	return c, nil
}

// Len returns the number of sources in the catalog.
func (c *Catalog) Len() int { return len(c.sources) }

// Sources returns the sources in label order.
func (c *Catalog) Sources() []*Source { return c.sources }

// Labels returns the labels covered by this catalog, in order.
func (c *Catalog) Labels() []int {
	out := make([]int, len(c.sources))
	for i, s := range c.sources {
		out[i] = s.Label
	}
	return out
}

// Source returns the record for one label, or ErrUnknownLabel. A failed
// lookup affects only that call; the rest of the catalog stays usable.
func (c *Catalog) Source(label int) (*Source, error) {
	s, ok := c.index[label]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLabel, label)
	}
	return s, nil
}

// Select returns a catalog restricted to the given labels. The underlying
// Source records are shared, so anything already computed stays cached.
func (c *Catalog) Select(labels ...int) (*Catalog, error) {
	out := &Catalog{
		img:     c.img,
		segm:    c.segm,
		sources: make([]*Source, 0, len(labels)),
		index:   make(map[int]*Source, len(labels)),
	}
	for _, label := range labels {
		s, ok := c.index[label]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownLabel, label)
		}
		out.sources = append(out.sources, s)
		out.index[label] = s
	}
	return out, nil
}

// EllipticalApertures derives one elliptical aperture per source from its
// second-moment shape, with semi-axes scaled by the given factor. This is
// the usual second-pass photometry input: detect, measure shapes, then
// re-measure flux inside scaled moment ellipses.
func (c *Catalog) EllipticalApertures(scale float64) ([]aperture.Elliptical, error) {
	if scale <= 0 {
		return nil, fmt.Errorf("catalog: aperture scale must be positive, got %g", scale)
	}
	out := make([]aperture.Elliptical, len(c.sources))
	for i, s := range c.sources {
		cx, cy := s.Centroid()
		out[i] = aperture.Elliptical{
			X:     cx,
			Y:     cy,
			A:     scale * s.SemiMajor(),
			B:     scale * s.SemiMinor(),
			Theta: s.Orientation(),
		}
	}
	return out, nil
}
