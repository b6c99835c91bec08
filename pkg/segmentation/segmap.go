// Package segmentation implements source detection on 2D images: threshold
// segmentation with connected-component labeling, post-hoc segment editing,
// and multi-threshold watershed deblending of merged sources.
package segmentation

import (
	"fmt"

	"skyphot/pkg/frame"
)

// Connectivity selects the pixel adjacency rule used to group above-threshold
// pixels into components.
type Connectivity int

const (
	// Connect4 groups edge-adjacent pixels only.
	Connect4 Connectivity = 4

	// Connect8 also groups corner-adjacent pixels.
	Connect8 Connectivity = 8
)

// offsets returns the neighbor offsets for the connectivity.
func (c Connectivity) offsets() [][2]int {
	if c == Connect4 {
		return [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	}
	return [][2]int{
		{1, 0}, {-1, 0}, {0, 1}, {0, -1},
		{1, 1}, {1, -1}, {-1, 1}, {-1, -1},
	}
}

// Map is a segmentation map: an integer label for every image pixel, where 0
// is background and each positive label 1..NLabels is one spatially connected
// source region. Labels are always dense. Edits are value-semantic: they
// return a new Map and leave the receiver untouched.
type Map struct {
	// Labels holds the per-pixel label in row-major order.
	Labels []int

	Width  int
	Height int

	// NLabels is the number of distinct positive labels present.
	NLabels int

	bboxes []frame.Bounds // indexed by label-1
	areas  []int          // indexed by label-1
}

// newMap wraps a label grid, computing per-label bounding boxes and areas.
// The grid must already use dense labels 1..n.
func newMap(labels []int, width, height, nlabels int) *Map {
	m := &Map{
		Labels:  labels,
		Width:   width,
		Height:  height,
		NLabels: nlabels,
		bboxes:  make([]frame.Bounds, nlabels),
		areas:   make([]int, nlabels),
	}
	for i := range m.bboxes {
		m.bboxes[i] = frame.Bounds{X0: width, Y0: height, X1: 0, Y1: 0}
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			l := labels[y*width+x]
			if l == 0 {
				continue
			}
			b := &m.bboxes[l-1]
			if x < b.X0 {
				b.X0 = x
			}
			if y < b.Y0 {
				b.Y0 = y
			}
			if x+1 > b.X1 {
				b.X1 = x + 1
			}
			if y+1 > b.Y1 {
				b.Y1 = y + 1
			}
			m.areas[l-1]++
		}
	}
	return m
}

// LabelAt returns the label at column x, row y.
func (m *Map) LabelAt(x, y int) int { return m.Labels[y*m.Width+x] }

// HasLabel reports whether the label is present in the map.
func (m *Map) HasLabel(label int) bool { return label >= 1 && label <= m.NLabels }

// AllLabels returns the labels present, ascending.
func (m *Map) AllLabels() []int {
	out := make([]int, m.NLabels)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

// Area returns the pixel count of a label, or 0 for an absent label.
func (m *Map) Area(label int) int {
	if !m.HasLabel(label) {
		return 0
	}
	return m.areas[label-1]
}

// BBox returns the minimal bounding box of a label. The zero Bounds is
// returned for an absent label.
func (m *Map) BBox(label int) frame.Bounds {
	if !m.HasLabel(label) {
		return frame.Bounds{}
	}
	return m.bboxes[label-1]
}

// Check validates the map invariants: labels dense in 0..NLabels and each
// positive label non-empty. Used by tests and by edit operations.
func (m *Map) Check() error {
	seen := make([]int, m.NLabels)
	for i, l := range m.Labels {
		if l < 0 || l > m.NLabels {
			return fmt.Errorf("segmentation: label %d at pixel %d out of range [0,%d]",
				l, i, m.NLabels)
		}
		if l > 0 {
			seen[l-1]++
		}
	}
	for i, n := range seen {
		if n == 0 {
			return fmt.Errorf("segmentation: label %d has no pixels", i+1)
		}
	}
	return nil
}

// relabel maps old labels through a translation table (0 stays 0, table
// values of 0 drop the segment) and renumbers the survivors densely in
// first-encountered row-major order.
func (m *Map) relabel(keep func(label int) bool) *Map {
	next := 1
	trans := make([]int, m.NLabels+1)
	labels := make([]int, len(m.Labels))
	for i, l := range m.Labels {
		if l == 0 || !keep(l) {
			continue
		}
		if trans[l] == 0 {
			trans[l] = next
			next++
		}
		labels[i] = trans[l]
	}
	return newMap(labels, m.Width, m.Height, next-1)
}

// RemoveLabels returns a new map with the given segments relabeled to
// background; remaining labels are renumbered densely.
func (m *Map) RemoveLabels(labels ...int) *Map {
	drop := make(map[int]bool, len(labels))
	for _, l := range labels {
		drop[l] = true
	}
	return m.relabel(func(l int) bool { return !drop[l] })
}

// KeepLabels returns a new map retaining only the given segments, renumbered
// densely.
func (m *Map) KeepLabels(labels ...int) *Map {
	hold := make(map[int]bool, len(labels))
	for _, l := range labels {
		hold[l] = true
	}
	return m.relabel(func(l int) bool { return hold[l] })
}

// RemoveMasked returns a new map where any segment overlapping a masked pixel
// is dropped entirely when partial is false, or only its masked pixels are
// cleared when partial is true. Either way labels stay dense; with partial
// removal a segment losing all its pixels disappears.
func (m *Map) RemoveMasked(mask []bool, partial bool) (*Map, error) {
	if len(mask) != len(m.Labels) {
		return nil, fmt.Errorf("%w: mask length %d, expected %d",
			frame.ErrShapeMismatch, len(mask), len(m.Labels))
	}
	if !partial {
		touched := make(map[int]bool)
		for i, l := range m.Labels {
			if l != 0 && mask[i] {
				touched[l] = true
			}
		}
		return m.relabel(func(l int) bool { return !touched[l] }), nil
	}

	labels := make([]int, len(m.Labels))
	copy(labels, m.Labels)
	for i := range labels {
		if mask[i] {
			labels[i] = 0
		}
	}
	tmp := newMap(labels, m.Width, m.Height, m.NLabels)
	// Some labels may now be empty; compact them out.
	return tmp.relabel(func(l int) bool { return tmp.areas[l-1] > 0 }), nil
}

// Copy returns a deep copy of the map.
func (m *Map) Copy() *Map {
	labels := make([]int, len(m.Labels))
	copy(labels, m.Labels)
	return newMap(labels, m.Width, m.Height, m.NLabels)
}

// Footprint returns the row-major pixel indices belonging to a label,
// restricted to the label's bounding box scan.
func (m *Map) Footprint(label int) []int {
	if !m.HasLabel(label) {
		return nil
	}
	b := m.bboxes[label-1]
	out := make([]int, 0, m.areas[label-1])
	for y := b.Y0; y < b.Y1; y++ {
		for x := b.X0; x < b.X1; x++ {
			i := y*m.Width + x
			if m.Labels[i] == label {
				out = append(out, i)
			}
		}
	}
	return out
}
