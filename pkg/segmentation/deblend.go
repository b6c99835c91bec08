package segmentation

import (
	"container/heap"
	"fmt"
	"math"
	"runtime"
	"sync"

	"skyphot/pkg/frame"
)

// ProgressCallback reports deblending progress across segments.
type ProgressCallback func(completed, total int, message string)

// DeblendOptions configures Deblend.
type DeblendOptions struct {
	// NPixels is the minimum size for a sub-peak to be considered, matching
	// the detection minimum. Values < 1 default to 1.
	NPixels int

	// NLevels is the number of threshold levels placed between a segment's
	// minimum and peak intensity (default 32).
	NLevels int

	// Contrast is the minimum fraction of the total segment flux a sub-peak
	// must hold to be kept as a separate source (default 0.001). This is a
	// tunable acceptance rule, not a constant: raising it merges more
	// aggressively.
	Contrast float64

	// Connectivity is Connect4 or Connect8 (default Connect8).
	Connectivity Connectivity

	// Workers bounds the number of segments deblended in parallel; values
	// < 1 default to runtime.NumCPU().
	Workers int

	// Progress, when set, is invoked as segments complete.
	Progress ProgressCallback
}

func (o *DeblendOptions) normalize() {
	if o.NPixels < 1 {
		o.NPixels = 1
	}
	if o.NLevels < 1 {
		o.NLevels = 32
	}
	if o.Contrast <= 0 {
		o.Contrast = 0.001
	}
	if o.Connectivity != Connect4 {
		o.Connectivity = Connect8
	}
	if o.Workers < 1 {
		o.Workers = runtime.NumCPU()
	}
}

// Deblend splits merged segments into separate sources using multi-threshold
// watershed analysis. Each segment is treated independently: a set of
// threshold levels is spaced between the segment's minimum and peak, the
// sub-regions that emerge as the threshold rises become candidate peaks, and
// a candidate survives only while its watershed basin holds at least
// Contrast of the total segment flux. Segments with a single surviving peak,
// and flat segments with no dynamic range, are returned unchanged.
//
// The output map covers exactly the same footprint as the input (no pixel
// gains or loses membership) and is densely relabeled.
func Deblend(img *frame.Image, segm *Map, opts DeblendOptions) (*Map, error) {
	if len(img.Data) != len(segm.Labels) {
		return nil, fmt.Errorf("%w: image %dx%d vs segmentation %dx%d",
			frame.ErrShapeMismatch, img.Width, img.Height, segm.Width, segm.Height)
	}
	opts.normalize()

	// Each worker writes only to its own label slot.
	results := make([][]int, segm.NLabels) // per-label local sub-ids, parallel to Footprint order
	counts := make([]int, segm.NLabels)

	var wg sync.WaitGroup
	var completed int
	var mu sync.Mutex
	sem := make(chan struct{}, opts.Workers)
	for label := 1; label <= segm.NLabels; label++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(label int) {
			defer wg.Done()
			defer func() { <-sem }()
			sub, n := deblendSegment(img, segm, label, opts)
			results[label-1] = sub
			counts[label-1] = n
			if opts.Progress != nil {
				mu.Lock()
				completed++
				opts.Progress(completed, segm.NLabels, "")
				mu.Unlock()
			}
		}(label)
	}
	wg.Wait()

	// Assemble with temporary unique ids, then renumber densely in row-major
	// first-encounter order.
	out := make([]int, len(segm.Labels))
	base := 0
	bases := make([]int, segm.NLabels)
	for l := 0; l < segm.NLabels; l++ {
		bases[l] = base
		if counts[l] == 0 {
			base++ // unchanged segment keeps one id
		} else {
			base += counts[l]
		}
	}
	for label := 1; label <= segm.NLabels; label++ {
		footprint := segm.Footprint(label)
		sub := results[label-1]
		for j, idx := range footprint {
			if sub == nil {
				out[idx] = bases[label-1] + 1
			} else {
				out[idx] = bases[label-1] + sub[j]
			}
		}
	}

	next := 1
	trans := make(map[int]int, base)
	for i, l := range out {
		if l == 0 {
			continue
		}
		t, ok := trans[l]
		if !ok {
			t = next
			trans[l] = t
			next++
		}
		out[i] = t
	}
	return newMap(out, segm.Width, segm.Height, next-1), nil
}

// deblendSegment analyzes one segment. It returns nil when the segment is
// left unchanged, otherwise a slice of sub-ids (1..n) parallel to the
// segment's Footprint order, and n >= 2.
func deblendSegment(img *frame.Image, segm *Map, label int, opts DeblendOptions) ([]int, int) {
	b := segm.BBox(label)
	w := b.Width()
	h := b.Height()
	if w == 0 || h == 0 {
		return nil, 0
	}

	footprint := make([]bool, w*h)
	data := make([]float64, w*h)
	min, max := math.Inf(1), math.Inf(-1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gi := (y+b.Y0)*img.Width + (x + b.X0)
			if segm.Labels[gi] != label {
				continue
			}
			li := y*w + x
			footprint[li] = true
			v := img.Data[gi]
			data[li] = v
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	if max <= min {
		// Flat segment: nothing to deblend.
		return nil, 0
	}

	markers := findPeakCores(data, footprint, w, h, min, max, opts)
	if len(markers) < 2 {
		return nil, 0
	}

	// Watershed assignment with the contrast acceptance rule: drop basins
	// below the flux fraction and re-flood until the survivors are stable.
	var basins []int
	for {
		basins = watershed(data, footprint, markers, w, h, opts.Connectivity)

		total := 0.0
		flux := make([]float64, len(markers))
		for li, m := range basins {
			if m < 0 {
				continue
			}
			total += data[li]
			flux[m] += data[li]
		}
		if total <= 0 {
			break // degenerate flux; accept the current split
		}

		keep := make([]int, 0, len(markers))
		strongest := 0
		for mi := range markers {
			if flux[mi] >= opts.Contrast*total {
				keep = append(keep, mi)
			}
			if flux[mi] > flux[strongest] {
				strongest = mi
			}
		}
		if len(keep) == 0 {
			keep = append(keep, strongest)
		}
		if len(keep) == len(markers) {
			break
		}
		if len(keep) < 2 {
			return nil, 0
		}
		kept := make([][]int, len(keep))
		for i, mi := range keep {
			kept[i] = markers[mi]
		}
		markers = kept
	}

	// Project the basin assignment onto the Footprint order.
	footIdx := segm.Footprint(label)
	sub := make([]int, len(footIdx))
	for j, gi := range footIdx {
		x := gi%img.Width - b.X0
		y := gi/img.Width - b.Y0
		sub[j] = basins[y*w+x] + 1
	}
	return sub, len(markers)
}

// findPeakCores walks threshold levels upward through the segment and tracks
// the sub-regions that emerge, building the set of candidate peak cores.
// Levels are spaced exponentially between min and peak when the segment is
// strictly positive, linearly otherwise.
func findPeakCores(data []float64, footprint []bool, w, h int, min, max float64, opts DeblendOptions) [][]int {
	type leaf struct {
		core   []int
		frozen bool
	}

	all := make([]int, 0)
	for i, in := range footprint {
		if in {
			all = append(all, i)
		}
	}
	leaves := []*leaf{{core: all}}

	assign := make([]int, w*h) // local pixel -> leaf index, -1 outside
	resetAssign := func() {
		for i := range assign {
			assign[i] = -1
		}
		for li, lf := range leaves {
			if lf.frozen {
				continue
			}
			for _, i := range lf.core {
				assign[i] = li
			}
		}
	}
	resetAssign()

	above := make([]bool, w*h)
	for step := 1; step <= opts.NLevels; step++ {
		var level float64
		if min > 0 {
			level = min * math.Pow(max/min, float64(step)/float64(opts.NLevels+1))
		} else {
			level = min + (max-min)*float64(step)/float64(opts.NLevels+1)
		}

		for i := range above {
			above[i] = footprint[i] && data[i] > level
		}
		comps, ncomps := labelComponents(above, w, h, opts.Connectivity, opts.NPixels)
		if ncomps == 0 {
			break
		}

		// Collect component pixel lists and the leaf each descends from.
		compPixels := make([][]int, ncomps)
		compParent := make([]int, ncomps)
		for i := range compParent {
			compParent[i] = -1
		}
		for i, c := range comps {
			if c == 0 {
				continue
			}
			compPixels[c-1] = append(compPixels[c-1], i)
			if compParent[c-1] < 0 {
				compParent[c-1] = assign[i]
			}
		}

		perLeaf := make([][]int, len(leaves))
		for ci, parent := range compParent {
			if parent >= 0 {
				perLeaf[parent] = append(perLeaf[parent], ci)
			}
		}

		next := make([]*leaf, 0, len(leaves))
		for li, lf := range leaves {
			if lf.frozen {
				next = append(next, lf)
				continue
			}
			children := perLeaf[li]
			switch len(children) {
			case 0:
				// Peak fell below this level; keep the last core.
				lf.frozen = true
				next = append(next, lf)
			case 1:
				lf.core = compPixels[children[0]]
				next = append(next, lf)
			default:
				for _, ci := range children {
					next = append(next, &leaf{core: compPixels[ci]})
				}
			}
		}
		leaves = next
		resetAssign()
	}

	cores := make([][]int, len(leaves))
	for i, lf := range leaves {
		cores[i] = lf.core
	}
	return cores
}

// floodItem is one candidate pixel in the watershed priority queue.
type floodItem struct {
	value float64
	order int
	idx   int
	label int
}

// floodQueue is a max-heap on intensity with FIFO tie-breaking, so flooding
// is deterministic.
type floodQueue []floodItem

func (q floodQueue) Len() int { return len(q) }
func (q floodQueue) Less(i, j int) bool {
	if q[i].value != q[j].value {
		return q[i].value > q[j].value
	}
	return q[i].order < q[j].order
}
func (q floodQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *floodQueue) Push(x interface{}) { *q = append(*q, x.(floodItem)) }
func (q *floodQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// watershed assigns every footprint pixel to one of the marker cores by
// flooding downhill from the markers in order of decreasing intensity.
// Returns the marker index per local pixel (-1 outside the footprint).
func watershed(data []float64, footprint []bool, markers [][]int, w, h int, conn Connectivity) []int {
	assign := make([]int, w*h)
	for i := range assign {
		assign[i] = -1
	}
	for mi, core := range markers {
		for _, i := range core {
			assign[i] = mi
		}
	}

	offsets := conn.offsets()
	pq := make(floodQueue, 0, w*h)
	order := 0
	pushNeighbors := func(i, label int) {
		x := i % w
		y := i / w
		for _, off := range offsets {
			nx := x + off[0]
			ny := y + off[1]
			if nx < 0 || nx >= w || ny < 0 || ny >= h {
				continue
			}
			ni := ny*w + nx
			if footprint[ni] && assign[ni] < 0 {
				pq = append(pq, floodItem{value: data[ni], order: order, idx: ni, label: label})
				order++
			}
		}
	}

	for mi, core := range markers {
		for _, i := range core {
			pushNeighbors(i, mi)
		}
	}
	heap.Init(&pq)

	for pq.Len() > 0 {
		item := heap.Pop(&pq).(floodItem)
		if assign[item.idx] >= 0 {
			continue
		}
		assign[item.idx] = item.label
		x := item.idx % w
		y := item.idx / w
		for _, off := range offsets {
			nx := x + off[0]
			ny := y + off[1]
			if nx < 0 || nx >= w || ny < 0 || ny >= h {
				continue
			}
			ni := ny*w + nx
			if footprint[ni] && assign[ni] < 0 {
				heap.Push(&pq, floodItem{value: data[ni], order: order, idx: ni, label: item.label})
				order++
			}
		}
	}

	// A footprint detected with 8-connectivity can be disconnected under
	// 4-connected flooding; sweep any leftovers onto an assigned 8-neighbor
	// so the footprint is conserved exactly.
	for changed := true; changed; {
		changed = false
		for i := range assign {
			if !footprint[i] || assign[i] >= 0 {
				continue
			}
			x := i % w
			y := i / w
			for _, off := range Connect8.offsets() {
				nx := x + off[0]
				ny := y + off[1]
				if nx < 0 || nx >= w || ny < 0 || ny >= h {
					continue
				}
				ni := ny*w + nx
				if footprint[ni] && assign[ni] >= 0 {
					assign[i] = assign[ni]
					changed = true
					break
				}
			}
		}
	}
	return assign
}
