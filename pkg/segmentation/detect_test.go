package segmentation

import (
	"errors"
	"math"
	"testing"

	"skyphot/pkg/frame"
)

// gridImage builds a frame from a 2D literal, rows top to bottom.
func gridImage(t *testing.T, rows [][]float64) *frame.Image {
	t.Helper()
	height := len(rows)
	width := len(rows[0])
	data := make([]float64, 0, width*height)
	for _, row := range rows {
		data = append(data, row...)
	}
	img, err := frame.New(data, width, height)
	if err != nil {
		t.Fatalf("frame.New: %v", err)
	}
	return img
}

func TestDetectLabelsTwoBlobs(t *testing.T) {
	img := gridImage(t, [][]float64{
		{0, 9, 9, 0, 0, 0},
		{0, 9, 9, 0, 0, 0},
		{0, 0, 0, 0, 9, 9},
		{0, 0, 0, 0, 9, 9},
	})
	segm, err := Detect(img, Constant(5), DetectOptions{NPixels: 1})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if segm.NLabels != 2 {
		t.Fatalf("NLabels = %d, want 2", segm.NLabels)
	}
	// Row-major scan order: the top-left blob takes label 1.
	if segm.LabelAt(1, 0) != 1 {
		t.Errorf("top-left blob label = %d, want 1", segm.LabelAt(1, 0))
	}
	if segm.LabelAt(4, 2) != 2 {
		t.Errorf("bottom-right blob label = %d, want 2", segm.LabelAt(4, 2))
	}
	if segm.Area(1) != 4 || segm.Area(2) != 4 {
		t.Errorf("areas = (%d, %d), want (4, 4)", segm.Area(1), segm.Area(2))
	}
	if err := segm.Check(); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestDetectDeterministic(t *testing.T) {
	// A fixed pseudo-random field must segment bit-identically across runs.
	width, height := 64, 48
	data := make([]float64, width*height)
	for i := range data {
		data[i] = math.Sin(float64(i)*12.9898) * 43758.5453
		data[i] -= math.Floor(data[i])
	}
	img, _ := frame.New(data, width, height)

	first, err := Detect(img, Constant(0.8), DetectOptions{NPixels: 2})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	for run := 0; run < 3; run++ {
		again, err := Detect(img, Constant(0.8), DetectOptions{NPixels: 2})
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if again.NLabels != first.NLabels {
			t.Fatalf("run %d: NLabels %d != %d", run, again.NLabels, first.NLabels)
		}
		for i := range first.Labels {
			if first.Labels[i] != again.Labels[i] {
				t.Fatalf("run %d: label mismatch at pixel %d", run, i)
			}
		}
	}
}

func TestDetectConnectivity(t *testing.T) {
	// Two pixels touching only diagonally: one segment under 8-connectivity,
	// two under 4-connectivity.
	img := gridImage(t, [][]float64{
		{9, 0, 0},
		{0, 9, 0},
		{0, 0, 0},
	})
	eight, err := Detect(img, Constant(1), DetectOptions{Connectivity: Connect8})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if eight.NLabels != 1 {
		t.Errorf("8-connectivity NLabels = %d, want 1", eight.NLabels)
	}
	four, err := Detect(img, Constant(1), DetectOptions{Connectivity: Connect4})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if four.NLabels != 2 {
		t.Errorf("4-connectivity NLabels = %d, want 2", four.NLabels)
	}
}

func TestDetectNPixelsFilter(t *testing.T) {
	img := gridImage(t, [][]float64{
		{9, 0, 0, 0},
		{0, 0, 9, 9},
		{0, 0, 9, 9},
	})
	segm, err := Detect(img, Constant(1), DetectOptions{NPixels: 3})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if segm.NLabels != 1 {
		t.Fatalf("NLabels = %d, want 1 (singleton filtered)", segm.NLabels)
	}
	if segm.LabelAt(0, 0) != 0 {
		t.Error("filtered singleton should be background")
	}
	if segm.LabelAt(2, 1) != 1 {
		t.Error("surviving blob should be relabeled to 1")
	}
}

func TestDetectEmptyResult(t *testing.T) {
	img := gridImage(t, [][]float64{{0, 0}, {0, 0}})
	segm, err := Detect(img, Constant(1), DetectOptions{})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if segm.NLabels != 0 {
		t.Errorf("NLabels = %d, want 0", segm.NLabels)
	}
	if err := segm.Check(); err != nil {
		t.Errorf("empty map should be valid: %v", err)
	}
}

func TestDetectMaskedPixelsNeverDetect(t *testing.T) {
	img := gridImage(t, [][]float64{
		{9, 9, 0},
		{9, 9, 0},
	})
	mask := []bool{true, true, false, true, true, false}
	if _, err := img.WithMask(mask); err != nil {
		t.Fatalf("WithMask: %v", err)
	}
	segm, err := Detect(img, Constant(1), DetectOptions{})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if segm.NLabels != 0 {
		t.Errorf("masked blob detected: NLabels = %d", segm.NLabels)
	}
}

func TestDetectPerPixelThreshold(t *testing.T) {
	img := gridImage(t, [][]float64{
		{5, 5},
		{5, 5},
	})
	// Only the top row's threshold lies below the data.
	thr := PerPixel([]float64{1, 1, 9, 9})
	segm, err := Detect(img, thr, DetectOptions{})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if segm.NLabels != 1 || segm.Area(1) != 2 {
		t.Errorf("NLabels = %d, area = %d; want 1 segment of 2 pixels",
			segm.NLabels, segm.Area(1))
	}

	if _, err := Detect(img, PerPixel([]float64{1, 2, 3}), DetectOptions{}); !errors.Is(err, frame.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch for short threshold, got %v", err)
	}
}

func TestMapEdits(t *testing.T) {
	img := gridImage(t, [][]float64{
		{9, 0, 9, 0, 9},
		{9, 0, 9, 0, 9},
	})
	segm, err := Detect(img, Constant(1), DetectOptions{})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if segm.NLabels != 3 {
		t.Fatalf("NLabels = %d, want 3", segm.NLabels)
	}

	removed := segm.RemoveLabels(2)
	if removed.NLabels != 2 {
		t.Errorf("RemoveLabels: NLabels = %d, want 2", removed.NLabels)
	}
	// Former label 3 compacts to 2.
	if removed.LabelAt(4, 0) != 2 {
		t.Errorf("compacted label = %d, want 2", removed.LabelAt(4, 0))
	}
	if segm.NLabels != 3 || segm.LabelAt(2, 0) != 2 {
		t.Error("RemoveLabels mutated the receiver")
	}

	kept := segm.KeepLabels(3)
	if kept.NLabels != 1 || kept.LabelAt(4, 1) != 1 {
		t.Errorf("KeepLabels: NLabels = %d, label = %d", kept.NLabels, kept.LabelAt(4, 1))
	}
	if err := kept.Check(); err != nil {
		t.Errorf("Check after KeepLabels: %v", err)
	}
}

func TestRemoveMasked(t *testing.T) {
	img := gridImage(t, [][]float64{
		{9, 0, 9},
		{9, 0, 9},
	})
	segm, err := Detect(img, Constant(1), DetectOptions{})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	mask := make([]bool, 6)
	mask[0] = true // top pixel of segment 1

	whole, err := segm.RemoveMasked(mask, false)
	if err != nil {
		t.Fatalf("RemoveMasked: %v", err)
	}
	if whole.NLabels != 1 {
		t.Errorf("full removal: NLabels = %d, want 1", whole.NLabels)
	}

	partial, err := segm.RemoveMasked(mask, true)
	if err != nil {
		t.Fatalf("RemoveMasked partial: %v", err)
	}
	if partial.NLabels != 2 {
		t.Errorf("partial removal: NLabels = %d, want 2", partial.NLabels)
	}
	if partial.LabelAt(0, 0) != 0 {
		t.Error("masked pixel should clear to background")
	}
	if partial.Area(1) != 1 {
		t.Errorf("trimmed segment area = %d, want 1", partial.Area(1))
	}

	if _, err := segm.RemoveMasked(make([]bool, 3), false); !errors.Is(err, frame.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch for short mask, got %v", err)
	}
}

func TestGaussianKernel(t *testing.T) {
	k, err := GaussianKernel(3, 0)
	if err != nil {
		t.Fatalf("GaussianKernel: %v", err)
	}
	if k.Size%2 == 0 {
		t.Errorf("auto size %d should be odd", k.Size)
	}
	sum := 0.0
	for _, v := range k.Data {
		sum += v
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("kernel sum = %v, want 1", sum)
	}
	center := k.Data[(k.Size/2)*k.Size+k.Size/2]
	if center <= k.Data[0] {
		t.Error("kernel should peak at its center")
	}

	if _, err := GaussianKernel(0, 0); err == nil {
		t.Error("expected error for non-positive fwhm")
	}
	if _, err := GaussianKernel(3, 4); err == nil {
		t.Error("expected error for even size")
	}
}

func TestDetectWithKernelConnectsFaintBridge(t *testing.T) {
	// Smoothing spreads flux so that detection sees one merged segment where
	// raw thresholding sees two, while the data itself stays untouched.
	img := gridImage(t, [][]float64{
		{0, 0, 0, 0, 0},
		{0, 90, 0, 90, 0},
		{0, 0, 0, 0, 0},
	})
	raw, err := Detect(img, Constant(8), DetectOptions{Connectivity: Connect4})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if raw.NLabels != 2 {
		t.Fatalf("raw NLabels = %d, want 2", raw.NLabels)
	}

	kernel, err := GaussianKernel(2.5, 3)
	if err != nil {
		t.Fatalf("GaussianKernel: %v", err)
	}
	smoothed, err := Detect(img, Constant(8), DetectOptions{Connectivity: Connect4, Kernel: kernel})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if smoothed.NLabels != 1 {
		t.Errorf("smoothed NLabels = %d, want 1", smoothed.NLabels)
	}
	if img.Data[1*5+1] != 90 {
		t.Error("detection smoothing must not modify the input data")
	}
}
