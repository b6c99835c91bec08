package segmentation

import (
	"math"
	"testing"

	"skyphot/pkg/frame"
)

// gaussianPair renders two Gaussian sources on a width x height frame.
func gaussianPair(width, height int, x1, y1, x2, y2, amp, sigma float64) *frame.Image {
	data := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			fx, fy := float64(x), float64(y)
			d1 := (fx-x1)*(fx-x1) + (fy-y1)*(fy-y1)
			d2 := (fx-x2)*(fx-x2) + (fy-y2)*(fy-y2)
			data[y*width+x] = amp*math.Exp(-d1/(2*sigma*sigma)) +
				amp*math.Exp(-d2/(2*sigma*sigma))
		}
	}
	img, _ := frame.New(data, width, height)
	return img
}

func TestDeblendSplitsMergedPair(t *testing.T) {
	// Two Gaussians close enough that thresholding merges them into one
	// segment; deblending must recover both.
	img := gaussianPair(40, 40, 14, 20, 26, 20, 100, 4)
	segm, err := Detect(img, Constant(1), DetectOptions{NPixels: 5})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if segm.NLabels != 1 {
		t.Fatalf("expected one merged segment before deblending, got %d", segm.NLabels)
	}

	out, err := Deblend(img, segm, DeblendOptions{NPixels: 5})
	if err != nil {
		t.Fatalf("Deblend: %v", err)
	}
	if out.NLabels != 2 {
		t.Fatalf("deblended NLabels = %d, want 2", out.NLabels)
	}
	if err := out.Check(); err != nil {
		t.Errorf("Check: %v", err)
	}

	// Each input peak must land in its own segment.
	l1 := out.LabelAt(14, 20)
	l2 := out.LabelAt(26, 20)
	if l1 == l2 || l1 == 0 || l2 == 0 {
		t.Errorf("peak labels = (%d, %d), want two distinct sources", l1, l2)
	}
}

func TestDeblendConservesFootprint(t *testing.T) {
	img := gaussianPair(40, 40, 14, 20, 26, 20, 100, 4)
	segm, err := Detect(img, Constant(1), DetectOptions{NPixels: 5})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	out, err := Deblend(img, segm, DeblendOptions{NPixels: 5})
	if err != nil {
		t.Fatalf("Deblend: %v", err)
	}

	for i := range segm.Labels {
		before := segm.Labels[i] != 0
		after := out.Labels[i] != 0
		if before != after {
			t.Fatalf("pixel %d changed membership: before %v, after %v", i, before, after)
		}
	}
	if out.NLabels < segm.NLabels {
		t.Errorf("deblending decreased NLabels: %d -> %d", segm.NLabels, out.NLabels)
	}
}

func TestDeblendLeavesSinglePeakAlone(t *testing.T) {
	img := gaussianPair(30, 30, 15, 15, 15, 15, 50, 3)
	segm, err := Detect(img, Constant(1), DetectOptions{NPixels: 5})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if segm.NLabels != 1 {
		t.Fatalf("expected one segment, got %d", segm.NLabels)
	}
	out, err := Deblend(img, segm, DeblendOptions{NPixels: 5})
	if err != nil {
		t.Fatalf("Deblend: %v", err)
	}
	if out.NLabels != 1 {
		t.Errorf("single-peak segment split into %d", out.NLabels)
	}
	for i := range segm.Labels {
		if segm.Labels[i] != out.Labels[i] {
			t.Fatalf("single-peak deblend changed label at pixel %d", i)
		}
	}
}

func TestDeblendLeavesFlatSegmentAlone(t *testing.T) {
	data := make([]float64, 100)
	for y := 3; y < 7; y++ {
		for x := 3; x < 7; x++ {
			data[y*10+x] = 5
		}
	}
	img, _ := frame.New(data, 10, 10)
	segm, err := Detect(img, Constant(1), DetectOptions{})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	out, err := Deblend(img, segm, DeblendOptions{})
	if err != nil {
		t.Fatalf("Deblend: %v", err)
	}
	if out.NLabels != 1 {
		t.Errorf("flat segment split into %d", out.NLabels)
	}
}

func TestDeblendContrastMergesFaintPeak(t *testing.T) {
	// With a high contrast requirement the faint companion falls below the
	// flux fraction and merges into the primary.
	img := gaussianPair(40, 40, 14, 20, 26, 20, 100, 4)
	// Scale the right-hand peak down to a small fraction of the total.
	for y := 0; y < 40; y++ {
		for x := 20; x < 40; x++ {
			img.Data[y*40+x] *= 0.02
		}
	}
	segm, err := Detect(img, Constant(0.5), DetectOptions{NPixels: 5})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	strict, err := Deblend(img, segm, DeblendOptions{NPixels: 5, Contrast: 0.3})
	if err != nil {
		t.Fatalf("Deblend: %v", err)
	}
	loose, err := Deblend(img, segm, DeblendOptions{NPixels: 5, Contrast: 1e-6})
	if err != nil {
		t.Fatalf("Deblend: %v", err)
	}
	if strict.NLabels >= loose.NLabels {
		t.Errorf("contrast 0.3 gave %d labels, contrast 1e-6 gave %d; expected fewer under the stricter cut",
			strict.NLabels, loose.NLabels)
	}
}

func TestDeblendDeterministicAcrossWorkerCounts(t *testing.T) {
	img := gaussianPair(50, 40, 15, 18, 33, 22, 80, 4)
	segm, err := Detect(img, Constant(0.8), DetectOptions{NPixels: 5})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	serial, err := Deblend(img, segm, DeblendOptions{NPixels: 5, Workers: 1})
	if err != nil {
		t.Fatalf("Deblend: %v", err)
	}
	parallel, err := Deblend(img, segm, DeblendOptions{NPixels: 5, Workers: 8})
	if err != nil {
		t.Fatalf("Deblend: %v", err)
	}
	if serial.NLabels != parallel.NLabels {
		t.Fatalf("NLabels differ: serial %d, parallel %d", serial.NLabels, parallel.NLabels)
	}
	for i := range serial.Labels {
		if serial.Labels[i] != parallel.Labels[i] {
			t.Fatalf("label mismatch at pixel %d", i)
		}
	}
}

func TestDeblendShapeMismatch(t *testing.T) {
	img, _ := frame.New(make([]float64, 100), 10, 10)
	other, _ := frame.New(make([]float64, 25), 5, 5)
	segm, err := Detect(other, Constant(1), DetectOptions{})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, err := Deblend(img, segm, DeblendOptions{}); err == nil {
		t.Error("expected shape mismatch error")
	}
}
