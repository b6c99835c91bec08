package visualization

import (
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"skyphot/pkg/aperture"
	"skyphot/pkg/frame"
	"skyphot/pkg/segmentation"
)

func testFrame(t *testing.T) *frame.Image {
	t.Helper()
	data := make([]float64, 32*24)
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			d := (float64(x)-16)*(float64(x)-16) + (float64(y)-12)*(float64(y)-12)
			data[y*32+x] = 100 * math.Exp(-d/18)
		}
	}
	img, err := frame.New(data, 32, 24)
	if err != nil {
		t.Fatalf("frame.New: %v", err)
	}
	return img
}

func TestGrayscaleStretch(t *testing.T) {
	img := testFrame(t)
	gray := NewRenderer(img).Grayscale()
	b := gray.Bounds()
	if b.Dx() != 32 || b.Dy() != 24 {
		t.Fatalf("render size %dx%d, want 32x24", b.Dx(), b.Dy())
	}
	// The bright center must render brighter than the faint corner.
	if gray.GrayAt(16, 12).Y <= gray.GrayAt(0, 0).Y {
		t.Error("peak pixel not brighter than the corner")
	}
}

func TestLabelColorsDistinct(t *testing.T) {
	colors := LabelColors(12)
	if len(colors) != 12 {
		t.Fatalf("got %d colors, want 12", len(colors))
	}
	for i := 0; i < len(colors); i++ {
		for j := i + 1; j < len(colors); j++ {
			if colors[i] == colors[j] {
				t.Errorf("colors %d and %d identical", i, j)
			}
		}
	}
}

func TestSegmentationOverlay(t *testing.T) {
	img := testFrame(t)
	segm, err := segmentation.Detect(img, segmentation.Constant(10), segmentation.DetectOptions{})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if segm.NLabels == 0 {
		t.Fatal("expected at least one segment")
	}
	overlay, err := NewRenderer(img).Segmentation(segm, 0.5)
	if err != nil {
		t.Fatalf("Segmentation: %v", err)
	}
	if overlay.Bounds().Dx() != 32 || overlay.Bounds().Dy() != 24 {
		t.Errorf("overlay size %v", overlay.Bounds())
	}

	other, _ := frame.New(make([]float64, 4), 2, 2)
	otherSegm, _ := segmentation.Detect(other, segmentation.Constant(1), segmentation.DetectOptions{})
	if _, err := NewRenderer(img).Segmentation(otherSegm, 0.5); err == nil {
		t.Error("expected shape mismatch error")
	}
}

func TestAperturesAndSavePNG(t *testing.T) {
	img := testFrame(t)
	base := NewRenderer(img).Grayscale()
	out := Apertures(base, []aperture.Aperture{
		aperture.Circular{X: 16, Y: 12, R: 5},
		aperture.Elliptical{X: 16, Y: 12, A: 8, B: 4, Theta: 0.5},
		aperture.Rectangular{X: 10, Y: 8, W: 6, H: 4, Theta: 0.2},
	}, color.RGBA{R: 255, A: 255})
	if out.Bounds() != base.Bounds() {
		t.Errorf("aperture overlay changed bounds: %v vs %v", out.Bounds(), base.Bounds())
	}

	path := filepath.Join(t.TempDir(), "render.png")
	if err := SavePNG(out, path); err != nil {
		t.Fatalf("SavePNG: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Fatalf("png not written: %v", err)
	}
}
