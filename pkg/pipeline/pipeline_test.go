package pipeline

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"skyphot/pkg/config"
)

// writeScenePNG renders a flat sky plus one Gaussian source to a grayscale
// PNG and returns its path.
func writeScenePNG(t *testing.T) string {
	t.Helper()
	const width, height = 64, 64
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			d := (float64(x)-32)*(float64(x)-32) + (float64(y)-30)*(float64(y)-30)
			v := 40 + 215*math.Exp(-d/8)
			if v > 255 {
				v = 255
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	path := filepath.Join(t.TempDir(), "scene.png")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating scene: %v", err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		t.Fatalf("encoding scene: %v", err)
	}
	return path
}

func TestRunMeasuresBackgroundSubtractedFluxes(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Background.BoxSize = 16
	cfg.Detection.NPixels = 5
	cfg.Output.Verbose = false

	outDir := t.TempDir()
	p := New(&Params{
		InputPath: writeScenePNG(t),
		OutputDir: outDir,
		Config:    cfg,
	})
	if err := p.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	s := p.Summary()
	if s.NSources != 1 {
		t.Fatalf("NSources = %d, want 1", s.NSources)
	}
	for _, name := range []string{cfg.Output.Catalog, "segmentation.png", "apertures.png"} {
		info, err := os.Stat(filepath.Join(outDir, name))
		if err != nil || info.Size() == 0 {
			t.Errorf("output %s not written: %v", name, err)
		}
	}

	src, err := p.Catalog().Source(1)
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	var rawFlux float64
	for i, l := range p.Segmentation().Labels {
		if l == 1 {
			rawFlux += p.Image().Data[i]
		}
	}
	if src.Flux() <= 0 {
		t.Errorf("flux = %v, want positive", src.Flux())
	}
	// Catalog fluxes come from the background-subtracted frame, so the sky
	// pedestal under the segment must be gone.
	if src.Flux() >= rawFlux {
		t.Errorf("flux %v not below raw segment sum %v; background not subtracted", src.Flux(), rawFlux)
	}

	// A sky pixel far from the source subtracts to roughly zero.
	sub := p.Subtracted()
	if corner := sub.Data[0]; math.Abs(corner) > 0.05 {
		t.Errorf("subtracted sky corner = %v, want ~0", corner)
	}

	if len(p.Results()) != p.Catalog().Len() {
		t.Errorf("got %d photometry results for %d sources", len(p.Results()), p.Catalog().Len())
	}
}
