// Package pipeline orchestrates the full measurement run: load an image,
// estimate the background, detect and deblend sources, build the catalog,
// measure aperture photometry, and write the catalog plus rendered
// inspection images. Detection thresholds on background + nsigma*rms;
// everything downstream (deblending, catalog, photometry) runs on the
// background-subtracted frame so reported fluxes exclude the sky.
package pipeline

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"skyphot/pkg/aperture"
	"skyphot/pkg/background"
	"skyphot/pkg/catalog"
	"skyphot/pkg/config"
	"skyphot/pkg/frame"
	"skyphot/pkg/segmentation"
	"skyphot/pkg/visualization"
)

// Params holds the pipeline inputs.
type Params struct {
	// InputPath is the image to measure.
	InputPath string

	// OutputDir receives the catalog CSV and rendered PNGs.
	OutputDir string

	// Config carries all engine options.
	Config *config.Config
}

// Summary reports what a completed run produced.
type Summary struct {
	// NDetected is the source count before deblending.
	NDetected int

	// NSources is the final source count.
	NSources int

	// BackgroundMedian and BackgroundRMS are the global sky statistics.
	BackgroundMedian float64
	BackgroundRMS    float64

	// CatalogPath is the CSV file written.
	CatalogPath string
}

// Pipeline runs the measurement stages in order, holding the intermediate
// products so callers can inspect them after Run.
type Pipeline struct {
	params *Params

	img     *frame.Image
	sub     *frame.Image
	bkg     *background.Map
	segm    *segmentation.Map
	cat     *catalog.Catalog
	results []aperture.Result
	summary Summary
}

// New creates a pipeline for the given parameters.
func New(params *Params) *Pipeline {
	return &Pipeline{params: params}
}

// Image returns the loaded frame, available after Run.
func (p *Pipeline) Image() *frame.Image { return p.img }

// Subtracted returns the background-subtracted frame, available after Run.
func (p *Pipeline) Subtracted() *frame.Image { return p.sub }

// Segmentation returns the final segmentation map, available after Run.
func (p *Pipeline) Segmentation() *segmentation.Map { return p.segm }

// Catalog returns the source catalog, available after Run.
func (p *Pipeline) Catalog() *catalog.Catalog { return p.cat }

// Results returns the per-aperture photometry, available after Run.
func (p *Pipeline) Results() []aperture.Result { return p.results }

// Summary returns the run summary, available after Run.
func (p *Pipeline) Summary() Summary { return p.summary }

// Run executes the pipeline.
func (p *Pipeline) Run() error {
	cfg := p.params.Config

	if err := p.load(); err != nil {
		return err
	}
	if err := os.MkdirAll(p.params.OutputDir, 0755); err != nil {
		return fmt.Errorf("pipeline: creating output directory: %w", err)
	}

	bkg, err := background.Estimate(p.img, background.Options{
		BoxSize: cfg.Background.BoxSize,
		Clip: background.ClipOptions{
			Sigma:    cfg.Background.ClipSigma,
			MaxIters: cfg.Background.ClipMaxIters,
		},
	})
	if err != nil {
		return fmt.Errorf("pipeline: background estimation: %w", err)
	}
	p.bkg = bkg

	sub, err := bkg.Subtract(p.img)
	if err != nil {
		return fmt.Errorf("pipeline: background subtraction: %w", err)
	}
	p.sub = sub

	stats := background.ImageStats(p.img, background.ClipOptions{
		Sigma:    cfg.Background.ClipSigma,
		MaxIters: cfg.Background.ClipMaxIters,
	})
	p.summary.BackgroundMedian = stats.Median
	p.summary.BackgroundRMS = stats.StdDev

	detectOpts := segmentation.DetectOptions{
		NPixels:      cfg.Detection.NPixels,
		Connectivity: segmentation.Connectivity(cfg.Detection.Connectivity),
	}
	if cfg.Detection.KernelFWHM > 0 {
		kernel, err := segmentation.GaussianKernel(cfg.Detection.KernelFWHM, 0)
		if err != nil {
			return fmt.Errorf("pipeline: detection kernel: %w", err)
		}
		detectOpts.Kernel = kernel
	}
	threshold := segmentation.PerPixel(bkg.Threshold(cfg.Detection.NSigma))
	segm, err := segmentation.Detect(p.img, threshold, detectOpts)
	if err != nil {
		return fmt.Errorf("pipeline: detection: %w", err)
	}
	p.summary.NDetected = segm.NLabels

	if cfg.Deblend.Enabled && segm.NLabels > 0 {
		segm, err = segmentation.Deblend(p.sub, segm, segmentation.DeblendOptions{
			NPixels:      cfg.Detection.NPixels,
			NLevels:      cfg.Deblend.NLevels,
			Contrast:     cfg.Deblend.Contrast,
			Connectivity: segmentation.Connectivity(cfg.Detection.Connectivity),
			Workers:      cfg.Processing.NumCores,
		})
		if err != nil {
			return fmt.Errorf("pipeline: deblending: %w", err)
		}
	}
	p.segm = segm
	p.summary.NSources = segm.NLabels

	cat, err := catalog.Build(p.sub, segm, catalog.Options{})
	if err != nil {
		return fmt.Errorf("pipeline: catalog: %w", err)
	}
	p.cat = cat

	if err := p.measure(); err != nil {
		return err
	}
	if err := p.writeCatalog(); err != nil {
		return err
	}
	return p.render()
}

// load decodes the input image into a float frame. Any format the imaging
// library understands works; color input collapses to luminance.
func (p *Pipeline) load() error {
	src, err := imaging.Open(p.params.InputPath)
	if err != nil {
		return fmt.Errorf("pipeline: opening %s: %w", p.params.InputPath, err)
	}
	gray := imaging.Grayscale(src)
	b := gray.Bounds()
	width, height := b.Dx(), b.Dy()
	data := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, _, _, _ := gray.At(b.Min.X+x, b.Min.Y+y).RGBA()
			data[y*width+x] = float64(r) / 65535
		}
	}
	img, err := frame.New(data, width, height)
	if err != nil {
		return fmt.Errorf("pipeline: building frame: %w", err)
	}
	p.img = img
	return nil
}

// measure runs aperture photometry on the moment-derived elliptical
// apertures plus any configured fixed circular radii at every centroid.
func (p *Pipeline) measure() error {
	cfg := p.params.Config
	method, err := aperture.ParseMethod(cfg.Photometry.Method)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	ellipses, err := p.cat.EllipticalApertures(cfg.Photometry.ApertureScale)
	if err != nil {
		return fmt.Errorf("pipeline: deriving apertures: %w", err)
	}
	apertures := make([]aperture.Aperture, 0, len(ellipses)*(1+len(cfg.Photometry.Radii)))
	for _, e := range ellipses {
		apertures = append(apertures, e)
		for _, r := range cfg.Photometry.Radii {
			apertures = append(apertures, aperture.Circular{X: e.X, Y: e.Y, R: r})
		}
	}

	results, err := aperture.Measure(p.sub, apertures, aperture.Options{
		Method:    method,
		Subpixels: cfg.Photometry.Subpixels,
		Workers:   cfg.Processing.NumCores,
	})
	if err != nil {
		return fmt.Errorf("pipeline: photometry: %w", err)
	}
	p.results = results
	return nil
}

func (p *Pipeline) writeCatalog() error {
	table, err := p.cat.Table()
	if err != nil {
		return fmt.Errorf("pipeline: building table: %w", err)
	}
	path := filepath.Join(p.params.OutputDir, p.params.Config.Output.Catalog)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pipeline: creating %s: %w", path, err)
	}
	defer file.Close()
	if err := table.WriteCSV(file); err != nil {
		return err
	}
	p.summary.CatalogPath = path
	return nil
}

func (p *Pipeline) render() error {
	cfg := p.params.Config
	renderer := visualization.NewRenderer(p.img)

	if cfg.Output.RenderSegmentation {
		overlay, err := renderer.Segmentation(p.segm, 0.5)
		if err != nil {
			return fmt.Errorf("pipeline: rendering segmentation: %w", err)
		}
		path := filepath.Join(p.params.OutputDir, "segmentation.png")
		if err := visualization.SavePNG(overlay, path); err != nil {
			return err
		}
	}

	if cfg.Output.RenderApertures {
		ellipses, err := p.cat.EllipticalApertures(cfg.Photometry.ApertureScale)
		if err != nil {
			return fmt.Errorf("pipeline: deriving apertures: %w", err)
		}
		apertures := make([]aperture.Aperture, len(ellipses))
		for i, e := range ellipses {
			apertures[i] = e
		}
		out := visualization.Apertures(renderer.Grayscale(), apertures,
			color.RGBA{R: 255, G: 80, B: 80, A: 255})
		path := filepath.Join(p.params.OutputDir, "apertures.png")
		if err := visualization.SavePNG(out, path); err != nil {
			return err
		}
	}
	return nil
}
