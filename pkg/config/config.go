// Package config provides configuration loading and management for skyphot.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Processing parameters shared by all engines
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel work
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Background estimation parameters
	Background struct {
		// BoxSize is the mesh cell size in pixels for the background map
		BoxSize int `yaml:"boxSize"`

		// ClipSigma is the sigma-clipping threshold for background statistics
		ClipSigma float64 `yaml:"clipSigma"`

		// ClipMaxIters bounds the clipping iterations
		ClipMaxIters int `yaml:"clipMaxIters"`
	} `yaml:"background"`

	// Detection parameters
	Detection struct {
		// NSigma sets the detection threshold at background + nsigma*rms
		NSigma float64 `yaml:"nsigma"`

		// NPixels is the minimum source size in pixels
		NPixels int `yaml:"npixels"`

		// Connectivity is 4 or 8
		Connectivity int `yaml:"connectivity"`

		// KernelFWHM smooths the detection image with a Gaussian of this
		// FWHM in pixels; 0 disables smoothing
		KernelFWHM float64 `yaml:"kernelFWHM"`
	} `yaml:"detection"`

	// Deblending parameters
	Deblend struct {
		// Enabled toggles deblending of merged sources
		Enabled bool `yaml:"enabled"`

		// NLevels is the number of multi-threshold levels per segment
		NLevels int `yaml:"nlevels"`

		// Contrast is the minimum flux fraction for a separate sub-peak
		Contrast float64 `yaml:"contrast"`
	} `yaml:"deblend"`

	// Photometry parameters
	Photometry struct {
		// Method is exact, center or subpixel
		Method string `yaml:"method"`

		// Subpixels is the subdivision factor for the subpixel method
		Subpixels int `yaml:"subpixels"`

		// ApertureScale scales the moment-derived elliptical apertures
		ApertureScale float64 `yaml:"apertureScale"`

		// Radii are additional fixed circular aperture radii measured at
		// every source centroid
		Radii []float64 `yaml:"radii"`
	} `yaml:"photometry"`

	// Output parameters
	Output struct {
		// Catalog is the CSV catalog path
		Catalog string `yaml:"catalog"`

		// RenderSegmentation saves the label-overlay PNG
		RenderSegmentation bool `yaml:"renderSegmentation"`

		// RenderApertures saves the aperture-outline PNG
		RenderApertures bool `yaml:"renderApertures"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()

	cfg.Background.BoxSize = 64
	cfg.Background.ClipSigma = 3.0
	cfg.Background.ClipMaxIters = 5

	cfg.Detection.NSigma = 2.0
	cfg.Detection.NPixels = 10
	cfg.Detection.Connectivity = 8
	cfg.Detection.KernelFWHM = 0

	cfg.Deblend.Enabled = true
	cfg.Deblend.NLevels = 32
	cfg.Deblend.Contrast = 0.001

	cfg.Photometry.Method = "exact"
	cfg.Photometry.Subpixels = 5
	cfg.Photometry.ApertureScale = 3.0
	cfg.Photometry.Radii = nil

	cfg.Output.Catalog = "catalog.csv"
	cfg.Output.RenderSegmentation = true
	cfg.Output.RenderApertures = true
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the
// specified path.
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate rejects option combinations the engines cannot honor.
func (cfg *Config) Validate() error {
	if cfg.Detection.Connectivity != 4 && cfg.Detection.Connectivity != 8 {
		return fmt.Errorf("config: connectivity must be 4 or 8, got %d", cfg.Detection.Connectivity)
	}
	switch cfg.Photometry.Method {
	case "exact", "center", "subpixel":
	default:
		return fmt.Errorf("config: unknown photometry method %q", cfg.Photometry.Method)
	}
	if cfg.Detection.NSigma <= 0 {
		return fmt.Errorf("config: detection nsigma must be positive, got %g", cfg.Detection.NSigma)
	}
	for _, r := range cfg.Photometry.Radii {
		if r <= 0 {
			return fmt.Errorf("config: aperture radius must be positive, got %g", r)
		}
	}
	return nil
}
