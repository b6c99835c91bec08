package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Processing.NumCores < 1 {
		t.Error("default NumCores should be at least 1")
	}
	if cfg.Detection.Connectivity != 8 {
		t.Errorf("default connectivity = %d, want 8", cfg.Detection.Connectivity)
	}
	if cfg.Photometry.Method != "exact" {
		t.Errorf("default method = %q, want exact", cfg.Photometry.Method)
	}
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	def := DefaultConfig()
	if cfg.Detection.NSigma != def.Detection.NSigma {
		t.Errorf("missing file should yield defaults, got nsigma %v", cfg.Detection.NSigma)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detection.NSigma = 3.5
	cfg.Detection.NPixels = 25
	cfg.Deblend.Contrast = 0.01
	cfg.Photometry.Method = "subpixel"
	cfg.Photometry.Radii = []float64{3, 5, 8}

	path := filepath.Join(t.TempDir(), "sub", "skyphot.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Detection.NSigma != 3.5 || loaded.Detection.NPixels != 25 {
		t.Errorf("detection settings lost: %+v", loaded.Detection)
	}
	if loaded.Deblend.Contrast != 0.01 {
		t.Errorf("contrast = %v, want 0.01", loaded.Deblend.Contrast)
	}
	if loaded.Photometry.Method != "subpixel" || len(loaded.Photometry.Radii) != 3 {
		t.Errorf("photometry settings lost: %+v", loaded.Photometry)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad connectivity", "detection:\n  connectivity: 6\n"},
		{"bad method", "photometry:\n  method: fancy\n"},
		{"bad nsigma", "detection:\n  nsigma: -1\n"},
		{"bad radius", "photometry:\n  radii: [2, -3]\n"},
	}
	for _, c := range cases {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte(c.yaml), 0644); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("round-tripped default config invalid: %v", err)
	}
}
