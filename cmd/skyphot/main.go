package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"skyphot/pkg/config"
	"skyphot/pkg/pipeline"
)

func main() {
	inputPath := flag.String("input", "", "Input image to measure")
	configPath := flag.String("config", "skyphot.yaml", "YAML configuration file")
	outputDir := flag.String("out", "skyphot_output", "Output directory for catalog and renders")
	render := flag.Bool("render", true, "Write segmentation and aperture PNGs")
	cores := flag.Int("cores", 0, "Number of CPU cores to use (0 = config value)")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	if *inputPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *cores > 0 {
		cfg.Processing.NumCores = *cores
	}
	if !*render {
		cfg.Output.RenderSegmentation = false
		cfg.Output.RenderApertures = false
	}

	p := pipeline.New(&pipeline.Params{
		InputPath: *inputPath,
		OutputDir: *outputDir,
		Config:    cfg,
	})

	if cfg.Output.Verbose {
		fmt.Printf("Measuring %s\n", *inputPath)
	}
	startTime := time.Now()
	if err := p.Run(); err != nil {
		log.Fatalf("Pipeline failed: %v", err)
	}
	elapsed := time.Since(startTime)

	s := p.Summary()
	fmt.Printf("Completed in %.2f seconds\n", elapsed.Seconds())
	fmt.Printf("Background: median %.4g, rms %.4g\n", s.BackgroundMedian, s.BackgroundRMS)
	fmt.Printf("Detected %d segments", s.NDetected)
	if s.NSources != s.NDetected {
		fmt.Printf(" (%d after deblending)", s.NSources)
	}
	fmt.Println()
	fmt.Printf("Catalog written to %s\n", s.CatalogPath)

	if cfg.Output.Verbose && p.Catalog().Len() > 0 {
		table, err := p.Catalog().Table("label", "xcentroid", "ycentroid", "area", "flux")
		if err != nil {
			log.Fatalf("Failed to build summary table: %v", err)
		}
		fmt.Println("\nlabel    xcentroid    ycentroid    area    flux")
		for _, row := range table.Rows {
			fmt.Printf("%-8s %-12s %-12s %-7s %s\n", row[0], row[1], row[2], row[3], row[4])
		}
	}
}
