package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"osemrecon/internal/logger"
	"osemrecon/pkg/config"
	"osemrecon/pkg/metrics"
	"osemrecon/pkg/phantom"
	"osemrecon/pkg/projector"
	"osemrecon/pkg/reconstruction"
	"osemrecon/pkg/visualization"
	"osemrecon/pkg/volume"
)

func main() {
	configPath := flag.String("config", "osemrecon.yaml", "YAML configuration file (defaults are used if it does not exist)")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	algorithm := flag.String("algorithm", "", "Reconstruction algorithm: osem or mlem")
	iterations := flag.Int("iterations", 0, "Number of full passes over all subsets")
	subsets := flag.Int("subsets", 0, "Number of ordered subsets")
	outputDir := flag.String("output", "", "Directory for the reconstructed volume")
	extractSlices := flag.Bool("extract-slices", false, "Save JPEG slices of the reconstruction along all axes")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn or error")
	flag.Parse()

	log := logger.NewConsoleLogger(zerolog.InfoLevel)

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Error("config", err, map[string]interface{}{"path": *configPath})
			os.Exit(1)
		}
		log.Info("config", "default configuration written", map[string]interface{}{"path": *configPath})
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Error("config", err, map[string]interface{}{"path": *configPath})
		os.Exit(1)
	}

	// Only flags given on the command line override the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "algorithm":
			cfg.Reconstruction.Algorithm = *algorithm
		case "iterations":
			cfg.Reconstruction.Iterations = *iterations
		case "subsets":
			cfg.Reconstruction.Subsets = *subsets
		case "output":
			cfg.Output.Dir = *outputDir
		case "extract-slices":
			cfg.Output.ExtractSlices = *extractSlices
		case "log-level":
			cfg.Output.LogLevel = *logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		log.Error("config", err, nil)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.Output.LogLevel)
	if err != nil {
		log.Error("config", err, map[string]interface{}{"logLevel": cfg.Output.LogLevel})
		os.Exit(1)
	}
	log = logger.NewConsoleLogger(level).With("run_id", uuid.NewString())

	startTime := time.Now()
	if err := run(cfg, log); err != nil {
		log.Error("osemrecon", err, nil)
		os.Exit(1)
	}
	log.Info("osemrecon", "study completed", map[string]interface{}{
		"seconds": time.Since(startTime).Seconds(),
		"output":  cfg.Output.Dir,
	})
}

// run simulates an acquisition of the default phantom, reconstructs it and
// writes the result.
func run(cfg *config.Config, log *logger.ZerologAdapter) error {
	bins := cfg.Scanner.Bins
	if bins == 0 {
		bins = projector.DefaultBins(cfg.Phantom.Width, cfg.Phantom.Height)
	}
	geom := projector.Geometry{
		Width:  cfg.Phantom.Width,
		Height: cfg.Phantom.Height,
		Slices: cfg.Phantom.Slices,
		Views:  cfg.Scanner.Views,
		Bins:   bins,
	}

	truth, err := phantom.Default(geom.ImageDims())
	if err != nil {
		return fmt.Errorf("failed to build phantom: %w", err)
	}

	model, err := projector.New(geom, cfg.Reconstruction.Subsets)
	if err != nil {
		return fmt.Errorf("failed to build projector: %w", err)
	}
	log.Debug("projector", "system matrix built", map[string]interface{}{
		"image":   geom.ImageDims().String(),
		"data":    geom.DataDims().String(),
		"subsets": model.NumSubsets(),
	})

	sim, err := phantom.Simulate(model, truth, phantom.SimOptions{
		CountScale: cfg.Simulation.CountScale,
		Background: cfg.Simulation.Background,
		Noise:      cfg.Simulation.Noise,
		Seed:       cfg.Simulation.Seed,
	})
	if err != nil {
		return fmt.Errorf("failed to simulate data: %w", err)
	}
	if err := model.SetBackground(sim.Background); err != nil {
		return err
	}
	log.Info("simulation", "acquired data simulated", map[string]interface{}{
		"total_counts": sim.Data.Sum(),
		"noise":        cfg.Simulation.Noise,
		"seed":         cfg.Simulation.Seed,
	})

	reconstruct := reconstruction.OSEM
	if cfg.Reconstruction.Algorithm == config.AlgorithmMLEM {
		reconstruct = reconstruction.MLEM
	}

	initial := truth.UniformCopy(cfg.Reconstruction.InitialValue)
	reconStart := time.Now()
	estimate, err := reconstruct(sim.Data, model, initial, cfg.Reconstruction.Iterations)
	if err != nil {
		return fmt.Errorf("reconstruction failed: %w", err)
	}
	log.Info("reconstruction", "reconstruction finished", map[string]interface{}{
		"algorithm":  cfg.Reconstruction.Algorithm,
		"iterations": cfg.Reconstruction.Iterations,
		"subsets":    model.NumSubsets(),
		"seconds":    time.Since(reconStart).Seconds(),
	})

	// Back from expected counts to phantom activity units
	estimate.Scale(1 / cfg.Simulation.CountScale)

	report, err := metrics.Evaluate(truth, estimate)
	if err != nil {
		return fmt.Errorf("failed to evaluate reconstruction: %w", err)
	}
	log.Info("metrics", "image quality against phantom", map[string]interface{}{
		"rmse":        report.RMSE,
		"nrmse":       report.NRMSE,
		"ssim":        report.SSIM,
		"correlation": report.Correlation,
		"mean_bias":   report.MeanBias,
	})

	if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for name, vol := range map[string]*volume.Volume{"reconstruction.raw": estimate, "phantom.raw": truth} {
		path := filepath.Join(cfg.Output.Dir, name)
		if err := writeRawFile(path, vol); err != nil {
			return err
		}
		log.Debug("output", "volume written", map[string]interface{}{"path": path, "dims": vol.Dims().String()})
	}

	if cfg.Output.ExtractSlices {
		viewer := visualization.NewViewer(estimate)
		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(cfg.Output.Dir, "slices", axis)
			if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
				log.Warning("output", "failed to save slices", map[string]interface{}{"axis": axis, "error": err.Error()})
				continue
			}
			log.Info("output", "slices saved", map[string]interface{}{"axis": axis, "dir": axisDir})
		}
	}

	return nil
}

func writeRawFile(path string, vol *volume.Volume) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	if err := vol.WriteRaw(file); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return file.Close()
}
