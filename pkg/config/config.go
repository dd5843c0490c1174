// Package config provides configuration loading and management for osemrecon.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported reconstruction algorithms
const (
	AlgorithmOSEM = "osem"
	AlgorithmMLEM = "mlem"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Reconstruction parameters
	Reconstruction struct {
		// Algorithm is either "osem" or "mlem"
		Algorithm string `yaml:"algorithm"`

		// Iterations is the number of full passes over all subsets
		Iterations int `yaml:"iterations"`

		// Subsets is the number of ordered subsets the views are split into
		Subsets int `yaml:"subsets"`

		// InitialValue fills the uniform starting image
		InitialValue float64 `yaml:"initialValue"`
	} `yaml:"reconstruction"`

	// Phantom (image grid) parameters
	Phantom struct {
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
		Slices int `yaml:"slices"`
	} `yaml:"phantom"`

	// Scanner parameters
	Scanner struct {
		// Views is the number of projection angles over 180 degrees
		Views int `yaml:"views"`

		// Bins is the number of detector bins per view; 0 picks a width
		// covering the image diagonal
		Bins int `yaml:"bins"`
	} `yaml:"scanner"`

	// Simulation parameters
	Simulation struct {
		CountScale float64 `yaml:"countScale"`
		Background float64 `yaml:"background"`
		Noise      bool    `yaml:"noise"`
		Seed       uint64  `yaml:"seed"`
	} `yaml:"simulation"`

	// Output parameters
	Output struct {
		// Dir receives the reconstructed volume and any extracted slices
		Dir string `yaml:"dir"`

		// ExtractSlices saves JPEG slices of the reconstruction along each axis
		ExtractSlices bool `yaml:"extractSlices"`

		// LogLevel is a zerolog level name (debug, info, warn, error)
		LogLevel string `yaml:"logLevel"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Reconstruction.Algorithm = AlgorithmOSEM
	cfg.Reconstruction.Iterations = 4
	cfg.Reconstruction.Subsets = 6
	cfg.Reconstruction.InitialValue = 1.0

	cfg.Phantom.Width = 32
	cfg.Phantom.Height = 32
	cfg.Phantom.Slices = 4

	cfg.Scanner.Views = 36
	cfg.Scanner.Bins = 0

	cfg.Simulation.CountScale = 10.0
	cfg.Simulation.Background = 0.5
	cfg.Simulation.Noise = true
	cfg.Simulation.Seed = 1

	cfg.Output.Dir = "osem_output"
	cfg.Output.ExtractSlices = false
	cfg.Output.LogLevel = "info"

	return cfg
}

// Validate checks that the configuration describes a runnable study
func (c *Config) Validate() error {
	var problems []string

	switch c.Reconstruction.Algorithm {
	case AlgorithmOSEM, AlgorithmMLEM:
	default:
		problems = append(problems, fmt.Sprintf("unknown algorithm %q", c.Reconstruction.Algorithm))
	}
	if c.Reconstruction.Iterations < 0 {
		problems = append(problems, "iterations must be non-negative")
	}
	if c.Reconstruction.Subsets < 1 {
		problems = append(problems, "subsets must be at least 1")
	}
	if c.Reconstruction.InitialValue <= 0 {
		problems = append(problems, "initialValue must be positive")
	}
	if c.Phantom.Width <= 0 || c.Phantom.Height <= 0 || c.Phantom.Slices <= 0 {
		problems = append(problems, "phantom dimensions must be positive")
	}
	if c.Scanner.Views <= 0 {
		problems = append(problems, "views must be positive")
	} else if c.Reconstruction.Subsets > c.Scanner.Views {
		problems = append(problems, fmt.Sprintf("subsets (%d) cannot exceed views (%d)", c.Reconstruction.Subsets, c.Scanner.Views))
	}
	if c.Scanner.Bins < 0 {
		problems = append(problems, "bins must be non-negative")
	}
	if c.Simulation.CountScale <= 0 {
		problems = append(problems, "countScale must be positive")
	}
	if c.Simulation.Background < 0 {
		problems = append(problems, "background must be non-negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
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

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
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

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
