// Package config provides configuration loading and management for voxview.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"voxview/internal/models"
	"voxview/pkg/decoder"
	"voxview/pkg/listing"
	"voxview/pkg/visualization"
)

// Shape is a volume size as written in YAML
type Shape struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
	Z int `yaml:"z"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Decoding parameters
	Decoding struct {
		// ExtraShapes are tried after the built-in common shapes for
		// headerless raw files
		ExtraShapes []Shape `yaml:"extraShapes,omitempty"`

		// HDF5Keys are the dataset names tried in HDF5 containers
		HDF5Keys []string `yaml:"hdf5Keys"`

		// DICOMWorkers bounds how many series files are parsed at once
		DICOMWorkers int `yaml:"dicomWorkers"`
	} `yaml:"decoding"`

	// Display parameters
	Display struct {
		// Orientation is the initial viewing plane: axial, coronal or sagittal
		Orientation string `yaml:"orientation"`

		FlipX bool `yaml:"flipX"`

		// FlipY overrides the per-orientation default when set
		FlipY *bool `yaml:"flipY,omitempty"`

		// Autoscale maps each slice's range onto the full gray range
		Autoscale bool `yaml:"autoscale"`

		// ApplyAspect stretches slices by the volume's voxel spacing
		ApplyAspect bool `yaml:"applyAspect"`

		// Colormap is gray, viridis, blackbody or coolwarm
		Colormap string `yaml:"colormap"`

		Colorbar bool `yaml:"colorbar"`
	} `yaml:"display"`

	// Listing parameters
	Listing struct {
		Recursive  bool     `yaml:"recursive"`
		IgnoreDirs []string `yaml:"ignoreDirs"`
	} `yaml:"listing"`

	// Server parameters
	Server struct {
		// Addr is the listen address of the HTTP server
		Addr string `yaml:"addr"`

		// Root is the directory volumes are served from
		Root string `yaml:"root"`
	} `yaml:"server"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default decoding parameters
	cfg.Decoding.HDF5Keys = append([]string(nil), decoder.DefaultHDF5Keys...)
	cfg.Decoding.DICOMWorkers = runtime.NumCPU() // Use all available cores by default

	// Set default display parameters
	cfg.Display.Orientation = models.Axial.String()
	cfg.Display.Autoscale = true
	cfg.Display.ApplyAspect = true
	cfg.Display.Colormap = visualization.Viridis

	// Set default listing parameters
	cfg.Listing.Recursive = true
	cfg.Listing.IgnoreDirs = append([]string(nil), listing.DefaultIgnoreDirs...)

	// Set default server parameters
	cfg.Server.Addr = ":8080"
	cfg.Server.Root = "."

	cfg.Output.Verbose = false

	return cfg
}

// Validate checks values that cannot be corrected silently
func (c *Config) Validate() error {
	if _, err := models.ParseOrientation(c.Display.Orientation); err != nil {
		return fmt.Errorf("display: %w", err)
	}
	if !visualization.ValidColormap(c.Display.Colormap) {
		return fmt.Errorf("display: unknown colormap %q", c.Display.Colormap)
	}
	for i, s := range c.Decoding.ExtraShapes {
		if !(models.Size{X: s.X, Y: s.Y, Z: s.Z}).Valid() {
			return fmt.Errorf("decoding: extraShapes[%d] (%d,%d,%d) must be positive", i, s.X, s.Y, s.Z)
		}
	}
	if c.Decoding.DICOMWorkers < 0 {
		return fmt.Errorf("decoding: dicomWorkers must not be negative")
	}
	return nil
}

// DecoderOptions converts the decoding section for decoder.Default
func (c *Config) DecoderOptions(logger *slog.Logger) decoder.Options {
	shapes := make([]models.Size, len(c.Decoding.ExtraShapes))
	for i, s := range c.Decoding.ExtraShapes {
		shapes[i] = models.Size{X: s.X, Y: s.Y, Z: s.Z}
	}
	return decoder.Options{
		ExtraShapes:  shapes,
		HDF5Keys:     c.Decoding.HDF5Keys,
		DICOMWorkers: c.Decoding.DICOMWorkers,
		Logger:       logger,
	}
}

// ListingOptions converts the listing section
func (c *Config) ListingOptions(logger *slog.Logger) listing.Options {
	return listing.Options{
		Recursive:  c.Listing.Recursive,
		IgnoreDirs: c.Listing.IgnoreDirs,
		Logger:     logger,
	}
}

// RenderOptions returns the display settings for orientation o. The
// aspect ratio is filled in by the caller once a volume is loaded.
func (c *Config) RenderOptions(o models.Orientation) visualization.RenderOptions {
	opts := visualization.DefaultRenderOptions(o)
	opts.FlipX = c.Display.FlipX
	if c.Display.FlipY != nil {
		opts.FlipY = *c.Display.FlipY
	}
	opts.Autoscale = c.Display.Autoscale
	opts.Colormap = c.Display.Colormap
	opts.Colorbar = c.Display.Colorbar
	return opts
}

// LogLevel maps output.verbose to a slog level
func (c *Config) LogLevel() slog.Level {
	if c.Output.Verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
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
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
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
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
