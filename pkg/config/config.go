// Package config provides configuration loading and management for wasp.
// It handles loading configuration from YAML or TOML files and provides
// default values.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"wasp/pkg/colortable"
	"wasp/pkg/events"
	"wasp/pkg/logging"
	"wasp/pkg/mesh"
	"wasp/pkg/sweep"
)

// Duration is a time.Duration written as text ("10ms") in config files.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config represents the application configuration
type Config struct {
	// Watershed sweep parameters
	Watershed struct {
		// GradientSigma is the Gaussian sigma in mm of the feature image
		GradientSigma float64 `yaml:"gradientSigma" toml:"gradient_sigma"`

		// LevelStart, LevelEnd and LevelStep define the swept levels
		LevelStart float64 `yaml:"levelStart" toml:"level_start"`
		LevelEnd   float64 `yaml:"levelEnd" toml:"level_end"`
		LevelStep  float64 `yaml:"levelStep" toml:"level_step"`

		// MinComponentSize drops smaller regions after each level
		MinComponentSize int `yaml:"minComponentSize" toml:"min_component_size"`

		MarkWatershedLine bool `yaml:"markWatershedLine" toml:"mark_watershed_line"`
		FullyConnected    bool `yaml:"fullyConnected" toml:"fully_connected"`
	} `yaml:"watershed" toml:"watershed"`

	// Model generation run after a merge
	Mesh struct {
		mesh.Params `yaml:",inline"`

		// OutputDir receives the STL files; empty disables model generation
		OutputDir string `yaml:"outputDir" toml:"output_dir"`
	} `yaml:"mesh" toml:"mesh"`

	// Queue controls the UI drain loop
	Queue struct {
		// PollInterval is the pause between drain cycles
		PollInterval Duration `yaml:"pollInterval" toml:"poll_interval"`
	} `yaml:"queue" toml:"queue"`

	Logging logging.Options `yaml:"logging" toml:"logging"`

	// Output parameters
	Output struct {
		// SaveGradient stores the gradient image as its own volume
		SaveGradient bool `yaml:"saveGradient" toml:"save_gradient"`

		// PreviewDir receives PNG slices of results when set
		PreviewDir string `yaml:"previewDir" toml:"preview_dir"`

		// ColorTableName names the tables attached to merged volumes
		ColorTableName string `yaml:"colorTableName" toml:"color_table_name"`
	} `yaml:"output" toml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Watershed.GradientSigma = 1.20
	cfg.Watershed.LevelStart = 0.2
	cfg.Watershed.LevelEnd = 4.0
	cfg.Watershed.LevelStep = 0.1
	cfg.Watershed.MinComponentSize = 10
	cfg.Watershed.MarkWatershedLine = true
	cfg.Watershed.FullyConnected = false

	cfg.Mesh.Params = mesh.DefaultParams()
	cfg.Mesh.OutputDir = "models"

	cfg.Queue.PollInterval = Duration(events.DefaultPollInterval)

	cfg.Logging.Level = "info"
	cfg.Logging.MaxSize = 100
	cfg.Logging.MaxAge = 30

	cfg.Output.SaveGradient = true
	cfg.Output.ColorTableName = colortable.DefaultName

	return cfg
}

// Validate checks the values a run depends on.
func (c *Config) Validate() error {
	if c.Watershed.GradientSigma <= 0 {
		return fmt.Errorf("watershed.gradientSigma must be positive, got %g", c.Watershed.GradientSigma)
	}
	if c.Watershed.LevelStep <= 0 {
		return fmt.Errorf("watershed.levelStep must be positive, got %g", c.Watershed.LevelStep)
	}
	if c.Watershed.MinComponentSize < 0 {
		return fmt.Errorf("watershed.minComponentSize must not be negative, got %d", c.Watershed.MinComponentSize)
	}
	if _, err := sweep.Levels(c.Watershed.LevelStart, c.Watershed.LevelEnd, c.Watershed.LevelStep); err != nil {
		return fmt.Errorf("watershed levels: %w", err)
	}
	if err := c.Mesh.Params.Validate(); err != nil {
		return fmt.Errorf("mesh: %w", err)
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue.pollInterval must be positive, got %s", time.Duration(c.Queue.PollInterval))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// SweepParams returns the sweep parameters for input.
func (c *Config) SweepParams(input string) sweep.Params {
	return sweep.Params{
		InputVolume:       input,
		GradientSigma:     c.Watershed.GradientSigma,
		LevelStart:        c.Watershed.LevelStart,
		LevelEnd:          c.Watershed.LevelEnd,
		LevelStep:         c.Watershed.LevelStep,
		MinComponentSize:  c.Watershed.MinComponentSize,
		MarkWatershedLine: c.Watershed.MarkWatershedLine,
		FullyConnected:    c.Watershed.FullyConnected,
		SaveGradient:      c.Output.SaveGradient,
	}
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML or, for a .toml extension, a
// TOML file. If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	if isTOML(configPath) {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
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

// SaveConfig saves the configuration, in TOML when the path ends in .toml
// and YAML otherwise
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
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
