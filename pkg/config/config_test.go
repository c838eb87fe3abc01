package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wasp/pkg/mesh"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config is invalid: %v", err)
	}
	if cfg.Watershed.GradientSigma != 1.20 || cfg.Watershed.MinComponentSize != 10 {
		t.Errorf("Unexpected watershed defaults %+v", cfg.Watershed)
	}
	if cfg.Mesh.FilterType != mesh.FilterSinc || cfg.Mesh.Smooth != 65 {
		t.Errorf("Unexpected mesh defaults %+v", cfg.Mesh)
	}
	if time.Duration(cfg.Queue.PollInterval) != 10*time.Millisecond {
		t.Errorf("Unexpected poll interval %s", time.Duration(cfg.Queue.PollInterval))
	}

	p := cfg.SweepParams("ct")
	if p.InputVolume != "ct" || p.LevelEnd != 4.0 || !p.SaveGradient || !p.MarkWatershedLine {
		t.Errorf("Unexpected sweep params %+v", p)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Sweep params from defaults are invalid: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Watershed.LevelStep != 0.1 {
		t.Errorf("Expected defaults, got %+v", cfg.Watershed)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wasp.yaml")
	data := `
watershed:
  gradientSigma: 0.5
  levelEnd: 1.0
mesh:
  filterType: Laplace
  smooth: 5
queue:
  pollInterval: 25ms
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Watershed.GradientSigma != 0.5 || cfg.Watershed.LevelEnd != 1.0 {
		t.Errorf("Watershed not overridden: %+v", cfg.Watershed)
	}
	// Unset keys keep their defaults.
	if cfg.Watershed.LevelStart != 0.2 || !cfg.Watershed.MarkWatershedLine {
		t.Errorf("Defaults lost: %+v", cfg.Watershed)
	}
	if cfg.Mesh.FilterType != mesh.FilterLaplace || cfg.Mesh.Smooth != 5 || cfg.Mesh.Decimate != 0.25 {
		t.Errorf("Mesh not merged: %+v", cfg.Mesh)
	}
	if time.Duration(cfg.Queue.PollInterval) != 25*time.Millisecond {
		t.Errorf("Poll interval = %s", time.Duration(cfg.Queue.PollInterval))
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging level = %q", cfg.Logging.Level)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, name := range []string{"wasp.yaml", "wasp.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := DefaultConfig()
			cfg.Watershed.LevelStep = 0.25
			cfg.Mesh.OutputDir = "out/models"
			cfg.Mesh.SkipUnNamed = false
			cfg.Queue.PollInterval = Duration(time.Second)
			cfg.Output.PreviewDir = "preview"

			if err := SaveConfig(cfg, path); err != nil {
				t.Fatalf("SaveConfig failed: %v", err)
			}
			loaded, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig failed: %v", err)
			}
			if loaded.Watershed != cfg.Watershed {
				t.Errorf("Watershed = %+v, want %+v", loaded.Watershed, cfg.Watershed)
			}
			if loaded.Mesh != cfg.Mesh {
				t.Errorf("Mesh = %+v, want %+v", loaded.Mesh, cfg.Mesh)
			}
			if loaded.Queue != cfg.Queue || loaded.Output != cfg.Output || loaded.Logging != cfg.Logging {
				t.Errorf("Loaded %+v, want %+v", loaded, cfg)
			}
		})
	}
}

func TestTOMLKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wasp.toml")
	data := `
[watershed]
gradient_sigma = 2.0
min_component_size = 0

[mesh]
filter_type = "Laplace"
output_dir = ""

[queue]
poll_interval = "5ms"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Watershed.GradientSigma != 2.0 || cfg.Watershed.MinComponentSize != 0 {
		t.Errorf("Unexpected watershed %+v", cfg.Watershed)
	}
	if cfg.Mesh.FilterType != mesh.FilterLaplace || cfg.Mesh.OutputDir != "" {
		t.Errorf("Unexpected mesh %+v", cfg.Mesh)
	}
	if time.Duration(cfg.Queue.PollInterval) != 5*time.Millisecond {
		t.Errorf("Poll interval = %s", time.Duration(cfg.Queue.PollInterval))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"sigma", func(c *Config) { c.Watershed.GradientSigma = 0 }, "gradientSigma"},
		{"step", func(c *Config) { c.Watershed.LevelStep = -0.1 }, "levelStep"},
		{"min size", func(c *Config) { c.Watershed.MinComponentSize = -1 }, "minComponentSize"},
		{"reversed levels", func(c *Config) { c.Watershed.LevelEnd = 0.1 }, "levels"},
		{"decimate", func(c *Config) { c.Mesh.Decimate = 1 }, "mesh"},
		{"poll interval", func(c *Config) { c.Queue.PollInterval = 0 }, "pollInterval"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	for name, data := range map[string]string{
		"bad.yaml": "watershed: [unterminated",
		"bad.toml": "[watershed\n",
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Errorf("%s: expected a parse error", name)
		}
	}
}
