// Package config loads and persists the driver's YAML configuration.
package config

import (
	"fmt"
	"os"

	"github.com/atomflow/atomflow/internal/runner"
	"gopkg.in/yaml.v3"
)

// Config is the file-backed configuration for the CLI and server.
type Config struct {
	Listen       string `yaml:"listen"`
	Model        string `yaml:"model"`
	InferenceURL string `yaml:"inference_url"`

	Opt OptDefaults `yaml:"opt"`
	MD  MDDefaults  `yaml:"md"`
}

// OptDefaults seeds optimization run specs.
type OptDefaults struct {
	Algorithm     string  `yaml:"algorithm"`
	Steps         int     `yaml:"steps"`
	Fmax          float64 `yaml:"fmax"`
	FrameInterval int     `yaml:"frame_interval"`
}

// MDDefaults seeds MD run specs.
type MDDefaults struct {
	Steps         int     `yaml:"steps"`
	TimeStep      float64 `yaml:"time_step"`
	Temperature   float64 `yaml:"temperature"`
	Friction      float64 `yaml:"friction"`
	FrameInterval int     `yaml:"frame_interval"`
}

// Default mirrors the host extension's defaults: LBFGS at fmax 0.05 for
// optimization, 0.5 fs Langevin at 300 K for MD.
func Default() *Config {
	opt := runner.DefaultOptSpec()
	md := runner.DefaultMDSpec()
	return &Config{
		Listen: ":8401",
		Model:  "lj",
		Opt: OptDefaults{
			Algorithm:     opt.Algorithm,
			Steps:         opt.Steps,
			Fmax:          opt.Fmax,
			FrameInterval: opt.FrameInterval,
		},
		MD: MDDefaults{
			Steps:         md.Steps,
			TimeStep:      md.TimeStep,
			Temperature:   md.Temperature,
			Friction:      md.Friction,
			FrameInterval: md.FrameInterval,
		},
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// OptSpec builds a run spec from the optimization defaults.
func (c *Config) OptSpec() runner.Spec {
	return runner.Spec{
		Mode:          runner.ModeOptimize,
		Algorithm:     c.Opt.Algorithm,
		Steps:         c.Opt.Steps,
		Fmax:          c.Opt.Fmax,
		FrameInterval: c.Opt.FrameInterval,
	}
}

// MDSpec builds a run spec from the MD defaults.
func (c *Config) MDSpec() runner.Spec {
	return runner.Spec{
		Mode:          runner.ModeMD,
		Steps:         c.MD.Steps,
		TimeStep:      c.MD.TimeStep,
		Temperature:   c.MD.Temperature,
		Friction:      c.MD.Friction,
		FrameInterval: c.MD.FrameInterval,
	}
}
