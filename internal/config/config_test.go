package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/atomflow/atomflow/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSpecsValidate(t *testing.T) {
	cfg := Default()
	optSpec := cfg.OptSpec()
	assert.NoError(t, optSpec.Validate())
	mdSpec := cfg.MDSpec()
	assert.NoError(t, mdSpec.Validate())
	assert.Equal(t, "lbfgs", cfg.Opt.Algorithm)
	assert.Equal(t, 0.5, cfg.MD.TimeStep)
	assert.Equal(t, 300.0, cfg.MD.Temperature)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atomflow.yaml")
	require.NoError(t, Save(path, &Config{
		Model:        "mace-mp-0",
		InferenceURL: "http://localhost:9000",
		MD:           MDDefaults{Steps: 200, TimeStep: 1.0, Temperature: 500, Friction: 0.01, FrameInterval: 5},
	}))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mace-mp-0", cfg.Model)
	assert.Equal(t, "http://localhost:9000", cfg.InferenceURL)

	spec := cfg.MDSpec()
	assert.Equal(t, runner.ModeMD, spec.Mode)
	assert.Equal(t, 200, spec.Steps)
	assert.Equal(t, 500.0, spec.Temperature)
	assert.NoError(t, spec.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: [unterminated"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}
