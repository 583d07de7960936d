// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, VariantML, cfg.Variant)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, 9100, cfg.MetricsPort)
	assert.Equal(t, []string{"ort", "gonnx"}, cfg.Backends)
	assert.Equal(t, 224, cfg.ImageSize)
	assert.Equal(t, 1, cfg.FireIndex)
	assert.Equal(t, "unit", cfg.Normalization)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.NoError(t, cfg.Validate())
}

func TestLoadBackendVariantPort(t *testing.T) {
	t.Setenv("FIREWATCH_VARIANT", "backend")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, VariantBackend, cfg.Variant)
	assert.Equal(t, 5001, cfg.Port)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FIREWATCH_FIRE_INDEX", "0")
	t.Setenv("FIREWATCH_BACKENDS", "gonnx")
	t.Setenv("FIREWATCH_CACHE_TTL", "90s")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.FireIndex)
	assert.Equal(t, []string{"gonnx"}, cfg.Backends)
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
}

func TestLoadFlagsOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "port: 9000\nmodel: from-file.onnx\nnormalization: symmetric\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse([]string{"--config", path, "--model", "from-flag.onnx"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "from-flag.onnx", cfg.Model)
	assert.Equal(t, "symmetric", cfg.Normalization)
}

func TestLoadMissingExplicitConfigFile(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}))

	_, err := Load(fs)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Variant:       VariantML,
			Port:          8000,
			MetricsPort:   9100,
			Model:         "model.onnx",
			Backends:      []string{"ort"},
			ImageSize:     224,
			Normalization: "unit",
			Activation:    "none",
			FireIndex:     1,
			MaxBodyBytes:  1 << 20,
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown variant", func(c *Config) { c.Variant = "frontend" }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"port clash", func(c *Config) { c.MetricsPort = c.Port }},
		{"grpc port clash", func(c *Config) { c.GRPCPort = c.MetricsPort }},
		{"missing model", func(c *Config) { c.Model = "" }},
		{"unknown backend", func(c *Config) { c.Backends = []string{"torch"} }},
		{"unknown normalization", func(c *Config) { c.Normalization = "imagenet" }},
		{"unknown activation", func(c *Config) { c.Activation = "relu" }},
		{"negative fire index", func(c *Config) { c.FireIndex = -1 }},
		{"zero image size", func(c *Config) { c.ImageSize = 0 }},
		{"zero body limit", func(c *Config) { c.MaxBodyBytes = 0 }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	t.Run("mock without model", func(t *testing.T) {
		c := valid()
		c.Model = ""
		c.UseMock = true
		assert.NoError(t, c.Validate())
	})
}
