package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendWGPU, cfg.Backend)
	assert.Equal(t, 65536, cfg.Points)
	assert.Equal(t, float32(0.9), cfg.Field.Radius)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Backend = "vulkan" }, "backend"},
		{"no points", func(c *Config) { c.Points = 0 }, "points"},
		{"negative frames", func(c *Config) { c.Frames = -1 }, "frames"},
		{"host without frames", func(c *Config) { c.Backend = BackendHost }, "host backend"},
		{"negative frame limit", func(c *Config) { c.FrameLimit = -5 }, "frame_limit"},
		{"zero width", func(c *Config) { c.Window.Width = 0 }, "window"},
		{"radius too large", func(c *Config) { c.Field.Radius = 2 }, "field.radius"},
		{"negative cell size", func(c *Config) { c.Field.CellSize = -1 }, "cell_size"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	yaml := `backend: host
points: 256
frames: 30
field:
  radius: 0.5
  seed: 42
  velocities: true
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, BackendHost, cfg.Backend)
	assert.Equal(t, 256, cfg.Points)
	assert.Equal(t, 30, cfg.Frames)
	assert.Equal(t, float32(0.5), cfg.Field.Radius)
	assert.Equal(t, uint64(42), cfg.Field.Seed)
	assert.True(t, cfg.Field.Velocities)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Console, "logging default lost")
	assert.Equal(t, 1280, cfg.Window.Width, "window default lost")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: host\nframes: 10\npoints: 64\n"), 0644))
	t.Setenv("POINTFIELD_POINTS", "128")
	t.Setenv("POINTFIELD_FIELD_SEED", "9")

	cfg, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Points)
	assert.Equal(t, uint64(9), cfg.Field.Seed)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: vulkan\n"), 0644))
	_, err := Load(nil, path)
	assert.ErrorContains(t, err, "validating config")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(nil, filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err, "missing explicit config file accepted")
}
