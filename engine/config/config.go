package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/viper"
)

// Backends accepted by Config.Backend.
const (
	BackendHost = "host"
	BackendWGPU = "wgpu"
	BackendGL   = "gl"
)

// Config is the configuration of a pointfield run.
type Config struct {
	Backend    string  `mapstructure:"backend"`
	Points     int     `mapstructure:"points"`
	Frames     int     `mapstructure:"frames"`
	FrameLimit float64 `mapstructure:"frame_limit"`
	Profiling  bool    `mapstructure:"profiling"`
	Workers    int     `mapstructure:"workers"`

	Window  WindowConfig  `mapstructure:"window"`
	Field   FieldConfig   `mapstructure:"field"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type WindowConfig struct {
	Title  string `mapstructure:"title"`
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
	VSync  bool   `mapstructure:"vsync"`
}

type FieldConfig struct {
	Radius     float32 `mapstructure:"radius"`
	Speed      float32 `mapstructure:"speed"`
	Seed       uint64  `mapstructure:"seed"`
	Velocities bool    `mapstructure:"velocities"`
	Lifetimes  int32   `mapstructure:"lifetimes"`
	CellSize   float32 `mapstructure:"cell_size"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Backend:    BackendWGPU,
		Points:     65536,
		Frames:     0,
		FrameLimit: 0,
		Profiling:  false,
		Workers:    0,
		Window: WindowConfig{
			Title:  "pointfield",
			Width:  1280,
			Height: 720,
			VSync:  true,
		},
		Field: FieldConfig{
			Radius: 0.9,
			Speed:  1,
			Seed:   1,
		},
		Logging: LoggingConfig{
			Level:   "info",
			File:    "",
			Console: true,
		},
	}
}

// Load reads configuration from defaults, the config file and POINTFIELD_* environment variables,
// in increasing precedence. Flags bound to v take precedence over all of them.
//
// Parameters:
//   - v: the viper instance to read through, or nil for a fresh one
//   - cfgFile: an explicit config file, or "" to search ./pointfield.yaml and $HOME/.pointfield/config.yaml
//
// Returns:
//   - *Config: the validated configuration
//   - error: an error if the file is unreadable or the result is invalid
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".pointfield"))
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("pointfield")
	}

	v.SetEnvPrefix("POINTFIELD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	backends := []string{BackendHost, BackendWGPU, BackendGL}
	if !slices.Contains(backends, c.Backend) {
		return fmt.Errorf("backend must be one of: %v", backends)
	}
	if c.Points <= 0 {
		return errors.New("points must be positive")
	}
	if c.Frames < 0 {
		return errors.New("frames must not be negative")
	}
	if c.Backend == BackendHost && c.Frames == 0 {
		return errors.New("the host backend has no window; frames must be set")
	}
	if c.FrameLimit < 0 {
		return errors.New("frame_limit must not be negative")
	}
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return errors.New("window.width and window.height must be positive")
	}
	if c.Field.Radius <= 0 || c.Field.Radius > 1 {
		return errors.New("field.radius must be in (0, 1]")
	}
	if c.Field.Lifetimes < 0 || c.Field.CellSize < 0 {
		return errors.New("field.lifetimes and field.cell_size must not be negative")
	}

	levels := []string{"trace", "debug", "info", "warn", "error"}
	if !slices.Contains(levels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", levels)
	}
	return nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("backend", cfg.Backend)
	v.SetDefault("points", cfg.Points)
	v.SetDefault("frames", cfg.Frames)
	v.SetDefault("frame_limit", cfg.FrameLimit)
	v.SetDefault("profiling", cfg.Profiling)
	v.SetDefault("workers", cfg.Workers)

	v.SetDefault("window.title", cfg.Window.Title)
	v.SetDefault("window.width", cfg.Window.Width)
	v.SetDefault("window.height", cfg.Window.Height)
	v.SetDefault("window.vsync", cfg.Window.VSync)

	v.SetDefault("field.radius", cfg.Field.Radius)
	v.SetDefault("field.speed", cfg.Field.Speed)
	v.SetDefault("field.seed", cfg.Field.Seed)
	v.SetDefault("field.velocities", cfg.Field.Velocities)
	v.SetDefault("field.lifetimes", cfg.Field.Lifetimes)
	v.SetDefault("field.cell_size", cfg.Field.CellSize)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
}
