package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"tolrun/internal/population"
)

// Config holds all tolrun configuration.
type Config struct {
	Name string `yaml:"name"`

	// World connection and creation parameters
	World WorldConfig `yaml:"world"`

	// Experiment constants
	Experiment ExperimentConfig `yaml:"experiment"`

	// Birth placement
	Birth BirthConfig `yaml:"birth"`

	// Local simulated world (tolrun world)
	SimWorld SimWorldConfig `yaml:"simworld"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ExperimentConfig configures a population run.
type ExperimentConfig struct {
	PopulationSize int `yaml:"population_size"`

	// Simulated seconds between consecutive births
	InterBirthDelay float64 `yaml:"inter_birth_delay"`

	// Simulated seconds per speed factor sample
	MonitorInterval float64 `yaml:"monitor_interval"`

	// Real time between clock checks while pacing
	PollInterval string `yaml:"poll_interval"`

	Seed uint64 `yaml:"seed"`

	// Births and samples are written to <dir>/tolrun.db when set
	OutputDirectory string `yaml:"output_directory"`
}

// BirthConfig configures where new robots are placed.
type BirthConfig struct {
	Radius     float64 `yaml:"radius"`
	DropHeight float64 `yaml:"drop_height"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:  "tolrun",
		World: DefaultWorldConfig(),

		Experiment: ExperimentConfig{
			PopulationSize:  40,
			InterBirthDelay: 1.0,
			MonitorInterval: 1.0,
			PollInterval:    "50ms",
			Seed:            12345,
		},

		Birth: BirthConfig{
			Radius:     2.0,
			DropHeight: 0.2,
		},

		SimWorld: DefaultSimWorldConfig(),

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults. A missing file is not an error. The
// TOLRUN_* environment variables win over both.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes c to path, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

var envOverrides = []struct {
	name  string
	field func(*Config) *string
}{
	{"TOLRUN_WORLD_ADDR", func(c *Config) *string { return &c.World.Address }},
	{"TOLRUN_OUTPUT_DIR", func(c *Config) *string { return &c.Experiment.OutputDirectory }},
	{"TOLRUN_LOG_LEVEL", func(c *Config) *string { return &c.Logging.Level }},
}

func (c *Config) applyEnvOverrides() {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			*o.field(c) = v
		}
	}
}

// GetPollInterval returns the pacing poll interval as a duration.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Experiment.PollInterval)
	if err != nil || d <= 0 {
		return 50 * time.Millisecond
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.World.Address == "" {
		return fmt.Errorf("world address not configured (set world.address or TOLRUN_WORLD_ADDR)")
	}
	if c.Experiment.PopulationSize <= 0 {
		return fmt.Errorf("population size must be positive, got %d", c.Experiment.PopulationSize)
	}
	if d := c.Experiment.InterBirthDelay; !(d >= 0) || math.IsInf(d, 0) {
		return fmt.Errorf("inter-birth delay must be a non-negative number, got %g", d)
	}
	if d := c.Experiment.MonitorInterval; !(d > 0) || math.IsInf(d, 0) {
		return fmt.Errorf("monitor interval must be a positive number, got %g", d)
	}
	if c.Birth.Radius < 0 {
		return fmt.Errorf("birth radius must not be negative, got %g", c.Birth.Radius)
	}
	if p := c.World.Params; p.MaxParts > 0 && p.MaxParts < p.MinParts {
		return fmt.Errorf("max_parts %d is below min_parts %d", p.MaxParts, p.MinParts)
	}
	if err := c.SimWorld.validate(); err != nil {
		return err
	}
	if !validFormat(c.Logging.Format) {
		return fmt.Errorf("invalid log format: %s (valid: %v)", c.Logging.Format, ValidFormats)
	}
	return nil
}

// Population returns the experiment settings for a population run.
func (c *Config) Population() population.Config {
	return population.Config{
		PopulationSize:  c.Experiment.PopulationSize,
		InterBirthDelay: c.Experiment.InterBirthDelay,
		MonitorInterval: c.Experiment.MonitorInterval,
		PollInterval:    c.GetPollInterval(),
		Radius:          c.Birth.Radius,
		DropHeight:      c.Birth.DropHeight,
		Seed:            c.Experiment.Seed,
	}
}
