package config

import (
	"fmt"
	"time"

	"tolrun/internal/protocol"
	"tolrun/internal/simworld"
	"tolrun/internal/world"
)

// WorldConfig controls the connection to the world.
type WorldConfig struct {
	// Address is the websocket URL of the world.
	Address        string `yaml:"address" json:"address,omitempty"`
	DialTimeout    string `yaml:"dial_timeout" json:"dial_timeout,omitempty"`
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout,omitempty"`
	// Params are sent to the world when connecting.
	Params protocol.WorldParams `yaml:"params" json:"params"`
}

// DefaultWorldConfig returns the world settings of the reference experiment.
func DefaultWorldConfig() WorldConfig {
	return WorldConfig{
		Address:        "ws://127.0.0.1:11345/world",
		DialTimeout:    "10s",
		RequestTimeout: "30s",
		Params: protocol.WorldParams{
			MaxLifetime:         999999,
			InitialAgeMu:        500,
			InitialAgeSigma:     500,
			EnableLightSensor:   false,
			MinParts:            1,
			MaxParts:            30,
			ArenaSize:           [2]float64{3, 3},
			PoseUpdateFrequency: 20,
		},
	}
}

// GetDialTimeout returns the dial timeout as a duration.
func (c *Config) GetDialTimeout() time.Duration {
	d, err := time.ParseDuration(c.World.DialTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetRequestTimeout returns the per-request timeout as a duration.
func (c *Config) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.World.RequestTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// WorldClient returns the settings for dialing the world.
func (c *Config) WorldClient() world.Config {
	return world.Config{
		Address:        c.World.Address,
		DialTimeout:    c.GetDialTimeout(),
		RequestTimeout: c.GetRequestTimeout(),
		Params:         c.World.Params,
	}
}

// SimWorldConfig configures the local simulated world.
type SimWorldConfig struct {
	Listen      string  `yaml:"listen" json:"listen,omitempty"`
	Path        string  `yaml:"path" json:"path,omitempty"`
	SpeedFactor float64 `yaml:"speed_factor" json:"speed_factor,omitempty"`
	TickHz      int     `yaml:"tick_hz" json:"tick_hz,omitempty"`
	SettleTicks int     `yaml:"settle_ticks" json:"settle_ticks,omitempty"`
	// Range of the generated bounding box floor
	MinBoxZ float64 `yaml:"min_box_z" json:"min_box_z,omitempty"`
	MaxBoxZ float64 `yaml:"max_box_z" json:"max_box_z,omitempty"`
	Seed    uint64  `yaml:"seed" json:"seed,omitempty"`
}

// DefaultSimWorldConfig listens where DefaultWorldConfig dials.
func DefaultSimWorldConfig() SimWorldConfig {
	d := simworld.DefaultConfig()
	return SimWorldConfig{
		Listen:      "127.0.0.1:11345",
		Path:        "/world",
		SpeedFactor: d.SpeedFactor,
		TickHz:      d.TickHz,
		SettleTicks: d.SettleTicks,
		MinBoxZ:     d.MinBoxZ,
		MaxBoxZ:     d.MaxBoxZ,
		Seed:        d.Seed,
	}
}

func (s SimWorldConfig) validate() error {
	if s.SpeedFactor <= 0 {
		return fmt.Errorf("simworld speed factor must be positive, got %g", s.SpeedFactor)
	}
	if s.TickHz <= 0 {
		return fmt.Errorf("simworld tick rate must be positive, got %d", s.TickHz)
	}
	if s.MinBoxZ > s.MaxBoxZ {
		return fmt.Errorf("simworld min_box_z %g is above max_box_z %g", s.MinBoxZ, s.MaxBoxZ)
	}
	return nil
}

// SimWorldServer returns the settings for serving a simulated world.
func (c *Config) SimWorldServer() simworld.Config {
	return simworld.Config{
		SpeedFactor: c.SimWorld.SpeedFactor,
		TickHz:      c.SimWorld.TickHz,
		SettleTicks: c.SimWorld.SettleTicks,
		MinBoxZ:     c.SimWorld.MinBoxZ,
		MaxBoxZ:     c.SimWorld.MaxBoxZ,
		Seed:        c.SimWorld.Seed,
	}
}
