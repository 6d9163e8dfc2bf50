// Package config reads the chartsync YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/chartsync/internal/bridge"
)

// Config is the on-disk configuration. Command-line flags override it.
type Config struct {
	DB         string      `yaml:"db"`
	Mount      string      `yaml:"mount"`
	DebounceMS float64     `yaml:"debounce_ms"`
	MaxWaitMS  float64     `yaml:"max_wait_ms"`
	Pulse      string      `yaml:"pulse"`
	Restore    bool        `yaml:"restore"`
	LogLevel   string      `yaml:"log_level"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig selects the Redis transport.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

// Default returns the configuration used without a file.
func Default() Config {
	return Config{
		Mount:      bridge.DefaultMount,
		DebounceMS: float64(bridge.DefaultDelay / time.Millisecond),
		Pulse:      bridge.PulseSync.String(),
		LogLevel:   "info",
		Redis:      RedisConfig{Channel: "chartsync"},
	}
}

// Load reads path over the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.DebounceMS < 0 {
		return fmt.Errorf("debounce_ms must be >= 0, got %v", c.DebounceMS)
	}
	if c.MaxWaitMS < 0 {
		return fmt.Errorf("max_wait_ms must be >= 0, got %v", c.MaxWaitMS)
	}
	if _, err := ParsePulse(c.Pulse); err != nil {
		return err
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// Bridge converts the file settings into a bridge configuration.
func (c Config) Bridge() bridge.Config {
	pulse, _ := ParsePulse(c.Pulse)
	cfg := bridge.DefaultConfig()
	cfg.Delay = time.Duration(c.DebounceMS * float64(time.Millisecond))
	cfg.MaxWait = time.Duration(c.MaxWaitMS * float64(time.Millisecond))
	cfg.Pulse = pulse
	if c.Mount != "" {
		cfg.Mount = c.Mount
	}
	return cfg
}

// ParsePulse maps "sync" / "async" to a bridge pulse mode. Empty is sync.
func ParsePulse(s string) (bridge.Pulse, error) {
	switch s {
	case "", "sync":
		return bridge.PulseSync, nil
	case "async":
		return bridge.PulseAsync, nil
	default:
		return bridge.PulseSync, fmt.Errorf("unknown pulse %q", s)
	}
}
