// Package config loads cluster settings from a YAML file and the
// environment.
//
// Precedence, lowest first: Default(), the YAML file, DRIFT_* environment
// variables, then whatever command-line flags the caller applies.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/daviddao/clockdrift/pkg/machine"
	"github.com/daviddao/clockdrift/pkg/rate"
)

// Environment variables read by ApplyEnv.
const (
	EnvDB     = "DRIFT_DB"
	EnvLogDir = "DRIFT_LOG_DIR"
	EnvSeed   = "DRIFT_SEED"
)

// EnvConfig names the config file when no --config flag is given.
const (
	EnvConfig   = "DRIFT_CONFIG"
	DefaultFile = "drift.yaml"
)

// Config holds the settings for one simulated cluster.
type Config struct {
	Machines     int           `yaml:"machines"`
	MinRate      int           `yaml:"min_rate"`
	MaxRate      int           `yaml:"max_rate"`
	Seed         int64         `yaml:"seed"` // 0 picks a time-based seed
	Mode         string        `yaml:"mode"`
	ShufflePeers bool          `yaml:"shuffle_peers"`
	Duration     time.Duration `yaml:"duration"` // 0 runs until interrupted
	LogDir       string        `yaml:"log_dir"`
	DBPath       string        `yaml:"db"` // empty disables the SQLite trace store
}

// Default returns the three-machine, 1..6 ticks/s setup.
func Default() Config {
	return Config{
		Machines:     3,
		MinRate:      rate.DefaultMin,
		MaxRate:      rate.DefaultMax,
		Mode:         machine.ModeAsWritten.String(),
		ShufflePeers: true,
		LogDir:       "VM_logs",
		DBPath:       "clockdrift.db",
	}
}

// Load reads path over Default(). A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Write saves cfg as YAML.
func (c Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays DRIFT_DB, DRIFT_LOG_DIR and DRIFT_SEED.
func (c *Config) ApplyEnv() error {
	c.DBPath = envOr(EnvDB, c.DBPath)
	c.LogDir = envOr(EnvLogDir, c.LogDir)
	if v := os.Getenv(EnvSeed); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvSeed, v, err)
		}
		c.Seed = seed
	}
	return nil
}

// Validate checks the settings before a cluster is built.
func (c Config) Validate() error {
	if c.Machines < machine.PeerCount+1 {
		return fmt.Errorf("machines: need at least %d, got %d", machine.PeerCount+1, c.Machines)
	}
	if c.MinRate < 1 || c.MaxRate < c.MinRate {
		return fmt.Errorf("rates: invalid range [%d,%d]", c.MinRate, c.MaxRate)
	}
	if c.Duration < 0 {
		return fmt.Errorf("duration: must not be negative, got %s", c.Duration)
	}
	if _, err := machine.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("mode: %w", err)
	}
	if c.LogDir == "" {
		return errors.New("log_dir: must not be empty")
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
