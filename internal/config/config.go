// Package config reads and writes the profile configuration file.
package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/omnitak/takcore/internal/queue"
)

// QueueConfig tunes the sync queue. Zero values mean defaults; the
// retention window is clamped to the documented range on load.
type QueueConfig struct {
	WorkingSetCap          int `toml:"working_set_cap"`
	RetentionDays          int `toml:"retention_days"`
	FlushIntervalSeconds   int `toml:"flush_interval_seconds"`
	CleanupIntervalMinutes int `toml:"cleanup_interval_minutes"`
}

// Config is the per-profile config.toml.
type Config struct {
	UID      string `toml:"uid"`
	Callsign string `toml:"callsign"`
	Team     string `toml:"team"`
	Role     string `toml:"role"`

	Queue QueueConfig `toml:"queue"`
}

// Default returns a config with queue tuning at documented defaults and
// an empty identity. The daemon generates a uid on first start when the
// identity is empty.
func Default() *Config {
	return &Config{
		Team: "Cyan",
		Role: "Team Member",
		Queue: QueueConfig{
			WorkingSetCap:          queue.DefaultWorkingSetCap,
			RetentionDays:          queue.DefaultRetentionDays,
			FlushIntervalSeconds:   int(queue.DefaultFlushInterval.Seconds()),
			CleanupIntervalMinutes: int(queue.DefaultCleanupInterval.Minutes()),
		},
	}
}

// Load reads the config at path. A missing file returns defaults, not
// an error: first run should not require a config step.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
