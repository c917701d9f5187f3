// Package config loads the player configuration: a YAML file layered under
// BRANCHLINE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full player configuration.
type Config struct {
	// Vault is the directory of graph documents, shared across devices by
	// whatever mechanism syncs it.
	Vault string `json:"vault" yaml:"vault" env:"BRANCHLINE_VAULT"`
	// DataDir holds per-device state: the SQLite store, device id, logs.
	DataDir string `json:"data_dir" yaml:"data_dir" env:"BRANCHLINE_DATA_DIR"`

	// StartMarker is the case-insensitive substring that tags a graph's
	// entry node.
	StartMarker string `json:"start_marker" yaml:"start_marker" env:"BRANCHLINE_START_MARKER"`

	Ownership OwnershipConfig `json:"ownership" yaml:"ownership"`

	LogLevel string `json:"log_level" yaml:"log_level" env:"BRANCHLINE_LOG_LEVEL"`
	LogFile  string `json:"log_file" yaml:"log_file" env:"BRANCHLINE_LOG_FILE"`
}

// OwnershipConfig tunes the cross-device session coordination.
type OwnershipConfig struct {
	LeaseWindowMS   int `json:"lease_window_ms" yaml:"lease_window_ms" env:"BRANCHLINE_LEASE_WINDOW_MS"`
	WriteDebounceMS int `json:"write_debounce_ms" yaml:"write_debounce_ms" env:"BRANCHLINE_WRITE_DEBOUNCE_MS"`
	PollIntervalMS  int `json:"poll_interval_ms" yaml:"poll_interval_ms" env:"BRANCHLINE_POLL_INTERVAL_MS"`
	MissingGraceMS  int `json:"missing_grace_ms" yaml:"missing_grace_ms" env:"BRANCHLINE_MISSING_GRACE_MS"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		StartMarker: "start here",
		Ownership: OwnershipConfig{
			LeaseWindowMS:   60_000,
			WriteDebounceMS: 300,
			PollIntervalMS:  2_000,
			MissingGraceMS:  1_000,
		},
	}
}

// Load reads the YAML file at path (optional: a missing file just means
// defaults) and applies environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %q: %w", path, err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".branchline")
	}
	return cfg, nil
}

// LeaseWindow returns the lease freshness window as a duration.
func (o OwnershipConfig) LeaseWindow() time.Duration {
	return time.Duration(o.LeaseWindowMS) * time.Millisecond
}

// WriteDebounce returns the debounce interval for rapid successive writes.
func (o OwnershipConfig) WriteDebounce() time.Duration {
	return time.Duration(o.WriteDebounceMS) * time.Millisecond
}

// PollInterval returns how often non-owner devices poll the artifact.
func (o OwnershipConfig) PollInterval() time.Duration {
	return time.Duration(o.PollIntervalMS) * time.Millisecond
}

// MissingGrace returns how long a missing artifact is tolerated before it
// counts as a remote stop.
func (o OwnershipConfig) MissingGrace() time.Duration {
	return time.Duration(o.MissingGraceMS) * time.Millisecond
}
