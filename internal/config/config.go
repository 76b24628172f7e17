// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for the prplbry service.
//
// TOML file with built-in defaults and environment variable overrides.
// Locations, in order of precedence:
//   - path given on the command line
//   - ~/.prplbry/config.toml
//   - built-in defaults
//
// PRPLBRY_* environment variables override file values last.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Snail3D/prplbry/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete service configuration.
type Config struct {
	Version string `toml:"version"`

	Server  ServerConfig  `toml:"server"`
	Session SessionConfig `toml:"session"`
	Storage StorageConfig `toml:"storage"`
	Limits  LimitsConfig  `toml:"limits"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Host to bind (default 127.0.0.1).
	Host string `toml:"host"`
	// Port to listen on (default 8741).
	Port int `toml:"port"`
	// AuthToken, when set, requires Bearer auth on the API.
	AuthToken string `toml:"auth_token"`
	// RateLimitPerMin caps requests per client IP per minute (0 = off).
	RateLimitPerMin int `toml:"rate_limit_per_min"`
	// RateLimitBurst is the per-IP burst allowance.
	RateLimitBurst int `toml:"rate_limit_burst"`
	// CORSOrigin is the allowed origin for browser clients ("" = same origin).
	CORSOrigin string `toml:"cors_origin"`
}

// SessionConfig holds session registry settings.
type SessionConfig struct {
	// IdleTimeoutSecs evicts sessions idle longer than this (default 1800).
	IdleTimeoutSecs int `toml:"idle_timeout_secs"`
	// SweepIntervalSecs is how often the janitor runs (default 60).
	SweepIntervalSecs int `toml:"sweep_interval_secs"`
	// MaxSessions caps concurrent sessions (default 500).
	MaxSessions int `toml:"max_sessions"`
	// FreeTaskLimit caps tasks per locked session (0 = unlimited).
	FreeTaskLimit int `toml:"free_task_limit"`
	// UnlockSalt and UnlockHash hold the hex PBKDF2-SHA-256 credential for
	// lifting the task limit. Provision with "prplbry config unlock-code".
	UnlockSalt string `toml:"unlock_salt"`
	UnlockHash string `toml:"unlock_hash"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// DataDir is the base directory for saved sessions and the counter
	// database (default ~/.prplbry).
	DataDir string `toml:"data_dir"`
	// MaxSaved limits saved sessions (default 100, 0 = unlimited).
	MaxSaved int `toml:"max_saved"`
	// CountersEnabled toggles the usage counter database.
	CountersEnabled bool `toml:"counters_enabled"`
}

// LimitsConfig holds input validation bounds.
type LimitsConfig struct {
	// MaxProjectNameLength bounds the project name in runes (default 100).
	MaxProjectNameLength int `toml:"max_project_name_length"`
	// MaxDescriptionLength bounds the description in runes (default 1000).
	MaxDescriptionLength int `toml:"max_description_length"`
	// MaxMessageLength bounds one chat message in runes (default 2000).
	MaxMessageLength int `toml:"max_message_length"`
	// MaxRestoreLength bounds a restore paste in runes (default 20000).
	MaxRestoreLength int `toml:"max_restore_length"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8741,
			RateLimitPerMin: 120,
			RateLimitBurst:  30,
		},
		Session: SessionConfig{
			IdleTimeoutSecs:   1800,
			SweepIntervalSecs: 60,
			MaxSessions:       500,
			FreeTaskLimit:     15,
		},
		Storage: StorageConfig{
			MaxSaved:        100,
			CountersEnabled: true,
		},
		Limits: LimitsConfig{
			MaxProjectNameLength: 100,
			MaxDescriptionLength: 1000,
			MaxMessageLength:     2000,
			MaxRestoreLength:     20000,
		},
	}
}

// DefaultPath returns ~/.prplbry/config.toml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".prplbry", "config.toml"), nil
}

// DataDir resolves the storage base directory, defaulting under home.
func (c *Config) DataDir() (string, error) {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".prplbry"), nil
}

// IdleTimeout returns the session idle timeout as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Session.IdleTimeoutSecs) * time.Second
}

// SweepInterval returns the janitor interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Session.SweepIntervalSecs) * time.Second
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration from path, or the default location when path is
// empty. A missing file is not an error; defaults apply. Environment
// overrides are applied last and the result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Defaults apply.
	default:
		return nil, err
	}

	cfg.applyEnv()
	cfg.validate()
	return cfg, nil
}

// applyEnv applies PRPLBRY_* environment overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("PRPLBRY_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PRPLBRY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("PRPLBRY_AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv("PRPLBRY_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("PRPLBRY_FREE_TASK_LIMIT"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			c.Session.FreeTaskLimit = limit
		}
	}
	if v := os.Getenv("PRPLBRY_UNLOCK_SALT"); v != "" {
		c.Session.UnlockSalt = v
	}
	if v := os.Getenv("PRPLBRY_UNLOCK_HASH"); v != "" {
		c.Session.UnlockHash = v
	}
}

// validate clamps out-of-range values back to defaults instead of failing.
func (c *Config) validate() {
	def := Default()
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		c.Server.Port = def.Server.Port
	}
	if c.Session.IdleTimeoutSecs <= 0 {
		c.Session.IdleTimeoutSecs = def.Session.IdleTimeoutSecs
	}
	if c.Session.SweepIntervalSecs <= 0 {
		c.Session.SweepIntervalSecs = def.Session.SweepIntervalSecs
	}
	if c.Session.MaxSessions <= 0 {
		c.Session.MaxSessions = def.Session.MaxSessions
	}
	if c.Session.FreeTaskLimit < 0 {
		c.Session.FreeTaskLimit = 0
	}
	if c.Limits.MaxProjectNameLength <= 0 {
		c.Limits.MaxProjectNameLength = def.Limits.MaxProjectNameLength
	}
	if c.Limits.MaxDescriptionLength <= 0 {
		c.Limits.MaxDescriptionLength = def.Limits.MaxDescriptionLength
	}
	if c.Limits.MaxMessageLength <= 0 {
		c.Limits.MaxMessageLength = def.Limits.MaxMessageLength
	}
	if c.Limits.MaxRestoreLength <= 0 {
		c.Limits.MaxRestoreLength = def.Limits.MaxRestoreLength
	}
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes the configuration to path atomically.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return err
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0600)
}

// ListenAddr returns the host:port pair for the HTTP listener.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
