// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	def := Default()
	if cfg.Server.Port != def.Server.Port {
		t.Errorf("port = %d, want default %d", cfg.Server.Port, def.Server.Port)
	}
	if cfg.Session.FreeTaskLimit != def.Session.FreeTaskLimit {
		t.Errorf("free task limit = %d", cfg.Session.FreeTaskLimit)
	}
}

func TestLoad_FileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
version = "1"

[server]
host = "0.0.0.0"
port = 9000

[session]
free_task_limit = 5

[limits]
max_message_length = 500
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9000 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Session.FreeTaskLimit != 5 {
		t.Errorf("free task limit = %d, want 5", cfg.Session.FreeTaskLimit)
	}
	if cfg.Limits.MaxMessageLength != 500 {
		t.Errorf("max message length = %d, want 500", cfg.Limits.MaxMessageLength)
	}
	// Unspecified values keep defaults.
	if cfg.Limits.MaxProjectNameLength != 100 {
		t.Errorf("max project name length = %d, want 100", cfg.Limits.MaxProjectNameLength)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PRPLBRY_PORT", "9999")
	t.Setenv("PRPLBRY_AUTH_TOKEN", "secret-token")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want env override 9999", cfg.Server.Port)
	}
	if cfg.Server.AuthToken != "secret-token" {
		t.Errorf("auth token = %q", cfg.Server.AuthToken)
	}
}

func TestLoad_ValidationClamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
port = 99999

[session]
idle_timeout_secs = -5
free_task_limit = -1
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != Default().Server.Port {
		t.Errorf("invalid port not clamped: %d", cfg.Server.Port)
	}
	if cfg.Session.IdleTimeoutSecs != Default().Session.IdleTimeoutSecs {
		t.Errorf("invalid idle timeout not clamped: %d", cfg.Session.IdleTimeoutSecs)
	}
	if cfg.Session.FreeTaskLimit != 0 {
		t.Errorf("negative free task limit = %d, want 0", cfg.Session.FreeTaskLimit)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	cfg := Default()
	cfg.Server.Port = 8800
	cfg.Session.UnlockSalt = "aabb"
	cfg.Session.UnlockHash = "ccdd"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Server.Port != 8800 {
		t.Errorf("port = %d, want 8800", loaded.Server.Port)
	}
	if loaded.Session.UnlockSalt != "aabb" || loaded.Session.UnlockHash != "ccdd" {
		t.Errorf("unlock credential = %q/%q", loaded.Session.UnlockSalt, loaded.Session.UnlockHash)
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := Default().Save(path); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()
	if err := w.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	cfg := Default()
	cfg.Server.Port = 8802
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-reloaded:
		if got.Server.Port != 8802 {
			t.Errorf("reloaded port = %d, want 8802", got.Server.Port)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback never fired")
	}
}
