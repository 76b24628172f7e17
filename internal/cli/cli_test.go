// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Snail3D/prplbry/internal/config"
	"github.com/Snail3D/prplbry/internal/storage"
)

func TestFlagValue(t *testing.T) {
	tests := []struct {
		args []string
		name string
		want string
	}{
		{[]string{"--config", "/tmp/c.toml"}, "config", "/tmp/c.toml"},
		{[]string{"--config=/tmp/c.toml"}, "config", "/tmp/c.toml"},
		{[]string{"show", "--search", "todo"}, "search", "todo"},
		{[]string{"show"}, "search", ""},
		{[]string{"--config"}, "config", ""},
	}
	for _, tt := range tests {
		if got := FlagValue(tt.args, tt.name); got != tt.want {
			t.Errorf("FlagValue(%v, %q) = %q, want %q", tt.args, tt.name, got, tt.want)
		}
	}
}

func TestPositional(t *testing.T) {
	got := Positional([]string{"unlock-code", "secret", "--config", "/tmp/c.toml"})
	if len(got) != 2 || got[0] != "unlock-code" || got[1] != "secret" {
		t.Errorf("Positional = %v", got)
	}

	got = Positional([]string{"--config=/tmp/c.toml", "show"})
	if len(got) != 1 || got[0] != "show" {
		t.Errorf("Positional after equals-style flag = %v", got)
	}
}

func TestFormatSessionList(t *testing.T) {
	if got := FormatSessionList(nil); got != "No saved sessions.\n" {
		t.Errorf("empty list = %q", got)
	}

	metas := []storage.SavedMeta{{
		ID:        "saved_0001",
		Title:     "Building a todo app",
		Step:      "awaiting_features",
		UpdatedAt: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
	}}
	out := FormatSessionList(metas)
	for _, want := range []string{"saved_0001", "2026-08-25 10:00", "awaiting_features", "Building a todo app"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
}

func TestHandleConfig_InitAndUnlockCode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	args := []string{"init", "--config", path}

	if err := HandleConfig(args); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	// Second init refuses to clobber.
	if err := HandleConfig(args); err == nil {
		t.Error("config init overwrote an existing file")
	}

	if err := HandleConfig([]string{"unlock-code", "prpl-unlock", "--config", path}); err != nil {
		t.Fatalf("unlock-code failed: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Session.UnlockSalt == "" || cfg.Session.UnlockHash == "" {
		t.Error("unlock credential not written")
	}
}
