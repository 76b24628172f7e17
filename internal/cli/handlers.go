// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/Snail3D/prplbry/internal/config"
	"github.com/Snail3D/prplbry/internal/engine"
	"github.com/Snail3D/prplbry/internal/prd"
	"github.com/Snail3D/prplbry/internal/session"
	"github.com/Snail3D/prplbry/internal/storage"
	"github.com/Snail3D/prplbry/internal/util"
)

// openSavedStore resolves the saved-session store from the config.
func openSavedStore(args []string) (*storage.SavedStore, error) {
	cfg, err := config.Load(FlagValue(args, "config"))
	if err != nil {
		return nil, err
	}
	dataDir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}
	store, err := storage.NewSavedStoreWithDir(filepath.Join(dataDir, "saved"))
	if err != nil {
		return nil, err
	}
	store.MaxSaved = cfg.Storage.MaxSaved
	return store, nil
}

// =============================================================================
// SESSIONS
// =============================================================================

// HandleSessions lists saved sessions in a table.
func HandleSessions(args []string) error {
	store, err := openSavedStore(args)
	if err != nil {
		return err
	}

	var metas []storage.SavedMeta
	if q := FlagValue(args, "search"); q != "" {
		metas, err = store.Search(q)
	} else {
		metas, err = store.List()
	}
	if err != nil {
		return err
	}

	fmt.Print(FormatSessionList(metas))
	return nil
}

// FormatSessionList renders saved session metadata as a table.
func FormatSessionList(metas []storage.SavedMeta) string {
	if len(metas) == 0 {
		return "No saved sessions.\n"
	}

	var sb strings.Builder
	sb.WriteString(pad("ID", 44) + " " + pad("Updated", 17) + " " + pad("Step", 20) + " Title\n")
	sb.WriteString(strings.Repeat("-", 100) + "\n")
	for _, meta := range metas {
		sb.WriteString(pad(util.TruncateRunes(meta.ID, 44), 44) + " " +
			pad(meta.UpdatedAt.Format("2006-01-02 15:04"), 17) + " " +
			pad(meta.Step, 20) + " " +
			util.TruncateRunes(meta.Title, 40) + "\n")
	}
	return sb.String()
}

func pad(s string, width int) string {
	if n := width - util.RuneLen(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}

// =============================================================================
// EXPORT
// =============================================================================

// HandleExport prints a saved session's PRD, plain and compressed.
func HandleExport(args []string) error {
	pos := Positional(args)
	if len(pos) == 0 {
		return fmt.Errorf("usage: prplbry export <saved-id>")
	}

	store, err := openSavedStore(args)
	if err != nil {
		return err
	}
	st, err := store.Load(pos[0])
	if err != nil {
		return err
	}

	export := st.Export
	if export == "" {
		// Older saves may predate the snapshot field; replay the log.
		doc, _ := engine.NewDriver().Rebuild(st.Conversation().Messages)
		export = prd.Export(doc)
	}

	fmt.Print(export)
	if doc, err := prd.Parse(export); err == nil {
		fmt.Println()
		fmt.Println(prd.CompressedBlock(doc))
	}
	return nil
}

// =============================================================================
// CONFIG
// =============================================================================

// HandleConfig implements "config show|init|unlock-code".
func HandleConfig(args []string) error {
	pos := Positional(args)
	sub := ""
	if len(pos) > 0 {
		sub = pos[0]
	}

	path := FlagValue(args, "config")
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return err
		}
	}

	switch sub {
	case "", "show":
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return err
		}
		fmt.Print(buf.String())
		return nil

	case "init":
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return nil

	case "unlock-code":
		if len(pos) < 2 {
			return fmt.Errorf("usage: prplbry config unlock-code <code>")
		}
		salt := make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return err
		}
		saltHex, hashHex := session.HashUnlockCode(pos[1], salt)

		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg.Session.UnlockSalt = saltHex
		cfg.Session.UnlockHash = hashHex
		if err := cfg.Save(path); err != nil {
			return err
		}
		fmt.Printf("Unlock credential written to %s\n", path)
		return nil

	default:
		return fmt.Errorf("unknown config subcommand %q", sub)
	}
}
