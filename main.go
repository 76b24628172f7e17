// prplbry - chat your way to a PRD.
//
// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Snail3D/prplbry/internal/cli"
	"github.com/Snail3D/prplbry/internal/config"
	"github.com/Snail3D/prplbry/internal/server"
	"github.com/Snail3D/prplbry/internal/session"
	"github.com/Snail3D/prplbry/internal/storage"
)

// Version information (set at build time).
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse()

	switch cmd {
	case cli.CmdServe:
		if err := runServe(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case cli.CmdVersion:
		cli.HandleVersion(args)
	case cli.CmdSessions:
		if err := cli.HandleSessions(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case cli.CmdExport:
		if err := cli.HandleExport(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case cli.CmdConfig:
		if err := cli.HandleConfig(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		cli.HandleHelp(args)
	}
}

// runServe wires config, stores, sessions, and the HTTP server together and
// runs until interrupted.
func runServe(args []string) error {
	cfgPath := cli.FlagValue(args, "config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	dataDir, err := cfg.DataDir()
	if err != nil {
		return err
	}

	saved, err := storage.NewSavedStoreWithDir(filepath.Join(dataDir, "saved"))
	if err != nil {
		return err
	}
	saved.MaxSaved = cfg.Storage.MaxSaved

	var counters *storage.CounterStore
	if cfg.Storage.CountersEnabled {
		counters, err = storage.OpenCounterStore(filepath.Join(dataDir, "counters.db"))
		if err != nil {
			return err
		}
		defer counters.Close()
	}

	sessions := session.NewManager(session.Config{
		IdleTimeout:   cfg.IdleTimeout(),
		SweepInterval: cfg.SweepInterval(),
		MaxSessions:   cfg.Session.MaxSessions,
		FreeTaskLimit: cfg.Session.FreeTaskLimit,
		UnlockSalt:    cfg.Session.UnlockSalt,
		UnlockHash:    cfg.Session.UnlockHash,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions.StartJanitor(ctx)

	srv := server.New(cfg, sessions, saved, counters)

	// Hot-reload applies session limits and the unlock credential; listener
	// changes need a restart.
	if cfgPath != "" {
		watcher, werr := config.NewWatcher(cfgPath, func(next *config.Config) {
			sessions.UpdateConfig(session.Config{
				IdleTimeout:   next.IdleTimeout(),
				SweepInterval: next.SweepInterval(),
				MaxSessions:   next.Session.MaxSessions,
				FreeTaskLimit: next.Session.FreeTaskLimit,
				UnlockSalt:    next.Session.UnlockSalt,
				UnlockHash:    next.Session.UnlockHash,
			})
		})
		if werr == nil {
			if werr = watcher.Watch(); werr == nil {
				defer watcher.Close()
			}
		}
		if werr != nil {
			log.Printf("CONFIG_WATCH_SKIP | err=%v", werr)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
