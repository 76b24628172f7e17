// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli parses command line arguments and implements the non-server
// subcommands.
package cli

import (
	"fmt"
	"os"
	"strings"
)

// Version information (set at build time).
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command identifies the requested subcommand.
type Command int

const (
	// CmdServe runs the HTTP service (the default).
	CmdServe Command = iota
	// CmdVersion prints version information.
	CmdVersion
	// CmdSessions lists saved sessions.
	CmdSessions
	// CmdExport prints a saved session's PRD.
	CmdExport
	// CmdConfig manages the config file.
	CmdConfig
	// CmdHelp prints usage.
	CmdHelp
)

// Parse maps os.Args to a command and its remaining arguments.
func Parse() (Command, []string) {
	if len(os.Args) < 2 {
		return CmdServe, nil
	}

	cmd := strings.ToLower(os.Args[1])
	args := os.Args[2:]

	switch cmd {
	case "serve":
		return CmdServe, args
	case "version", "--version", "-v":
		return CmdVersion, args
	case "sessions":
		return CmdSessions, args
	case "export":
		return CmdExport, args
	case "config":
		return CmdConfig, args
	case "help", "--help", "-h":
		return CmdHelp, args
	default:
		// Unknown word: treat flags as serve options, words as mistakes.
		if strings.HasPrefix(cmd, "-") {
			return CmdServe, os.Args[1:]
		}
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		return CmdHelp, nil
	}
}

// FlagValue extracts "--name value" or "--name=value" from args.
func FlagValue(args []string, name string) string {
	long := "--" + name
	for i, arg := range args {
		if arg == long && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(arg, long+"="); ok {
			return v
		}
	}
	return ""
}

// Positional returns the non-flag arguments, skipping flag values.
func Positional(args []string) []string {
	var out []string
	skip := false
	for _, arg := range args {
		if skip {
			skip = false
			continue
		}
		if strings.HasPrefix(arg, "-") {
			skip = !strings.Contains(arg, "=")
			continue
		}
		out = append(out, arg)
	}
	return out
}

// HandleVersion prints version information.
func HandleVersion(args []string) {
	fmt.Printf("prplbry %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
}

// HandleHelp prints usage.
func HandleHelp(args []string) {
	fmt.Print(`prplbry - chat your way to a PRD

Usage:
  prplbry [serve] [--config path]     run the HTTP service (default)
  prplbry sessions [--config path]    list saved sessions
  prplbry export <saved-id>           print a saved session's PRD
  prplbry config show                 print the effective configuration
  prplbry config init                 write a default config file
  prplbry config unlock-code <code>   provision the unlock credential
  prplbry version                     print version information
`)
}
