// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across prplbry.
//
// String helpers are rune-aware so UTF-8 input from the chat endpoint is
// never split mid-character. AtomicWriteFile is the crash-safe write used by
// every component that persists JSON to disk.
package util
