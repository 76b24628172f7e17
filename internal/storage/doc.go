// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists PRD sessions and usage counters. Saved sessions
// are one JSON file each under the data directory; counters live in a small
// SQLite database next to them.
package storage
