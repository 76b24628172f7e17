// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine is the conversation driver: it maps each user message to a
// document mutation given the current step of the PRD-building script.
//
// The script is linear: vision, tech stack, features (looping until the user
// says done), priorities (looping), done. Advance is deterministic for a
// given (step, document, message) triple - no randomness, no clock, no I/O -
// which is what makes rebuild-by-replay exact: deleting a chat message and
// replaying the remainder always lands on the same document.
package engine
