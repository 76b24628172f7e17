// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the chat log data structures for a PRD session.
//
// The conversation is the source of truth for the document: the invariant
// maintained across the codebase is that replaying the user messages of a
// conversation through the engine reproduces the PRD document exactly. That
// is what makes delete-a-message-and-rebuild well defined.
package model
