// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prd contains the PRD document model and its textual codec.
//
// A Document is the in-memory tree built up during a chat session: project
// metadata, an ordered list of categories drawn from a fixed taxonomy, and
// the tasks inside them. The codec half of the package (export.go, import.go,
// compress.go) maps a Document to the compact key-abbreviated export format
// and back, with a round-trip guarantee: Parse(Export(d)) reproduces d in all
// observable fields.
package prd
