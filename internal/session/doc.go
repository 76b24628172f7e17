// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session tracks live PRD-building sessions: one conversation log,
// one document, and one script position per session, behind a registry with
// idle timeout sweeping and a free-tier task limit.
package session
