// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/Snail3D/prplbry/internal/util"
)

// =============================================================================
// ROLES
// =============================================================================

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is one ordered chat log entry.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// TaskIDs lists the tasks this message produced, for display next to
	// the chat bubble. Rebuild-on-delete does not read these: it replays
	// the whole log instead.
	TaskIDs []string `json:"task_ids,omitempty"`
}

// NewUserMessage creates a user message with a generated ID.
func NewUserMessage(content string) *Message {
	return &Message{
		ID:        "msg_" + uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewAssistantMessage creates an assistant message with a generated ID.
func NewAssistantMessage(content string) *Message {
	return &Message{
		ID:        "msg_" + uuid.NewString(),
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Preview returns the first maxRunes characters of the content on one line.
func (m *Message) Preview(maxRunes int) string {
	return util.TruncateRunes(util.CollapseWhitespace(m.Content), maxRunes)
}
