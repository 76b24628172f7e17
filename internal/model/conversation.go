// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"time"
)

// MaxMessages caps the conversation log. Sessions run to tens of messages in
// practice; the cap only guards against unbounded growth from a stuck client.
const MaxMessages = 1000

// ErrMessageIndex is returned when a message index is out of range.
var ErrMessageIndex = errors.New("message index out of range")

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds the ordered chat log for one PRD session.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Messages []*Message `json:"messages"`
}

// NewConversation creates an empty conversation.
func NewConversation(id string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]*Message, 0),
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AddMessage appends a message to the log.
func (c *Conversation) AddMessage(msg *Message) {
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	c.updateTitle()
	c.pruneOldMessages()
}

// AddUserMessage creates and appends a user message.
func (c *Conversation) AddUserMessage(content string) *Message {
	msg := NewUserMessage(content)
	c.AddMessage(msg)
	return msg
}

// AddAssistantMessage creates and appends an assistant message.
func (c *Conversation) AddAssistantMessage(content string) *Message {
	msg := NewAssistantMessage(content)
	c.AddMessage(msg)
	return msg
}

// RemoveAt deletes the message at index. The caller is responsible for
// rebuilding the document by replay afterwards.
func (c *Conversation) RemoveAt(index int) error {
	if index < 0 || index >= len(c.Messages) {
		return ErrMessageIndex
	}
	c.Messages = append(c.Messages[:index], c.Messages[index+1:]...)
	c.UpdatedAt = time.Now()
	return nil
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// IsEmpty reports whether the log has no messages.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// UserContents returns the content of every user message in order. This is
// the input to a replay.
func (c *Conversation) UserContents() []string {
	contents := make([]string, 0, len(c.Messages))
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			contents = append(contents, msg.Content)
		}
	}
	return contents
}

// =============================================================================
// TITLE AND PREVIEW
// =============================================================================

// updateTitle auto-generates a title from the first user message if not set.
func (c *Conversation) updateTitle() {
	if c.Title != "" {
		return
	}
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			c.Title = msg.Preview(50)
			return
		}
	}
}

// GetTitle returns the title or a default for untitled conversations.
func (c *Conversation) GetTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return "New Conversation"
}

// Preview returns a short one-line preview for listings.
func (c *Conversation) Preview() string {
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			return msg.Preview(80)
		}
	}
	return "Empty conversation"
}

// =============================================================================
// COPYING
// =============================================================================

// Clone creates a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := &Conversation{
		ID:        c.ID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Messages:  make([]*Message, len(c.Messages)),
	}
	for i, msg := range c.Messages {
		msgCopy := *msg
		msgCopy.TaskIDs = append([]string(nil), msg.TaskIDs...)
		clone.Messages[i] = &msgCopy
	}
	return clone
}

// pruneOldMessages drops the oldest messages once the log exceeds
// MaxMessages.
func (c *Conversation) pruneOldMessages() {
	if len(c.Messages) <= MaxMessages {
		return
	}
	c.Messages = c.Messages[len(c.Messages)-MaxMessages:]
}
