// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Snail3D/prplbry/internal/engine"
	"github.com/Snail3D/prplbry/internal/model"
	"github.com/Snail3D/prplbry/internal/prd"
)

// Session is one live PRD-building session. All mutation happens under mu,
// held by the Manager for the whole advance-and-respond cycle so concurrent
// requests on the same session serialize.
type Session struct {
	mu sync.Mutex

	ID        string
	CreatedAt time.Time

	lastActivity time.Time

	Step engine.Step
	Doc  *prd.Document
	Conv *model.Conversation

	// Unlocked lifts the free-tier task limit.
	Unlocked bool

	// Restored marks a document installed from an export paste rather than
	// built from the chat log. Replay cannot reconstruct such a document,
	// so rebuild-by-replay is suspended until the session is reset.
	Restored bool
}

// newSession creates an empty session with a generated ID and the opening
// assistant message already logged.
func newSession(greeting string) *Session {
	now := time.Now()
	id := "sess_" + uuid.NewString()
	s := &Session{
		ID:           id,
		CreatedAt:    now,
		lastActivity: now,
		Step:         engine.StepVision,
		Doc:          prd.New(),
		Conv:         model.NewConversation(id),
	}
	s.Conv.AddAssistantMessage(greeting)
	return s
}

// touch updates the activity timestamp. Caller holds mu.
func (s *Session) touch() {
	s.lastActivity = time.Now()
}

// idleFor reports how long the session has been idle. Caller holds mu.
func (s *Session) idleFor(now time.Time) time.Duration {
	return now.Sub(s.lastActivity)
}

// Status is a read-only snapshot of a session for the status endpoint and
// the sessions CLI listing.
type Status struct {
	ID           string    `json:"id"`
	Step         string    `json:"step"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary"`
	TaskCount    int       `json:"task_count"`
	MessageCount int       `json:"message_count"`
	Unlocked     bool      `json:"unlocked"`
	// TasksRemaining is the free-tier headroom; -1 means unlimited.
	TasksRemaining int       `json:"tasks_remaining"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
}
