// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/Snail3D/prplbry/internal/engine"
	"github.com/Snail3D/prplbry/internal/model"
	"github.com/Snail3D/prplbry/internal/prd"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionLimit is returned when the registry is full.
	ErrSessionLimit = errors.New("session limit reached")
	// ErrTaskLimit is returned when a locked session hits the free task cap.
	ErrTaskLimit = errors.New("free task limit reached")
	// ErrBadUnlockCode is returned when an unlock code does not verify.
	ErrBadUnlockCode = errors.New("invalid unlock code")
)

// =============================================================================
// CONFIG
// =============================================================================

// PBKDF2 parameters for unlock-code verification, matching how the stored
// hash was produced.
const (
	unlockIterations = 100000
	unlockKeySize    = 32
)

// Config holds registry limits and the unlock-code credential.
type Config struct {
	// IdleTimeout evicts sessions idle longer than this (default 30m).
	IdleTimeout time.Duration
	// SweepInterval is how often the janitor runs (default 1m).
	SweepInterval time.Duration
	// MaxSessions caps the registry (default 500).
	MaxSessions int
	// FreeTaskLimit caps tasks per locked session; 0 disables the limit.
	FreeTaskLimit int
	// UnlockSalt and UnlockHash are the hex-encoded PBKDF2-SHA-256 salt and
	// derived key for the unlock code. Empty hash disables unlocking (the
	// free limit then binds every session, or no session when the limit is
	// also zero).
	UnlockSalt string
	UnlockHash string
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:   30 * time.Minute,
		SweepInterval: time.Minute,
		MaxSessions:   500,
		FreeTaskLimit: 15,
	}
}

// =============================================================================
// MANAGER
// =============================================================================

// ChatResponse is the outcome of one chat turn, shaped for the API layer.
type ChatResponse struct {
	SessionID string   `json:"session_id"`
	Reply     string   `json:"reply"`
	Step      string   `json:"step"`
	TaskIDs   []string `json:"task_ids,omitempty"`
	TaskCount int      `json:"task_count"`
	Summary   string   `json:"summary"`
	// Export is the live document in export form, refreshed every turn so
	// the client can render the PRD pane without a second request.
	Export string `json:"export"`
}

// Manager is the session registry. The registry lock guards the map only;
// each session serializes its own mutations under its own lock, so slow
// turns on one session never block another.
type Manager struct {
	cfg    Config
	driver *engine.Driver

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session registry.
func NewManager(cfg Config) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultConfig().MaxSessions
	}
	return &Manager{
		cfg:      cfg,
		driver:   engine.NewDriver(),
		sessions: make(map[string]*Session),
	}
}

// UpdateConfig applies reloadable settings (limits, timeouts, unlock
// credential) to a running registry. MaxSessions and the sweep interval
// apply from the next check; existing sessions are not evicted here.
func (m *Manager) UpdateConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.IdleTimeout > 0 {
		m.cfg.IdleTimeout = cfg.IdleTimeout
	}
	if cfg.MaxSessions > 0 {
		m.cfg.MaxSessions = cfg.MaxSessions
	}
	m.cfg.FreeTaskLimit = cfg.FreeTaskLimit
	m.cfg.UnlockSalt = cfg.UnlockSalt
	m.cfg.UnlockHash = cfg.UnlockHash
	log.Printf("SESSION_CONFIG | max=%d free_limit=%d idle=%s",
		m.cfg.MaxSessions, m.cfg.FreeTaskLimit, m.cfg.IdleTimeout)
}

// Driver exposes the conversation driver for callers that rebuild documents
// outside a live session (saved-conversation restore).
func (m *Manager) Driver() *engine.Driver {
	return m.driver
}

// GetOrCreate returns the session for id, creating a fresh one when id is
// empty or unknown. The returned ID is authoritative; clients must adopt it.
func (m *Manager) GetOrCreate(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if s, ok := m.sessions[id]; ok {
			return s, nil
		}
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		return nil, ErrSessionLimit
	}
	s := newSession(m.driver.Greeting())
	if m.cfg.UnlockHash == "" && m.cfg.FreeTaskLimit <= 0 {
		s.Unlocked = true
	}
	m.sessions[s.ID] = s
	log.Printf("SESSION_CREATE | id=%s total=%d", s.ID, len(m.sessions))
	return s, nil
}

// Get returns an existing session or ErrSessionNotFound.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// =============================================================================
// CHAT
// =============================================================================

// Chat applies one user message to a session and returns the reply. The
// whole mutate-and-respond cycle runs under the session lock.
func (m *Manager) Chat(id, message string) (ChatResponse, error) {
	s, err := m.GetOrCreate(id)
	if err != nil {
		return ChatResponse{}, err
	}

	cfg := m.config()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if taskLimited(cfg, s) && s.Step == engine.StepFeatures && !engine.IsCompletion(message) {
		return ChatResponse{}, ErrTaskLimit
	}

	res, err := m.driver.Advance(s.Step, s.Doc, message)
	if err != nil {
		return ChatResponse{}, err
	}

	userMsg := s.Conv.AddUserMessage(message)
	userMsg.TaskIDs = res.TaskIDs
	s.Conv.AddAssistantMessage(res.Reply)
	s.Step = res.Step

	log.Printf("CHAT | session=%s step=%s tasks=%d", s.ID, s.Step, s.Doc.TaskCount())
	return m.response(s, res), nil
}

// config returns a snapshot of the registry settings, safe against
// concurrent UpdateConfig.
func (m *Manager) config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// taskLimited reports whether the free-tier cap blocks new tasks. Caller
// holds the session lock.
func taskLimited(cfg Config, s *Session) bool {
	return !s.Unlocked && cfg.FreeTaskLimit > 0 && s.Doc.TaskCount() >= cfg.FreeTaskLimit
}

// response builds a ChatResponse snapshot. Caller holds the session lock.
func (m *Manager) response(s *Session, res engine.Result) ChatResponse {
	return ChatResponse{
		SessionID: s.ID,
		Reply:     res.Reply,
		Step:      s.Step.String(),
		TaskIDs:   res.TaskIDs,
		TaskCount: s.Doc.TaskCount(),
		Summary:   s.Doc.Summary(),
		Export:    prd.Export(s.Doc),
	}
}

// =============================================================================
// DOCUMENT OPERATIONS
// =============================================================================

// Export returns the export text and compressed block for a session.
func (m *Manager) Export(id string) (export, compressed string, err error) {
	s, err := m.Get(id)
	if err != nil {
		return "", "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return prd.Export(s.Doc), prd.CompressedBlock(s.Doc), nil
}

// Restore replaces a session's document with a parsed export paste. The chat
// log restarts with a marker message and the script resumes at the
// priorities step, since the restored document is already feature-complete.
// Rebuild-by-replay does not apply to a restored session until it is reset.
func (m *Manager) Restore(id, text string) (ChatResponse, error) {
	// Parse before touching the registry so a malformed paste from a client
	// with no session never allocates a slot.
	doc, err := prd.Parse(text)
	if err != nil {
		return ChatResponse{}, err
	}

	s, err := m.GetOrCreate(id)
	if err != nil {
		return ChatResponse{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	s.Doc = doc
	s.Step = engine.StepPriorities
	s.Restored = true
	s.Conv = model.NewConversation(s.ID)
	reply := "Restored " + doc.Summary() + ". " + m.driver.Prompt(engine.StepPriorities)
	s.Conv.AddAssistantMessage(reply)

	log.Printf("RESTORE | session=%s tasks=%d", s.ID, doc.TaskCount())
	return m.response(s, engine.Result{Reply: reply}), nil
}

// SaveState is an atomic capture of a session for persistence, taken under
// one hold of the session lock so the log, export, and step never disagree.
type SaveState struct {
	Conv     *model.Conversation
	Export   string
	Step     string
	Unlocked bool
	Restored bool
}

// SaveState captures a session for persistence.
func (m *Manager) SaveState(id string) (SaveState, error) {
	s, err := m.Get(id)
	if err != nil {
		return SaveState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return SaveState{
		Conv:     s.Conv.Clone(),
		Export:   prd.Export(s.Doc),
		Step:     s.Step.String(),
		Unlocked: s.Unlocked,
		Restored: s.Restored,
	}, nil
}

// Adopt installs a persisted conversation as a new live session. The
// document is rebuilt by replaying the log; when the log cannot reproduce
// it (a restored-paste session), the export snapshot is parsed instead and
// the stored step applies.
func (m *Manager) Adopt(conv *model.Conversation, export, stepName string, unlocked, restored bool) (ChatResponse, error) {
	s, err := m.GetOrCreate("")
	if err != nil {
		return ChatResponse{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	clone := conv.Clone()
	clone.ID = s.ID
	s.Conv = clone
	s.Unlocked = s.Unlocked || unlocked
	s.Restored = restored

	if restored && export != "" {
		// The stored log did not produce this document; replaying it would
		// reconstruct garbage. Trust the snapshot.
		if doc, perr := prd.Parse(export); perr == nil {
			s.Doc = doc
			s.Step = engine.StepPriorities
			if step, ok := engine.ParseStep(stepName); ok {
				s.Step = step
			}
			log.Printf("ADOPT | session=%s messages=%d tasks=%d",
				s.ID, s.Conv.MessageCount(), s.Doc.TaskCount())
			return m.response(s, engine.Result{Reply: m.driver.Prompt(s.Step)}), nil
		}
	}

	s.Doc, s.Step = m.driver.Rebuild(clone.Messages)

	if s.Doc.TaskCount() == 0 && export != "" {
		doc, perr := prd.Parse(export)
		if perr == nil {
			s.Doc = doc
			s.Restored = true
			if step, ok := engine.ParseStep(stepName); ok {
				s.Step = step
			}
		}
	}

	log.Printf("ADOPT | session=%s messages=%d tasks=%d",
		s.ID, s.Conv.MessageCount(), s.Doc.TaskCount())
	return m.response(s, engine.Result{Reply: m.driver.Prompt(s.Step)}), nil
}

// DeleteMessage removes one chat message and rebuilds the document by
// replaying the surviving user messages from scratch. Restored sessions
// keep their document untouched; only the log entry is removed.
func (m *Manager) DeleteMessage(id string, index int) (ChatResponse, error) {
	s, err := m.Get(id)
	if err != nil {
		return ChatResponse{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if err := s.Conv.RemoveAt(index); err != nil {
		return ChatResponse{}, err
	}

	if s.Restored {
		// The document came from a paste, not the chat log; replay would
		// start from an empty document and wipe it. Keep it as it stands.
		log.Printf("MESSAGE_REMOVE | session=%s messages=%d tasks=%d",
			s.ID, s.Conv.MessageCount(), s.Doc.TaskCount())
		return m.response(s, engine.Result{Reply: "Message removed."}), nil
	}

	s.Doc, s.Step = m.driver.Rebuild(s.Conv.Messages)

	log.Printf("REBUILD | session=%s messages=%d tasks=%d",
		s.ID, s.Conv.MessageCount(), s.Doc.TaskCount())
	return m.response(s, engine.Result{Reply: "Message removed and PRD rebuilt."}), nil
}

// Reset wipes a session back to the opening prompt, keeping its ID and
// unlock state.
func (m *Manager) Reset(id string) (ChatResponse, error) {
	s, err := m.Get(id)
	if err != nil {
		return ChatResponse{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	s.Doc = prd.New()
	s.Step = engine.StepVision
	s.Restored = false
	s.Conv = model.NewConversation(s.ID)
	greeting := m.driver.Greeting()
	s.Conv.AddAssistantMessage(greeting)

	log.Printf("RESET | session=%s", s.ID)
	return m.response(s, engine.Result{Reply: greeting}), nil
}

// =============================================================================
// UNLOCK
// =============================================================================

// Unlock verifies an unlock code and lifts the task limit for the session.
func (m *Manager) Unlock(id, code string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if !m.verifyUnlockCode(code) {
		log.Printf("UNLOCK_FAIL | session=%s", id)
		return ErrBadUnlockCode
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.Unlocked = true
	log.Printf("UNLOCK | session=%s", id)
	return nil
}

// verifyUnlockCode derives a key from the code and compares it to the
// configured hash in constant time.
func (m *Manager) verifyUnlockCode(code string) bool {
	cfg := m.config()
	if cfg.UnlockHash == "" {
		return false
	}
	salt, err := hex.DecodeString(cfg.UnlockSalt)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(cfg.UnlockHash)
	if err != nil || len(want) != unlockKeySize {
		return false
	}
	got := pbkdf2.Key([]byte(code), salt, unlockIterations, unlockKeySize, sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// HashUnlockCode derives the hex salt and hash pair for a plaintext code.
// Used by the config CLI to provision the credential.
func HashUnlockCode(code string, salt []byte) (saltHex, hashHex string) {
	key := pbkdf2.Key([]byte(code), salt, unlockIterations, unlockKeySize, sha256.New)
	return hex.EncodeToString(salt), hex.EncodeToString(key)
}

// =============================================================================
// STATUS AND LIFECYCLE
// =============================================================================

// Status returns a snapshot of one session.
func (m *Manager) Status(id string) (Status, error) {
	s, err := m.Get(id)
	if err != nil {
		return Status{}, err
	}

	// Config snapshot first: the sweeper takes registry-then-session, so
	// never acquire the registry lock while holding a session lock.
	cfg := m.config()

	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := -1
	if !s.Unlocked && cfg.FreeTaskLimit > 0 {
		remaining = cfg.FreeTaskLimit - s.Doc.TaskCount()
		if remaining < 0 {
			remaining = 0
		}
	}
	return Status{
		ID:             s.ID,
		Step:           s.Step.String(),
		Title:          s.Conv.GetTitle(),
		Summary:        s.Doc.Summary(),
		TaskCount:      s.Doc.TaskCount(),
		MessageCount:   s.Conv.MessageCount(),
		Unlocked:       s.Unlocked,
		TasksRemaining: remaining,
		CreatedAt:      s.CreatedAt,
		LastActivity:   s.lastActivity,
	}, nil
}

// List returns status snapshots for every live session, newest first.
func (m *Manager) List() []Status {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	statuses := make([]Status, 0, len(ids))
	for _, id := range ids {
		st, err := m.Status(id)
		if err != nil {
			continue
		}
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].LastActivity.After(statuses[j].LastActivity)
	})
	return statuses
}

// Delete removes a session from the registry.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	log.Printf("SESSION_DELETE | id=%s total=%d", id, len(m.sessions))
	return nil
}

// Sweep evicts sessions idle beyond the timeout. Returns the eviction count.
func (m *Manager) Sweep() int {
	now := time.Now()

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := s.idleFor(now)
		s.mu.Unlock()
		if idle >= m.cfg.IdleTimeout {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(m.sessions, id)
	}
	total := len(m.sessions)
	m.mu.Unlock()

	if len(expired) > 0 {
		log.Printf("SESSION_SWEEP | evicted=%d total=%d", len(expired), total)
	}
	return len(expired)
}

// StartJanitor runs the idle sweep until ctx is cancelled.
func (m *Manager) StartJanitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.config().SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}
