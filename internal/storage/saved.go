// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Snail3D/prplbry/internal/model"
	"github.com/Snail3D/prplbry/internal/util"
)

// =============================================================================
// STORED SESSION TYPE
// =============================================================================

// StoredSession is a persisted PRD session: the chat log plus the document
// snapshot in export form. The log is authoritative; a loaded session can be
// rebuilt by replay, and the export snapshot is kept for listings and for
// restoring sessions whose document did not come from chat.
type StoredSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Step      string    `json:"step"`
	Unlocked  bool      `json:"unlocked,omitempty"`
	Restored  bool      `json:"restored,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Export is the document at save time, in export text form.
	Export string `json:"export"`

	Messages []StoredMessage `json:"messages"`
}

// StoredMessage is one persisted chat log entry.
type StoredMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	TaskIDs   []string  `json:"task_ids,omitempty"`
}

// SavedMeta is the listing view of a stored session.
type SavedMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Step         string    `json:"step"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
}

// Snapshot captures a live conversation into storable form. restored marks
// a document that came from an export paste rather than the chat log.
func Snapshot(conv *model.Conversation, step, export string, unlocked, restored bool) *StoredSession {
	st := &StoredSession{
		ID:        conv.ID,
		Title:     conv.GetTitle(),
		Step:      step,
		Unlocked:  unlocked,
		Restored:  restored,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
		Export:    export,
		Messages:  make([]StoredMessage, 0, len(conv.Messages)),
	}
	for _, msg := range conv.Messages {
		st.Messages = append(st.Messages, StoredMessage{
			ID:        msg.ID,
			Role:      string(msg.Role),
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
			TaskIDs:   append([]string(nil), msg.TaskIDs...),
		})
	}
	return st
}

// Conversation reconstructs the chat log from a stored session.
func (st *StoredSession) Conversation() *model.Conversation {
	conv := model.NewConversation(st.ID)
	conv.Title = st.Title
	conv.CreatedAt = st.CreatedAt
	for _, sm := range st.Messages {
		conv.AddMessage(&model.Message{
			ID:        sm.ID,
			Role:      model.Role(sm.Role),
			Content:   sm.Content,
			Timestamp: sm.Timestamp,
			TaskIDs:   append([]string(nil), sm.TaskIDs...),
		})
	}
	conv.UpdatedAt = st.UpdatedAt
	return conv
}

// Preview returns the first user message, truncated for listings.
func (st *StoredSession) Preview() string {
	for _, msg := range st.Messages {
		if msg.Role == string(model.RoleUser) && msg.Content != "" {
			return util.TruncateRunes(util.CollapseWhitespace(msg.Content), 80)
		}
	}
	return ""
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrSavedNotFound is returned when a saved session does not exist.
// Check with errors.Is(err, ErrSavedNotFound).
var ErrSavedNotFound = &StoreError{Message: "saved session not found"}

// StoreError is a store-level error with errors.Is support.
type StoreError struct {
	Message string
}

func (e *StoreError) Error() string {
	return e.Message
}

func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// SAVED SESSION STORE
// =============================================================================

// SavedStore persists sessions as one JSON file each.
type SavedStore struct {
	// BaseDir holds the JSON files. Default: ~/.prplbry/saved/
	BaseDir string

	// MaxSaved limits stored sessions; oldest are evicted (0 = unlimited).
	MaxSaved int
}

// NewSavedStore creates a store under the user's home directory.
func NewSavedStore() (*SavedStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewSavedStoreWithDir(filepath.Join(homeDir, ".prplbry", "saved"))
}

// NewSavedStoreWithDir creates a store with a custom directory.
func NewSavedStoreWithDir(baseDir string) (*SavedStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &SavedStore{
		BaseDir:  baseDir,
		MaxSaved: 100,
	}, nil
}

// =============================================================================
// SAVE AND LOAD
// =============================================================================

// Save persists a session and returns its ID.
func (s *SavedStore) Save(st *StoredSession) (string, error) {
	if st.ID == "" {
		st.ID = "saved_" + uuid.NewString()
	}
	st.UpdatedAt = time.Now()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = st.UpdatedAt
	}
	if st.Title == "" {
		st.Title = st.Preview()
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return "", err
	}

	// Atomic write with fsync so a crash never leaves a torn file.
	if err := util.AtomicWriteFile(s.filePath(st.ID), data, 0644); err != nil {
		return "", err
	}

	if s.MaxSaved > 0 {
		s.enforceLimit()
	}
	return st.ID, nil
}

// Load retrieves a saved session by ID.
func (s *SavedStore) Load(id string) (*StoredSession, error) {
	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSavedNotFound
		}
		return nil, err
	}

	var st StoredSession
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Delete removes a saved session by ID.
func (s *SavedStore) Delete(id string) error {
	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrSavedNotFound
		}
		return err
	}
	return nil
}

// =============================================================================
// LIST AND SEARCH
// =============================================================================

// List returns every saved session's metadata, most recent first.
func (s *SavedStore) List() ([]SavedMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SavedMeta{}, nil
		}
		return nil, err
	}

	// Non-nil even when empty so the API always serves a JSON array.
	metas := []SavedMeta{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		st, err := s.Load(id)
		if err != nil {
			// Skip corrupted files rather than failing the listing.
			continue
		}
		metas = append(metas, SavedMeta{
			ID:           st.ID,
			Title:        st.Title,
			Step:         st.Step,
			CreatedAt:    st.CreatedAt,
			UpdatedAt:    st.UpdatedAt,
			MessageCount: len(st.Messages),
			Preview:      st.Preview(),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// Search finds saved sessions whose title, preview, or any message content
// contains the query, case-insensitive. Empty query lists everything.
func (s *SavedStore) Search(query string) ([]SavedMeta, error) {
	all, err := s.List()
	if err != nil || query == "" {
		return all, err
	}

	query = strings.ToLower(query)
	results := []SavedMeta{}
	for _, meta := range all {
		if strings.Contains(strings.ToLower(meta.Title), query) ||
			strings.Contains(strings.ToLower(meta.Preview), query) {
			results = append(results, meta)
			continue
		}
		st, err := s.Load(meta.ID)
		if err != nil {
			continue
		}
		for _, msg := range st.Messages {
			if strings.Contains(strings.ToLower(msg.Content), query) {
				results = append(results, meta)
				break
			}
		}
	}
	return results, nil
}

// Clear removes all saved sessions.
func (s *SavedStore) Clear() error {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			os.Remove(filepath.Join(s.BaseDir, entry.Name()))
		}
	}
	return nil
}

// enforceLimit evicts the oldest saved sessions once over MaxSaved.
func (s *SavedStore) enforceLimit() {
	metas, err := s.List()
	if err != nil || len(metas) <= s.MaxSaved {
		return
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.Before(metas[j].UpdatedAt)
	})
	for i := 0; i < len(metas)-s.MaxSaved; i++ {
		s.Delete(metas[i].ID)
	}
}

// filePath returns the JSON path for a saved session ID.
func (s *SavedStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}
