// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Snail3D/prplbry/internal/model"
)

func newTestStore(t *testing.T) *SavedStore {
	t.Helper()
	store, err := NewSavedStoreWithDir(t.TempDir())
	require.NoError(t, err)
	return store
}

func testConversation(id string) *model.Conversation {
	conv := model.NewConversation(id)
	conv.AddAssistantMessage("What are we building today?")
	msg := conv.AddUserMessage("Building a todo app")
	msg.TaskIDs = []string{"SET-001", "SET-002"}
	conv.AddAssistantMessage("Building A Todo. What's the tech stack?")
	return conv
}

func TestSavedStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	conv := testConversation("sess_abc")

	st := Snapshot(conv, "awaiting_stack", "pn: Building A Todo\n", false, true)
	id, err := store.Save(st)
	require.NoError(t, err)
	assert.Equal(t, "sess_abc", id)

	loaded, err := store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, "awaiting_stack", loaded.Step)
	assert.Equal(t, "pn: Building A Todo\n", loaded.Export)
	assert.True(t, loaded.Restored)
	require.Len(t, loaded.Messages, 3)
	assert.Equal(t, []string{"SET-001", "SET-002"}, loaded.Messages[1].TaskIDs)

	rebuilt := loaded.Conversation()
	assert.Equal(t, conv.MessageCount(), rebuilt.MessageCount())
	assert.Equal(t, conv.UserContents(), rebuilt.UserContents())
	assert.Equal(t, "Building a todo app", rebuilt.GetTitle())
}

func TestSavedStore_LoadMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load("saved_missing")
	assert.ErrorIs(t, err, ErrSavedNotFound)
	assert.ErrorIs(t, store.Delete("saved_missing"), ErrSavedNotFound)
}

func TestSavedStore_EmptyListsAreArrays(t *testing.T) {
	store := newTestStore(t)

	// JSON encoding must yield [] rather than null for API clients.
	metas, err := store.List()
	require.NoError(t, err)
	assert.NotNil(t, metas)
	assert.Empty(t, metas)

	results, err := store.Search("nothing matches this")
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSavedStore_ListAndSearch(t *testing.T) {
	store := newTestStore(t)

	for _, text := range []string{"Building a todo app", "Building a recipe box"} {
		conv := model.NewConversation("")
		conv.AddUserMessage(text)
		st := Snapshot(conv, "awaiting_stack", "", false, false)
		st.ID = "" // force generated ID
		_, err := store.Save(st)
		require.NoError(t, err)
	}

	metas, err := store.List()
	require.NoError(t, err)
	assert.Len(t, metas, 2)

	results, err := store.Search("recipe")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Preview, "recipe box")

	// Empty query lists everything.
	results, err = store.Search("")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSavedStore_EnforceLimit(t *testing.T) {
	store := newTestStore(t)
	store.MaxSaved = 2

	for i := 0; i < 4; i++ {
		conv := model.NewConversation("")
		conv.AddUserMessage("message")
		st := Snapshot(conv, "awaiting_vision", "", false, false)
		st.ID = ""
		_, err := store.Save(st)
		require.NoError(t, err)
	}

	metas, err := store.List()
	require.NoError(t, err)
	assert.Len(t, metas, 2)
}

func TestSavedStore_Clear(t *testing.T) {
	store := newTestStore(t)
	conv := testConversation("sess_x")
	_, err := store.Save(Snapshot(conv, "done", "", true, false))
	require.NoError(t, err)

	require.NoError(t, store.Clear())
	metas, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestCounterStore(t *testing.T) {
	ctx := context.Background()
	store, err := OpenCounterStore(filepath.Join(t.TempDir(), "counters.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Increment(ctx, CounterSessions))
	require.NoError(t, store.Increment(ctx, CounterSessions))
	require.NoError(t, store.IncrementBy(ctx, CounterMessages, 5))

	total, err := store.Total(ctx, CounterSessions)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	todayCount, err := store.Today(ctx, CounterMessages)
	require.NoError(t, err)
	assert.Equal(t, int64(5), todayCount)

	totals, err := store.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), totals[CounterSessions])
	assert.Equal(t, int64(5), totals[CounterMessages])

	// Unknown counters read as zero.
	zero, err := store.Total(ctx, CounterUnlocks)
	require.NoError(t, err)
	assert.Zero(t, zero)
}
