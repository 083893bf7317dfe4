package conversation_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/concierge/internal/conversation"
)

func newSQLiteStore(t *testing.T, path string, window int) *conversation.SQLiteStore {
	t.Helper()
	store, err := conversation.NewSQLiteStore(path, window)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_AppendAndTrim(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t, filepath.Join(t.TempDir(), "turns.db"), 0)

	empty, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Empty(t, empty)

	var history conversation.History
	for i := range 12 {
		history, err = store.AppendAndTrim(ctx, "key", userTurn(fmt.Sprintf("msg-%d", i)))
		require.NoError(t, err)
	}

	require.Len(t, history, conversation.DefaultWindow)
	assert.Equal(t, "msg-2", history[0].Content)
	assert.Equal(t, "msg-11", history[9].Content)

	_, err = store.AppendAndTrim(ctx, "other", assistantTurn("hello"))
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, conversation.Stats{Conversations: 2, Turns: 11}, stats)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "turns.db")

	first, err := conversation.NewSQLiteStore(path, 4)
	require.NoError(t, err)
	_, err = first.AppendAndTrim(ctx, "key", userTurn("oi"))
	require.NoError(t, err)
	_, err = first.AppendAndTrim(ctx, "key", assistantTurn("olá!"))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := newSQLiteStore(t, path, 4)
	history, err := second.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, conversation.History{userTurn("oi"), assistantTurn("olá!")}, history)
}
