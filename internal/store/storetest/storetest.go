// Package storetest holds the behaviour every store.Store implementation
// must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"branchchat-backend/internal/models"
	"branchchat-backend/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises s. It expects an empty store.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := func(user, conv string, created time.Time) *models.ConversationRecord {
		return &models.ConversationRecord{
			UserID:         user,
			ConversationID: conv,
			Title:          "New conversation",
			Model:          "claude-v2",
			LastMessageID:  "m1",
			MessageMap:     []byte(`{"system":{}}`),
			CreatedAt:      created,
		}
	}

	t.Run("get missing", func(t *testing.T) {
		_, err := s.GetConversation(ctx, "alice", "none")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("put and get", func(t *testing.T) {
		require.NoError(t, s.PutConversation(ctx, rec("alice", "c1", base)))

		got, err := s.GetConversation(ctx, "alice", "c1")
		require.NoError(t, err)
		assert.Equal(t, "New conversation", got.Title)
		assert.Equal(t, "m1", got.LastMessageID)
		assert.JSONEq(t, `{"system":{}}`, string(got.MessageMap))
		assert.True(t, got.CreatedAt.Equal(base), "created_at %s", got.CreatedAt)
	})

	t.Run("put replaces and keeps created time", func(t *testing.T) {
		r := rec("alice", "c1", time.Time{})
		r.LastMessageID = "m2"
		r.MessageMap = []byte(`{"system":{},"m2":{}}`)
		require.NoError(t, s.PutConversation(ctx, r))

		got, err := s.GetConversation(ctx, "alice", "c1")
		require.NoError(t, err)
		assert.Equal(t, "m2", got.LastMessageID)
		assert.JSONEq(t, `{"system":{},"m2":{}}`, string(got.MessageMap))
		assert.True(t, got.CreatedAt.Equal(base))
	})

	t.Run("ownership", func(t *testing.T) {
		_, err := s.GetConversation(ctx, "bob", "c1")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, s.DeleteConversation(ctx, "bob", "c1"), store.ErrNotFound)
		assert.ErrorIs(t, s.UpdateConversationTitle(ctx, "bob", "c1", "x"), store.ErrNotFound)
	})

	t.Run("list newest first without maps", func(t *testing.T) {
		require.NoError(t, s.PutConversation(ctx, rec("alice", "c2", base.Add(time.Hour))))
		require.NoError(t, s.PutConversation(ctx, rec("alice", "c0", base.Add(-time.Hour))))
		require.NoError(t, s.PutConversation(ctx, rec("bob", "b1", base)))

		list, err := s.ListConversations(ctx, "alice")
		require.NoError(t, err)
		ids := make([]string, 0, len(list))
		for _, r := range list {
			ids = append(ids, r.ConversationID)
			assert.Nil(t, r.MessageMap)
		}
		assert.Equal(t, []string{"c2", "c1", "c0"}, ids)

		empty, err := s.ListConversations(ctx, "carol")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("update title", func(t *testing.T) {
		require.NoError(t, s.UpdateConversationTitle(ctx, "alice", "c2", "Renamed"))
		got, err := s.GetConversation(ctx, "alice", "c2")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Title)
		assert.JSONEq(t, `{"system":{}}`, string(got.MessageMap))
	})

	t.Run("delete one", func(t *testing.T) {
		require.NoError(t, s.DeleteConversation(ctx, "alice", "c0"))
		_, err := s.GetConversation(ctx, "alice", "c0")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, s.DeleteConversation(ctx, "alice", "c0"), store.ErrNotFound)
	})

	t.Run("delete all of a user", func(t *testing.T) {
		n, err := s.DeleteConversationsByUser(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		list, err := s.ListConversations(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, list)

		_, err = s.GetConversation(ctx, "bob", "b1")
		assert.NoError(t, err)
	})
}
