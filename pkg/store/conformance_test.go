package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonlabs/mnemo/pkg/types"
)

// testClock hands out strictly increasing timestamps so ordering assertions
// do not depend on wall-clock resolution.
func testClock() Clock {
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func testIDs() IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("msg-%04d", n)
	}
}

// runStoreConformance exercises the Store contract shared by every backend.
func runStoreConformance(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("unknown conversation reads empty", func(t *testing.T) {
		s := newStore(t)
		msgs, err := s.Messages(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("add stamps id and timestamp", func(t *testing.T) {
		s := newStore(t)
		stored, err := s.AddMessage(ctx, &types.StoredMessage{
			ConversationID: "conv-1",
			Message:        *types.NewUserMessage("hello"),
		})
		require.NoError(t, err)
		assert.NotEmpty(t, stored.ID)
		assert.False(t, stored.CreatedAt.IsZero())
		assert.Equal(t, "conv-1", stored.ConversationID)
	})

	t.Run("add preserves caller-supplied id and timestamp", func(t *testing.T) {
		s := newStore(t)
		at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		stored, err := s.AddMessage(ctx, &types.StoredMessage{
			ID:             "fixed-id",
			ConversationID: "conv-1",
			Message:        *types.NewUserMessage("hello"),
			CreatedAt:      at,
		})
		require.NoError(t, err)
		assert.Equal(t, "fixed-id", stored.ID)
		assert.True(t, stored.CreatedAt.Equal(at))
	})

	t.Run("missing conversation id is rejected", func(t *testing.T) {
		s := newStore(t)
		_, err := s.AddMessage(ctx, &types.StoredMessage{
			Message: *types.NewUserMessage("orphan"),
		})
		assert.Error(t, err)
	})

	t.Run("round trips roles and content", func(t *testing.T) {
		s := newStore(t)
		in := []*types.StoredMessage{
			{ConversationID: "conv-1", Message: *types.NewSystemMessage("be brief")},
			{ConversationID: "conv-1", Message: *types.NewUserMessage("hi")},
			{ConversationID: "conv-1", Message: *types.NewAssistantMessage("hello").WithToolCall(
				types.ToolCall{ID: "call-1", Name: "search", Arguments: `{"q":"x"}`})},
			{ConversationID: "conv-1", Message: *types.NewToolMessage("search", "no results")},
		}
		_, err := s.AddMessages(ctx, in)
		require.NoError(t, err)

		out, err := s.Messages(ctx, "conv-1")
		require.NoError(t, err)
		require.Len(t, out, 4)
		assert.Equal(t, types.RoleSystem, out[0].Message.Role)
		assert.Equal(t, "hi", out[1].Message.Content)
		require.Len(t, out[2].Message.ToolCalls, 1)
		assert.Equal(t, "search", out[2].Message.ToolCalls[0].Name)
		assert.Equal(t, "search", out[3].Message.Name)
	})

	t.Run("reads come back in timestamp order", func(t *testing.T) {
		s := newStore(t)
		base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
		for i, offset := range []int{3, 1, 2} {
			_, err := s.AddMessage(ctx, &types.StoredMessage{
				ConversationID: "conv-1",
				Message:        *types.NewUserMessage(fmt.Sprintf("t+%d", offset)),
				CreatedAt:      base.Add(time.Duration(offset) * time.Minute),
				ID:             fmt.Sprintf("out-of-order-%d", i),
			})
			require.NoError(t, err)
		}

		out, err := s.Messages(ctx, "conv-1")
		require.NoError(t, err)
		require.Len(t, out, 3)
		assert.Equal(t, "t+1", out[0].Message.Content)
		assert.Equal(t, "t+2", out[1].Message.Content)
		assert.Equal(t, "t+3", out[2].Message.Content)
	})

	t.Run("conversations are isolated", func(t *testing.T) {
		s := newStore(t)
		_, err := s.AddMessage(ctx, &types.StoredMessage{
			ConversationID: "conv-a", Message: *types.NewUserMessage("a")})
		require.NoError(t, err)
		_, err = s.AddMessage(ctx, &types.StoredMessage{
			ConversationID: "conv-b", Message: *types.NewUserMessage("b")})
		require.NoError(t, err)

		a, err := s.Messages(ctx, "conv-a")
		require.NoError(t, err)
		b, err := s.Messages(ctx, "conv-b")
		require.NoError(t, err)
		require.Len(t, a, 1)
		require.Len(t, b, 1)
		assert.Equal(t, "a", a[0].Message.Content)
		assert.Equal(t, "b", b[0].Message.Content)
	})

	t.Run("replace keeps only the survivors", func(t *testing.T) {
		s := newStore(t)
		stored, err := s.AddMessages(ctx, []*types.StoredMessage{
			{ConversationID: "conv-1", Message: *types.NewUserMessage("one")},
			{ConversationID: "conv-1", Message: *types.NewUserMessage("two")},
			{ConversationID: "conv-1", Message: *types.NewUserMessage("three")},
		})
		require.NoError(t, err)

		require.NoError(t, s.ReplaceMessages(ctx, "conv-1", stored[1:]))

		out, err := s.Messages(ctx, "conv-1")
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "two", out[0].Message.Content)
		assert.Equal(t, stored[1].ID, out[0].ID)
		assert.True(t, out[0].CreatedAt.Equal(stored[1].CreatedAt))
	})

	t.Run("update patches content and embedding", func(t *testing.T) {
		s := newStore(t)
		stored, err := s.AddMessage(ctx, &types.StoredMessage{
			ConversationID: "conv-1", Message: *types.NewUserMessage("draft")})
		require.NoError(t, err)

		content := "final"
		tokens := 7
		err = s.UpdateMessage(ctx, stored.ID, Update{
			Content:    &content,
			TokenCount: &tokens,
			Embedding:  []float32{0.1, 0.2},
		})
		require.NoError(t, err)

		out, err := s.Messages(ctx, "conv-1")
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "final", out[0].Message.Content)
		assert.Equal(t, 7, out[0].TokenCount)
		assert.Equal(t, []float32{0.1, 0.2}, out[0].Embedding)
	})

	t.Run("update of unknown id returns ErrNotFound", func(t *testing.T) {
		s := newStore(t)
		content := "x"
		err := s.UpdateMessage(ctx, "ghost", Update{Content: &content})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete finds the message across conversations", func(t *testing.T) {
		s := newStore(t)
		_, err := s.AddMessage(ctx, &types.StoredMessage{
			ConversationID: "conv-a", Message: *types.NewUserMessage("keep")})
		require.NoError(t, err)
		victim, err := s.AddMessage(ctx, &types.StoredMessage{
			ConversationID: "conv-b", Message: *types.NewUserMessage("drop")})
		require.NoError(t, err)

		require.NoError(t, s.DeleteMessage(ctx, victim.ID))

		b, err := s.Messages(ctx, "conv-b")
		require.NoError(t, err)
		assert.Empty(t, b)
		a, err := s.Messages(ctx, "conv-a")
		require.NoError(t, err)
		assert.Len(t, a, 1)

		assert.ErrorIs(t, s.DeleteMessage(ctx, victim.ID), ErrNotFound)
	})

	t.Run("metadata round trip", func(t *testing.T) {
		s := newStore(t)
		meta, err := s.Metadata(ctx, "conv-1")
		require.NoError(t, err)
		assert.Nil(t, meta)

		require.NoError(t, s.SetMetadata(ctx, "conv-1", map[string]any{"summary": "so far"}))

		meta, err = s.Metadata(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, "so far", meta["summary"])
	})

	t.Run("clear removes messages and metadata", func(t *testing.T) {
		s := newStore(t)
		_, err := s.AddMessage(ctx, &types.StoredMessage{
			ConversationID: "conv-1", Message: *types.NewUserMessage("bye")})
		require.NoError(t, err)
		require.NoError(t, s.SetMetadata(ctx, "conv-1", map[string]any{"summary": "x"}))

		require.NoError(t, s.Clear(ctx, "conv-1"))

		msgs, err := s.Messages(ctx, "conv-1")
		require.NoError(t, err)
		assert.Empty(t, msgs)
		meta, err := s.Metadata(ctx, "conv-1")
		require.NoError(t, err)
		assert.Nil(t, meta)
	})

	t.Run("returned messages are detached copies", func(t *testing.T) {
		s := newStore(t)
		_, err := s.AddMessage(ctx, &types.StoredMessage{
			ConversationID: "conv-1", Message: *types.NewUserMessage("original")})
		require.NoError(t, err)

		out, err := s.Messages(ctx, "conv-1")
		require.NoError(t, err)
		out[0].Message.Content = "tampered"

		again, err := s.Messages(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, "original", again[0].Message.Content)
	})
}
