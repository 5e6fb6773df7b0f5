package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageConstructors(t *testing.T) {
	tests := []struct {
		name     string
		msg      *Message
		expected MessageRole
	}{
		{"system", NewSystemMessage("rules"), RoleSystem},
		{"user", NewUserMessage("hi"), RoleUser},
		{"assistant", NewAssistantMessage("hello"), RoleAssistant},
		{"tool", NewToolMessage("search", "results"), RoleTool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.msg.Role)
		})
	}

	t.Run("tool message carries its name", func(t *testing.T) {
		msg := NewToolMessage("search", "results")
		assert.Equal(t, "search", msg.Name)
		assert.Equal(t, "results", msg.Content)
	})
}

func TestMessageChaining(t *testing.T) {
	msg := NewAssistantMessage("checking").
		WithName("helper").
		WithToolCall(ToolCall{ID: "call-1", Name: "search", Arguments: `{"q":"go"}`}).
		WithToolCall(ToolCall{ID: "call-2", Name: "fetch"})

	assert.Equal(t, "helper", msg.Name)
	require.Len(t, msg.ToolCalls, 2)
	assert.Equal(t, "search", msg.ToolCalls[0].Name)
	assert.Equal(t, "fetch", msg.ToolCalls[1].Name)
}

func TestStoredMessageClone(t *testing.T) {
	original := &StoredMessage{
		ID:             "msg-1",
		ConversationID: "conv-1",
		Message: Message{
			Role:      RoleAssistant,
			Content:   "hello",
			ToolCalls: []ToolCall{{ID: "call-1", Name: "search"}},
		},
		CreatedAt:  time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
		TokenCount: 5,
		Embedding:  []float32{0.1, 0.2},
		Metadata:   map[string]any{"source": "test"},
	}

	clone := original.Clone()
	require.Equal(t, original, clone)

	// Mutating the clone must not reach back into the original.
	clone.Message.Content = "tampered"
	clone.Embedding[0] = 9
	clone.Metadata["source"] = "elsewhere"
	clone.Message.ToolCalls[0].Name = "renamed"

	assert.Equal(t, "hello", original.Message.Content)
	assert.Equal(t, float32(0.1), original.Embedding[0])
	assert.Equal(t, "test", original.Metadata["source"])
	assert.Equal(t, "search", original.Message.ToolCalls[0].Name)
}
