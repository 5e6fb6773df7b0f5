package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonlabs/mnemo/pkg/types"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected int
	}{
		{
			name:     "empty text costs nothing",
			text:     "",
			expected: 0,
		},
		{
			name:     "prose uses the default ratio",
			text:     "the cat sat on the mat", // 22 chars, avg word 2.8
			expected: 6,                        // ceil(22 / 4.0)
		},
		{
			name:     "dense text uses the tighter ratio",
			text:     "reconcileDeployment(ctx, namespacedName)", // 40 chars, two long words
			expected: 12,                                         // ceil(40 / 3.5)
		},
		{
			name:     "single character rounds up",
			text:     "a",
			expected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EstimateTokens(tt.text))
		})
	}
}

func TestEstimateTokensMonotonic(t *testing.T) {
	// Longer text in the same register never estimates cheaper.
	short := strings.Repeat("hello world ", 5)
	long := strings.Repeat("hello world ", 50)
	assert.Greater(t, EstimateTokens(long), EstimateTokens(short))
}

func TestEstimateMessageTokens(t *testing.T) {
	t.Run("includes per-message overhead", func(t *testing.T) {
		msg := types.NewUserMessage("hi")
		assert.Equal(t, messageOverhead+EstimateTokens("hi"), EstimateMessageTokens(msg))
	})

	t.Run("empty message still costs overhead", func(t *testing.T) {
		assert.Equal(t, messageOverhead, EstimateMessageTokens(types.NewUserMessage("")))
	})

	t.Run("name adds to the cost", func(t *testing.T) {
		plain := types.NewToolMessage("", "result")
		named := types.NewToolMessage("search", "result")
		assert.Greater(t, EstimateMessageTokens(named), EstimateMessageTokens(plain))
	})

	t.Run("tool calls add overhead plus content", func(t *testing.T) {
		msg := types.NewAssistantMessage("").WithToolCall(types.ToolCall{
			Name:      "search",
			Arguments: `{"query": "weather"}`,
		})
		expected := messageOverhead + toolCallOverhead +
			EstimateTokens("search") + EstimateTokens(`{"query": "weather"}`)
		assert.Equal(t, expected, EstimateMessageTokens(msg))
	})
}

func TestEstimateStoredTokens(t *testing.T) {
	t.Run("prefers the precomputed count", func(t *testing.T) {
		sm := &types.StoredMessage{
			Message:    *types.NewUserMessage("some content here"),
			TokenCount: 99,
		}
		assert.Equal(t, 99, EstimateStoredTokens(sm))
	})

	t.Run("falls back to estimation when unset", func(t *testing.T) {
		sm := &types.StoredMessage{Message: *types.NewUserMessage("some content here")}
		assert.Equal(t, EstimateMessageTokens(&sm.Message), EstimateStoredTokens(sm))
	})
}

func storedWithCost(role types.MessageRole, content string, tokens int) *types.StoredMessage {
	return &types.StoredMessage{
		Message:    types.Message{Role: role, Content: content},
		TokenCount: tokens,
	}
}

func TestTruncate(t *testing.T) {
	msgs := []*types.StoredMessage{
		storedWithCost(types.RoleUser, "first", 10),
		storedWithCost(types.RoleAssistant, "second", 10),
		storedWithCost(types.RoleUser, "third", 10),
		storedWithCost(types.RoleAssistant, "fourth", 10),
	}

	tests := []struct {
		name      string
		maxTokens int
		expected  []string
	}{
		{
			name:      "everything fits",
			maxTokens: 100,
			expected:  []string{"first", "second", "third", "fourth"},
		},
		{
			name:      "keeps the most recent suffix",
			maxTokens: 25,
			expected:  []string{"third", "fourth"},
		},
		{
			name:      "exactly one message",
			maxTokens: 10,
			expected:  []string{"fourth"},
		},
		{
			name:      "zero budget keeps nothing",
			maxTokens: 0,
			expected:  nil,
		},
		{
			name:      "newest alone exceeds budget",
			maxTokens: 5,
			expected:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept := Truncate(msgs, tt.maxTokens, false)
			require.Len(t, kept, len(tt.expected))
			for i, content := range tt.expected {
				assert.Equal(t, content, kept[i].Message.Content)
			}
		})
	}
}

func TestTruncateKeepSystem(t *testing.T) {
	msgs := []*types.StoredMessage{
		storedWithCost(types.RoleSystem, "rules", 10),
		storedWithCost(types.RoleUser, "first", 10),
		storedWithCost(types.RoleAssistant, "second", 10),
		storedWithCost(types.RoleUser, "third", 10),
	}

	t.Run("system survives while older turns drop", func(t *testing.T) {
		kept := Truncate(msgs, 25, true)
		require.Len(t, kept, 2)
		assert.Equal(t, "rules", kept[0].Message.Content)
		assert.Equal(t, "third", kept[1].Message.Content)
	})

	t.Run("original order is preserved", func(t *testing.T) {
		kept := Truncate(msgs, 35, true)
		require.Len(t, kept, 3)
		assert.Equal(t, "rules", kept[0].Message.Content)
		assert.Equal(t, "second", kept[1].Message.Content)
		assert.Equal(t, "third", kept[2].Message.Content)
	})

	t.Run("oversized system cost abandons the exemption", func(t *testing.T) {
		heavy := []*types.StoredMessage{
			storedWithCost(types.RoleSystem, "rules", 50),
			storedWithCost(types.RoleUser, "question", 10),
		}
		kept := Truncate(heavy, 20, true)
		require.Len(t, kept, 1)
		assert.Equal(t, "question", kept[0].Message.Content)
	})

	t.Run("input is not mutated", func(t *testing.T) {
		before := make([]*types.StoredMessage, len(msgs))
		copy(before, msgs)
		Truncate(msgs, 15, true)
		assert.Equal(t, before, msgs)
	})
}
