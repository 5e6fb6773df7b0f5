// Package tokenizer provides token accounting for the memory engine.
//
// Two paths exist: a heuristic estimator used by every strategy (so budget
// decisions stay consistent across strategies regardless of which model the
// caller targets), and a tiktoken-backed Tokenizer for callers that want
// model-exact counts.
package tokenizer

import (
	"math"
	"strings"

	"github.com/halcyonlabs/mnemo/pkg/types"
)

const (
	// charsPerToken ratios approximate subword tokenization. Prose averages
	// about four characters per token; content with long words (code,
	// identifiers, URLs) packs fewer characters into each token.
	defaultCharsPerToken = 4.0
	denseCharsPerToken   = 3.5

	// longWordThreshold is the average word length above which the denser
	// ratio applies.
	longWordThreshold = 7.0

	// messageOverhead covers role and separator tokens added per message by
	// chat completion APIs.
	messageOverhead = 4

	// toolCallOverhead covers the structural tokens of one tool-call entry,
	// on top of its name and argument content.
	toolCallOverhead = 4
)

// EstimateTokens estimates the token cost of a text using an adaptive
// characters-per-token ratio.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	ratio := defaultCharsPerToken
	if averageWordLength(text) >= longWordThreshold {
		ratio = denseCharsPerToken
	}
	return int(math.Ceil(float64(len(text)) / ratio))
}

// EstimateMessageTokens estimates the token cost of a single message,
// including per-message and tool-call overhead.
func EstimateMessageTokens(msg *types.Message) int {
	total := messageOverhead + EstimateTokens(msg.Content)
	if msg.Name != "" {
		total += EstimateTokens(msg.Name)
	}
	for _, tc := range msg.ToolCalls {
		total += toolCallOverhead + EstimateTokens(tc.Name) + EstimateTokens(tc.Arguments)
	}
	return total
}

// EstimateMessagesTokens estimates the total token cost of a message slice.
func EstimateMessagesTokens(msgs []*types.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessageTokens(m)
	}
	return total
}

// EstimateStoredTokens returns a stored message's precomputed token count
// when present, falling back to estimation.
func EstimateStoredTokens(sm *types.StoredMessage) int {
	if sm.TokenCount > 0 {
		return sm.TokenCount
	}
	return EstimateMessageTokens(&sm.Message)
}

// EstimateStoredMessagesTokens estimates the total token cost of a stored
// message slice.
func EstimateStoredMessagesTokens(msgs []*types.StoredMessage) int {
	total := 0
	for _, sm := range msgs {
		total += EstimateStoredTokens(sm)
	}
	return total
}

// Truncate selects the subset of msgs that fits within maxTokens, biased
// toward recency: messages are walked newest to oldest and the walk stops
// the moment the next message would exceed the remaining budget, so the
// result is a contiguous recent run in original order.
//
// When keepSystem is set, system-role messages are costed first and kept
// unconditionally, and the remaining budget applies to non-system messages
// only. If the system messages alone exceed the budget, keepSystem is
// abandoned and all messages compete for the budget equally.
//
// Truncate never mutates its input. A budget of zero (or a newest message
// that alone exceeds the budget, on the no-keep path) yields an empty
// result.
func Truncate(msgs []*types.StoredMessage, maxTokens int, keepSystem bool) []*types.StoredMessage {
	if len(msgs) == 0 || maxTokens <= 0 {
		return nil
	}
	if !keepSystem {
		return truncateSuffix(msgs, maxTokens)
	}

	systemCost := 0
	for _, sm := range msgs {
		if sm.Message.Role == types.RoleSystem {
			systemCost += EstimateStoredTokens(sm)
		}
	}
	if systemCost > maxTokens {
		return truncateSuffix(msgs, maxTokens)
	}

	remaining := maxTokens - systemCost
	keep := make([]bool, len(msgs))
	for i, sm := range msgs {
		if sm.Message.Role == types.RoleSystem {
			keep[i] = true
		}
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Message.Role == types.RoleSystem {
			continue
		}
		cost := EstimateStoredTokens(msgs[i])
		if cost > remaining {
			break
		}
		remaining -= cost
		keep[i] = true
	}

	// A kept non-system message below the break point would violate the
	// contiguous-suffix guarantee, so the walk above stops outright rather
	// than skipping oversized messages.
	out := make([]*types.StoredMessage, 0, len(msgs))
	for i, sm := range msgs {
		if keep[i] {
			out = append(out, sm)
		}
	}
	return out
}

func truncateSuffix(msgs []*types.StoredMessage, maxTokens int) []*types.StoredMessage {
	remaining := maxTokens
	cut := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := EstimateStoredTokens(msgs[i])
		if cost > remaining {
			break
		}
		remaining -= cost
		cut = i
	}
	out := make([]*types.StoredMessage, len(msgs)-cut)
	copy(out, msgs[cut:])
	return out
}

// averageWordLength returns the mean length of whitespace-separated words.
func averageWordLength(text string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	total := 0
	for _, w := range words {
		total += len(w)
	}
	return float64(total) / float64(len(words))
}
