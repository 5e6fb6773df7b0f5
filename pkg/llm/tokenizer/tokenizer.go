package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/halcyonlabs/mnemo/pkg/types"
)

// defaultEncoding is used when no model is specified. cl100k_base covers
// the GPT-4 family and is close enough for budget decisions on others.
const defaultEncoding = "cl100k_base"

// Tokenizer counts tokens with a real BPE encoding. It is not used by the
// strategies themselves (which share the heuristic estimator so that counts
// stay comparable across strategies) but is available to callers who need
// model-exact numbers for billing or final prompt assembly.
type Tokenizer struct {
	encoding *tiktoken.Tiktoken
}

// New creates a Tokenizer with the default encoding.
func New() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load encoding %s: %w", defaultEncoding, err)
	}
	return &Tokenizer{encoding: enc}, nil
}

// NewForModel creates a Tokenizer with the encoding registered for the
// given model name.
func NewForModel(model string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: encoding for model %s: %w", model, err)
	}
	return &Tokenizer{encoding: enc}, nil
}

// CountTokens returns the exact token count of a text.
func (t *Tokenizer) CountTokens(text string) int {
	return len(t.encoding.Encode(text, nil, nil))
}

// CountMessageTokens returns the token count of a message including the
// same per-message and tool-call overhead the estimator applies.
func (t *Tokenizer) CountMessageTokens(msg *types.Message) int {
	total := messageOverhead + t.CountTokens(msg.Content)
	if msg.Name != "" {
		total += t.CountTokens(msg.Name)
	}
	for _, tc := range msg.ToolCalls {
		total += toolCallOverhead + t.CountTokens(tc.Name) + t.CountTokens(tc.Arguments)
	}
	return total
}

// CountMessagesTokens returns the total token count of a message slice.
func (t *Tokenizer) CountMessagesTokens(msgs []*types.Message) int {
	total := 0
	for _, m := range msgs {
		total += t.CountMessageTokens(m)
	}
	return total
}
