package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/halcyonlabs/mnemo/pkg/llm"
	"github.com/halcyonlabs/mnemo/pkg/llm/tokenizer"
	"github.com/halcyonlabs/mnemo/pkg/store"
	"github.com/halcyonlabs/mnemo/pkg/types"
)

// SummaryBufferConfig controls the hybrid summary-plus-buffer strategy.
type SummaryBufferConfig struct {
	// TokenThreshold triggers compaction, as in SummaryConfig. It governs
	// when compaction runs; BufferSize governs what survives.
	TokenThreshold int

	// BufferSize is the fixed number of recent messages kept verbatim
	// through compaction. Defaults to 10.
	BufferSize int

	// PromptTemplate is the summarization prompt; it must contain the
	// {conversation} placeholder. Defaults to DefaultSummaryPrompt.
	PromptTemplate string
}

func (c *SummaryBufferConfig) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 10
	}
	if c.PromptTemplate == "" {
		c.PromptTemplate = DefaultSummaryPrompt
	}
}

// SummaryBuffer behaves like Summary but keeps a deterministic, fixed-size
// verbatim tail regardless of conversation length, and preserves system
// messages that fall outside the tail instead of folding them away.
type SummaryBuffer struct {
	conversation
	summarizer llm.Summarizer
	cfg        SummaryBufferConfig
}

var _ Strategy = (*SummaryBuffer)(nil)

// NewSummaryBuffer creates the hybrid strategy. The summarizer may be nil,
// in which case any compaction attempt returns ErrNoSummarizer.
func NewSummaryBuffer(s store.Store, conversationID string, summarizer llm.Summarizer, cfg SummaryBufferConfig) *SummaryBuffer {
	cfg.applyDefaults()
	return &SummaryBuffer{
		conversation: conversation{store: s, id: conversationID},
		summarizer:   summarizer,
		cfg:          cfg,
	}
}

// BufferSize returns the configured verbatim-tail size.
func (s *SummaryBuffer) BufferSize() int {
	return s.cfg.BufferSize
}

// Add appends a message and compacts when the token threshold is crossed.
func (s *SummaryBuffer) Add(ctx context.Context, msg *types.Message) error {
	if err := s.appendOne(ctx, msg); err != nil {
		return err
	}
	return s.maybeCompact(ctx)
}

// AddMany appends a batch, then applies the same threshold check once.
func (s *SummaryBuffer) AddMany(ctx context.Context, msgs []*types.Message) error {
	if err := s.appendMany(ctx, msgs); err != nil {
		return err
	}
	return s.maybeCompact(ctx)
}

func (s *SummaryBuffer) maybeCompact(ctx context.Context) error {
	if s.cfg.TokenThreshold <= 0 {
		return nil
	}
	msgs, err := s.store.Messages(ctx, s.id)
	if err != nil {
		return err
	}
	total := tokenizer.EstimateStoredMessagesTokens(msgs)
	if total <= s.cfg.TokenThreshold {
		return nil
	}
	logDebugf("summary-buffer %s: %d tokens over threshold %d, compacting", s.id, total, s.cfg.TokenThreshold)
	_, err = s.compact(ctx, msgs)
	return err
}

// Summarize compacts immediately, without the threshold check, returning
// the generated summary or an empty string when the conversation already
// fits in the buffer.
func (s *SummaryBuffer) Summarize(ctx context.Context) (string, error) {
	msgs, err := s.store.Messages(ctx, s.id)
	if err != nil {
		return "", err
	}
	return s.compact(ctx, msgs)
}

// compact keeps the last BufferSize messages verbatim, preserves older
// system messages alongside them, and folds the rest into the rolling
// summary. No store write happens until the summarizer has succeeded.
func (s *SummaryBuffer) compact(ctx context.Context, msgs []*types.StoredMessage) (string, error) {
	if s.summarizer == nil {
		return "", ErrNoSummarizer
	}
	if len(msgs) <= s.cfg.BufferSize {
		return "", nil
	}
	older, tail := msgs[:len(msgs)-s.cfg.BufferSize], msgs[len(msgs)-s.cfg.BufferSize:]

	prior, err := s.summary(ctx)
	if err != nil {
		return "", err
	}

	prompt := strings.ReplaceAll(s.cfg.PromptTemplate, conversationPlaceholder, formatTranscript(older, prior))
	generated, err := s.summarizer.Summarize(ctx, summarizerInput(older, prior), prompt)
	if err != nil {
		return "", fmt.Errorf("memory: summarize conversation %s: %w", s.id, err)
	}

	// System messages outside the buffer survive compaction; they precede
	// the tail in timestamp order already.
	survivors := make([]*types.StoredMessage, 0, len(tail))
	for _, sm := range older {
		if sm.Message.Role == types.RoleSystem {
			survivors = append(survivors, sm)
		}
	}
	survivors = append(survivors, tail...)

	if err := s.setSummary(ctx, generated); err != nil {
		return "", err
	}
	if err := s.store.ReplaceMessages(ctx, s.id, survivors); err != nil {
		return "", err
	}
	logDebugf("summary-buffer %s: compacted %d messages, kept %d", s.id, len(older), len(survivors))
	return generated, nil
}

// Messages returns preserved system messages and the buffer tail with the
// rolling summary prepended as a single system message.
func (s *SummaryBuffer) Messages(ctx context.Context) ([]*types.Message, error) {
	msgs, err := s.store.Messages(ctx, s.id)
	if err != nil {
		return nil, err
	}
	summary, err := s.summary(ctx)
	if err != nil {
		return nil, err
	}
	return withSummary(plainMessages(msgs), summary), nil
}

// Context returns the hybrid view with accounting totals.
func (s *SummaryBuffer) Context(ctx context.Context) (*types.ConversationContext, error) {
	msgs, err := s.store.Messages(ctx, s.id)
	if err != nil {
		return nil, err
	}
	summary, err := s.summary(ctx)
	if err != nil {
		return nil, err
	}
	return newContext(withSummary(plainMessages(msgs), summary), summary), nil
}

// ContextWindow truncates the hybrid view to a token budget, keeping
// system messages (including the summary carrier) first.
func (s *SummaryBuffer) ContextWindow(ctx context.Context, maxTokens int) (*types.ConversationContext, error) {
	cc, err := s.Context(ctx)
	if err != nil {
		return nil, err
	}
	stored := make([]*types.StoredMessage, len(cc.Messages))
	for i, m := range cc.Messages {
		stored[i] = &types.StoredMessage{Message: *m}
	}
	kept := tokenizer.Truncate(stored, maxTokens, true)
	return newContext(plainMessages(kept), cc.Summary), nil
}
