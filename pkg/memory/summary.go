package memory

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/halcyonlabs/mnemo/pkg/llm"
	"github.com/halcyonlabs/mnemo/pkg/llm/tokenizer"
	"github.com/halcyonlabs/mnemo/pkg/store"
	"github.com/halcyonlabs/mnemo/pkg/types"
)

// conversationPlaceholder marks where the formatted transcript is inserted
// into a summarization prompt template.
const conversationPlaceholder = "{conversation}"

// DefaultSummaryPrompt is used when a config supplies no template. The
// output replaces the compacted portion of the conversation, so the
// instructions optimize for continuity rather than readability.
const DefaultSummaryPrompt = `Summarize the conversation below into a compact paragraph that lets an assistant continue seamlessly.

Preserve: facts the user stated about themselves, decisions made, open questions, and any names, figures, or identifiers mentioned.
Omit: greetings, filler, and restatements.

Conversation:
{conversation}`

// SummaryConfig controls the summarizing strategy.
type SummaryConfig struct {
	// TokenThreshold triggers compaction when the conversation's estimated
	// total exceeds it. Zero disables automatic compaction; Summarize can
	// still be called manually.
	TokenThreshold int

	// KeepAtLeast is the minimum number of recent messages kept verbatim
	// through compaction. Defaults to 4.
	KeepAtLeast int

	// KeepFraction keeps at least this fraction of the conversation
	// verbatim, when that is larger than KeepAtLeast. Defaults to 0.25.
	KeepFraction float64

	// PromptTemplate is the summarization prompt; it must contain the
	// {conversation} placeholder. Defaults to DefaultSummaryPrompt.
	PromptTemplate string
}

func (c *SummaryConfig) applyDefaults() {
	if c.KeepAtLeast <= 0 {
		c.KeepAtLeast = 4
	}
	if c.KeepFraction <= 0 {
		c.KeepFraction = 0.25
	}
	if c.PromptTemplate == "" {
		c.PromptTemplate = DefaultSummaryPrompt
	}
}

// Summary compacts old messages through an external summarizer once the
// conversation crosses a token threshold, keeping a recent tail verbatim
// and a rolling summary of everything older.
type Summary struct {
	conversation
	summarizer llm.Summarizer
	cfg        SummaryConfig
}

var _ Strategy = (*Summary)(nil)

// NewSummary creates a summarizing strategy. The summarizer may be nil, in
// which case any compaction attempt returns ErrNoSummarizer.
func NewSummary(s store.Store, conversationID string, summarizer llm.Summarizer, cfg SummaryConfig) *Summary {
	cfg.applyDefaults()
	return &Summary{
		conversation: conversation{store: s, id: conversationID},
		summarizer:   summarizer,
		cfg:          cfg,
	}
}

// Add appends a message and compacts when the token threshold is crossed.
func (s *Summary) Add(ctx context.Context, msg *types.Message) error {
	if err := s.appendOne(ctx, msg); err != nil {
		return err
	}
	return s.maybeCompact(ctx)
}

// AddMany appends a batch, then applies the same threshold check once.
func (s *Summary) AddMany(ctx context.Context, msgs []*types.Message) error {
	if err := s.appendMany(ctx, msgs); err != nil {
		return err
	}
	return s.maybeCompact(ctx)
}

func (s *Summary) maybeCompact(ctx context.Context) error {
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
	logDebugf("summary %s: %d tokens over threshold %d, compacting", s.id, total, s.cfg.TokenThreshold)
	_, err = s.compact(ctx, msgs)
	return err
}

// Summarize compacts the conversation immediately, without the threshold
// check, and returns the generated summary. When there is nothing to
// compact (the conversation fits in the kept tail) it is a no-op returning
// an empty string.
func (s *Summary) Summarize(ctx context.Context) (string, error) {
	msgs, err := s.store.Messages(ctx, s.id)
	if err != nil {
		return "", err
	}
	return s.compact(ctx, msgs)
}

// keepTail returns how many recent messages survive compaction verbatim.
func (s *Summary) keepTail(total int) int {
	byFraction := int(math.Ceil(float64(total) * s.cfg.KeepFraction))
	if byFraction > s.cfg.KeepAtLeast {
		return byFraction
	}
	return s.cfg.KeepAtLeast
}

// compact folds everything but the kept tail into the rolling summary. The
// summarizer call happens before any store write, so a failed call leaves
// the conversation untouched.
func (s *Summary) compact(ctx context.Context, msgs []*types.StoredMessage) (string, error) {
	if s.summarizer == nil {
		return "", ErrNoSummarizer
	}

	keep := s.keepTail(len(msgs))
	if len(msgs) <= keep {
		return "", nil
	}
	older, tail := msgs[:len(msgs)-keep], msgs[len(msgs)-keep:]

	prior, err := s.summary(ctx)
	if err != nil {
		return "", err
	}

	prompt := strings.ReplaceAll(s.cfg.PromptTemplate, conversationPlaceholder, formatTranscript(older, prior))
	generated, err := s.summarizer.Summarize(ctx, summarizerInput(older, prior), prompt)
	if err != nil {
		return "", fmt.Errorf("memory: summarize conversation %s: %w", s.id, err)
	}

	if err := s.setSummary(ctx, generated); err != nil {
		return "", err
	}
	if err := s.store.ReplaceMessages(ctx, s.id, tail); err != nil {
		return "", err
	}
	logDebugf("summary %s: compacted %d messages into summary, kept %d", s.id, len(older), len(tail))
	return generated, nil
}

// Messages returns the retained tail with the rolling summary prepended as
// a single system message. Stale summary markers are stripped first so
// summaries never stack.
func (s *Summary) Messages(ctx context.Context) ([]*types.Message, error) {
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

// Context returns the summarized view with accounting totals.
func (s *Summary) Context(ctx context.Context) (*types.ConversationContext, error) {
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

// ContextWindow truncates the summarized view to a token budget. The
// summary message is system-role and therefore survives truncation first.
func (s *Summary) ContextWindow(ctx context.Context, maxTokens int) (*types.ConversationContext, error) {
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
