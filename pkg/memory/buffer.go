package memory

import (
	"context"

	"github.com/halcyonlabs/mnemo/pkg/llm/tokenizer"
	"github.com/halcyonlabs/mnemo/pkg/store"
	"github.com/halcyonlabs/mnemo/pkg/types"
)

// BufferConfig controls the sliding-window strategy.
type BufferConfig struct {
	// MaxMessages is the message-count cap. Zero disables count trimming.
	MaxMessages int

	// MaxTokens is the estimated-token cap. Zero disables token trimming.
	MaxTokens int

	// KeepSystem exempts system messages from both caps.
	KeepSystem bool
}

// Buffer is the sliding-window strategy: it trims on write, by count first
// and then by token budget, so reads return the store contents unmodified.
type Buffer struct {
	conversation
	cfg BufferConfig
}

var _ Strategy = (*Buffer)(nil)

// NewBuffer creates a sliding-window strategy over the given store and
// conversation.
func NewBuffer(s store.Store, conversationID string, cfg BufferConfig) *Buffer {
	return &Buffer{
		conversation: conversation{store: s, id: conversationID},
		cfg:          cfg,
	}
}

// Add appends a message and trims the window.
func (b *Buffer) Add(ctx context.Context, msg *types.Message) error {
	if err := b.appendOne(ctx, msg); err != nil {
		return err
	}
	return b.trim(ctx)
}

// AddMany appends a batch in one store write, then trims once.
func (b *Buffer) AddMany(ctx context.Context, msgs []*types.Message) error {
	if err := b.appendMany(ctx, msgs); err != nil {
		return err
	}
	return b.trim(ctx)
}

// trim enforces the count cap, then the token cap, rewriting the store only
// when something was dropped.
func (b *Buffer) trim(ctx context.Context) error {
	msgs, err := b.store.Messages(ctx, b.id)
	if err != nil {
		return err
	}

	kept := b.trimByCount(msgs)
	if b.cfg.MaxTokens > 0 {
		kept = tokenizer.Truncate(kept, b.cfg.MaxTokens, b.cfg.KeepSystem)
	}

	if len(kept) == len(msgs) {
		return nil
	}
	logDebugf("buffer %s: trimmed %d -> %d messages", b.id, len(msgs), len(kept))
	return b.store.ReplaceMessages(ctx, b.id, kept)
}

// trimByCount drops the oldest messages beyond MaxMessages. With KeepSystem
// set, system messages are kept outside the count.
func (b *Buffer) trimByCount(msgs []*types.StoredMessage) []*types.StoredMessage {
	if b.cfg.MaxMessages <= 0 {
		return msgs
	}

	if !b.cfg.KeepSystem {
		if len(msgs) <= b.cfg.MaxMessages {
			return msgs
		}
		return msgs[len(msgs)-b.cfg.MaxMessages:]
	}

	countable := 0
	for _, sm := range msgs {
		if sm.Message.Role != types.RoleSystem {
			countable++
		}
	}
	if countable <= b.cfg.MaxMessages {
		return msgs
	}

	drop := countable - b.cfg.MaxMessages
	out := make([]*types.StoredMessage, 0, len(msgs)-drop)
	for _, sm := range msgs {
		if drop > 0 && sm.Message.Role != types.RoleSystem {
			drop--
			continue
		}
		out = append(out, sm)
	}
	return out
}

// Messages returns the current window; trimming already happened on write.
func (b *Buffer) Messages(ctx context.Context) ([]*types.Message, error) {
	msgs, err := b.store.Messages(ctx, b.id)
	if err != nil {
		return nil, err
	}
	return plainMessages(msgs), nil
}

// Context returns the window with accounting totals.
func (b *Buffer) Context(ctx context.Context) (*types.ConversationContext, error) {
	msgs, err := b.Messages(ctx)
	if err != nil {
		return nil, err
	}
	return newContext(msgs, ""), nil
}

// ContextWindow re-truncates the window to a budget smaller than the
// configured one.
func (b *Buffer) ContextWindow(ctx context.Context, maxTokens int) (*types.ConversationContext, error) {
	msgs, err := b.store.Messages(ctx, b.id)
	if err != nil {
		return nil, err
	}
	kept := tokenizer.Truncate(msgs, maxTokens, b.cfg.KeepSystem)
	return newContext(plainMessages(kept), ""), nil
}
