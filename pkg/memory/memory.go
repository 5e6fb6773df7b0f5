// Package memory implements the conversation memory strategies: sliding
// window (Buffer), LLM-driven compaction (Summary), a hybrid of the two
// (SummaryBuffer), and embedding-based retrieval (Vector).
//
// A strategy is bound to one conversation id and one store at construction.
// Stores may be shared across strategies and conversations; operations
// against a single conversation id must be serialized by the caller.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/halcyonlabs/mnemo/pkg/llm/tokenizer"
	"github.com/halcyonlabs/mnemo/pkg/logging"
	"github.com/halcyonlabs/mnemo/pkg/store"
	"github.com/halcyonlabs/mnemo/pkg/types"
)

var (
	// ErrNoSummarizer is returned when a summarizing strategy is asked to
	// compact without a configured summarizer.
	ErrNoSummarizer = errors.New("memory: no summarizer configured")

	// ErrNoEmbedder is returned by NewVector when no embedder is supplied.
	ErrNoEmbedder = errors.New("memory: vector strategy requires an embedder")

	// ErrDimensionMismatch is returned when a stored embedding's
	// dimensionality differs from the query embedding's.
	ErrDimensionMismatch = errors.New("memory: embedding dimensionality mismatch")
)

var (
	debugLog     *logging.Logger
	debugLogOnce sync.Once
)

// logDebugf opens the session log lazily on the first trace, so importing
// the package has no filesystem side effects. NewLogger reports its own
// failure through the stderr fallback.
func logDebugf(format string, v ...interface{}) {
	debugLogOnce.Do(func() {
		debugLog, _ = logging.NewLogger("memory")
	})
	debugLog.Debugf(format, v...)
}

// Strategy is the operation set every memory strategy supports. Strategies
// additionally expose policy-specific operations (Summarize, Search, ...)
// on their concrete types.
type Strategy interface {
	// Add appends one message, applying the strategy's eviction policy.
	Add(ctx context.Context, msg *types.Message) error

	// AddMany appends a batch of messages with one store write (and, for
	// the vector strategy, one batched embedding call).
	AddMany(ctx context.Context, msgs []*types.Message) error

	// Messages returns the conversation as the strategy would present it
	// to the model, in timestamp order.
	Messages(ctx context.Context) ([]*types.Message, error)

	// Context returns the messages plus accounting totals and, for
	// summarizing strategies, the rolling summary.
	Context(ctx context.Context) (*types.ConversationContext, error)

	// ContextWindow is Context constrained to a token budget smaller than
	// the strategy's own configuration.
	ContextWindow(ctx context.Context, maxTokens int) (*types.ConversationContext, error)

	// MessageCount reports how many messages the backing store holds for
	// this conversation.
	MessageCount(ctx context.Context) (int, error)

	// Clear deletes the conversation's messages and metadata.
	Clear(ctx context.Context) error

	// ConversationID returns the bound conversation identifier.
	ConversationID() string
}

// summaryMetadataKey is the conversation-metadata key summarizing
// strategies write their rolling summary under.
const summaryMetadataKey = "summary"

// SummaryMarker prefixes the synthetic system message that carries the
// rolling summary into the context window.
const SummaryMarker = "Previous conversation summary:"

// conversation is the store binding shared by all strategies.
type conversation struct {
	store store.Store
	id    string
}

// ConversationID returns the bound conversation identifier.
func (c *conversation) ConversationID() string {
	return c.id
}

// MessageCount reports the number of stored messages for this conversation.
func (c *conversation) MessageCount(ctx context.Context) (int, error) {
	msgs, err := c.store.Messages(ctx, c.id)
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}

// Clear deletes the conversation's messages and metadata.
func (c *conversation) Clear(ctx context.Context) error {
	return c.store.Clear(ctx, c.id)
}

func (c *conversation) appendOne(ctx context.Context, msg *types.Message) error {
	_, err := c.store.AddMessage(ctx, &types.StoredMessage{
		ConversationID: c.id,
		Message:        *msg,
	})
	if err != nil {
		return fmt.Errorf("memory: add to conversation %s: %w", c.id, err)
	}
	return nil
}

func (c *conversation) appendMany(ctx context.Context, msgs []*types.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	batch := make([]*types.StoredMessage, len(msgs))
	for i, m := range msgs {
		batch[i] = &types.StoredMessage{ConversationID: c.id, Message: *m}
	}
	if _, err := c.store.AddMessages(ctx, batch); err != nil {
		return fmt.Errorf("memory: add batch to conversation %s: %w", c.id, err)
	}
	return nil
}

// summary returns the conversation's rolling summary, or "" when none exists.
func (c *conversation) summary(ctx context.Context) (string, error) {
	meta, err := c.store.Metadata(ctx, c.id)
	if err != nil {
		return "", err
	}
	if meta == nil {
		return "", nil
	}
	s, _ := meta[summaryMetadataKey].(string)
	return s, nil
}

// setSummary writes the rolling summary into conversation metadata,
// preserving any other keys callers have stored there.
func (c *conversation) setSummary(ctx context.Context, summary string) error {
	meta, err := c.store.Metadata(ctx, c.id)
	if err != nil {
		return err
	}
	if meta == nil {
		meta = make(map[string]any, 1)
	}
	meta[summaryMetadataKey] = summary
	return c.store.SetMetadata(ctx, c.id, meta)
}

// plainMessages projects stored messages onto the model-facing Message type.
func plainMessages(stored []*types.StoredMessage) []*types.Message {
	out := make([]*types.Message, len(stored))
	for i, sm := range stored {
		msg := sm.Message
		out[i] = &msg
	}
	return out
}

// newContext assembles a ConversationContext with accounting totals.
func newContext(msgs []*types.Message, summary string) *types.ConversationContext {
	return &types.ConversationContext{
		Messages:     msgs,
		Summary:      summary,
		TokenCount:   tokenizer.EstimateMessagesTokens(msgs),
		MessageCount: len(msgs),
	}
}

// isSummaryMarker reports whether a message is a synthetic summary carrier
// produced by a previous read, so summaries are never stacked.
func isSummaryMarker(msg *types.Message) bool {
	return msg.Role == types.RoleSystem && strings.HasPrefix(msg.Content, SummaryMarker)
}

// withSummary prepends the rolling summary as a single system message,
// stripping any stale marker messages first.
func withSummary(msgs []*types.Message, summary string) []*types.Message {
	kept := make([]*types.Message, 0, len(msgs)+1)
	for _, m := range msgs {
		if isSummaryMarker(m) {
			continue
		}
		kept = append(kept, m)
	}
	if summary == "" {
		return kept
	}
	out := make([]*types.Message, 0, len(kept)+1)
	out = append(out, types.NewSystemMessage(SummaryMarker+"\n"+summary))
	return append(out, kept...)
}

// formatTranscript renders messages as role-labelled lines for the
// summarization prompt. System messages are excluded; priorSummary, when
// present, leads the transcript so re-summarization folds it in.
func formatTranscript(msgs []*types.StoredMessage, priorSummary string) string {
	var b strings.Builder
	if priorSummary != "" {
		b.WriteString(SummaryMarker + "\n" + priorSummary + "\n\n")
	}
	for _, sm := range msgs {
		if sm.Message.Role == types.RoleSystem {
			continue
		}
		b.WriteString(string(sm.Message.Role))
		b.WriteString(": ")
		b.WriteString(sm.Message.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// summarizerInput is the structured message slice handed to the Summarizer
// alongside the rendered prompt: the prior summary as a synthetic system
// message, then the non-system messages being compacted.
func summarizerInput(older []*types.StoredMessage, priorSummary string) []*types.Message {
	out := make([]*types.Message, 0, len(older)+1)
	if priorSummary != "" {
		out = append(out, types.NewSystemMessage(SummaryMarker+"\n"+priorSummary))
	}
	for _, sm := range older {
		if sm.Message.Role == types.RoleSystem {
			continue
		}
		msg := sm.Message
		out = append(out, &msg)
	}
	return out
}
