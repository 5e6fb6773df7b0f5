package memory

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/halcyonlabs/mnemo/pkg/llm"
	"github.com/halcyonlabs/mnemo/pkg/llm/tokenizer"
	"github.com/halcyonlabs/mnemo/pkg/store"
	"github.com/halcyonlabs/mnemo/pkg/types"
)

// VectorConfig controls the embedding-retrieval strategy.
type VectorConfig struct {
	// TopK is the default result count for Search. Defaults to 5.
	TopK int

	// MinScore is the cosine-similarity floor; results scoring below it
	// are dropped.
	MinScore float64

	// MaxMessages caps Context's message count. Zero disables the cap.
	// Storage itself is unbounded; only retrieval is capped.
	MaxMessages int

	// MaxTokens caps Context's estimated token total. Zero disables it.
	MaxTokens int
}

func (c *VectorConfig) applyDefaults() {
	if c.TopK <= 0 {
		c.TopK = 5
	}
}

// SearchResult pairs a stored message with its similarity to the query.
type SearchResult struct {
	Message *types.StoredMessage
	Score   float64
}

// Vector stores an embedding per message and retrieves by semantic
// similarity. Writes never evict; retrieval is bounded instead.
type Vector struct {
	conversation
	embedder llm.Embedder
	cfg      VectorConfig
}

var _ Strategy = (*Vector)(nil)

// NewVector creates the embedding-retrieval strategy. Every operation
// depends on the embedder, so a nil embedder is a construction error.
func NewVector(s store.Store, conversationID string, embedder llm.Embedder, cfg VectorConfig) (*Vector, error) {
	if embedder == nil {
		return nil, ErrNoEmbedder
	}
	cfg.applyDefaults()
	return &Vector{
		conversation: conversation{store: s, id: conversationID},
		embedder:     embedder,
		cfg:          cfg,
	}, nil
}

// Add embeds the message content and stores message and vector together.
// A failed embedding leaves the message unadded.
func (v *Vector) Add(ctx context.Context, msg *types.Message) error {
	emb, err := v.embedder.Embed(ctx, msg.Content)
	if err != nil {
		return fmt.Errorf("memory: embed for conversation %s: %w", v.id, err)
	}
	_, err = v.store.AddMessage(ctx, &types.StoredMessage{
		ConversationID: v.id,
		Message:        *msg,
		Embedding:      emb.Vector,
		TokenCount:     emb.TokenCount,
	})
	if err != nil {
		return fmt.Errorf("memory: add to conversation %s: %w", v.id, err)
	}
	return nil
}

// AddMany embeds the batch in one provider call and stores it in one write.
func (v *Vector) AddMany(ctx context.Context, msgs []*types.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.Content
	}
	batch, err := v.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return fmt.Errorf("memory: embed batch for conversation %s: %w", v.id, err)
	}
	if len(batch.Embeddings) != len(msgs) {
		return fmt.Errorf("memory: embed batch for conversation %s: got %d embeddings for %d texts",
			v.id, len(batch.Embeddings), len(msgs))
	}

	stored := make([]*types.StoredMessage, len(msgs))
	for i, m := range msgs {
		stored[i] = &types.StoredMessage{
			ConversationID: v.id,
			Message:        *m,
			Embedding:      batch.Embeddings[i].Vector,
			TokenCount:     batch.Embeddings[i].TokenCount,
		}
	}
	if _, err := v.store.AddMessages(ctx, stored); err != nil {
		return fmt.Errorf("memory: add batch to conversation %s: %w", v.id, err)
	}
	logDebugf("vector %s: embedded %d messages (%d prompt tokens)", v.id, len(msgs), batch.Usage.PromptTokens)
	return nil
}

// Search returns up to topK stored messages ranked by descending cosine
// similarity to the query, dropping results below MinScore. Equal scores
// order by recency, newest first. A topK of zero uses the configured
// default.
func (v *Vector) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = v.cfg.TopK
	}
	qe, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query for conversation %s: %w", v.id, err)
	}

	msgs, err := v.store.Messages(ctx, v.id)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(msgs))
	for _, sm := range msgs {
		if len(sm.Embedding) == 0 {
			continue
		}
		if len(sm.Embedding) != len(qe.Vector) {
			return nil, fmt.Errorf("memory: conversation %s message %s: %w",
				v.id, sm.ID, ErrDimensionMismatch)
		}
		score := cosineSimilarity(qe.Vector, sm.Embedding)
		if score < v.cfg.MinScore {
			continue
		}
		results = append(results, SearchResult{Message: sm, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Message.CreatedAt.After(results[j].Message.CreatedAt)
		}
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// RelevantContext searches like Search but returns the matches re-sorted
// into timestamp order, so the retrieved context reads as a coherent
// sub-conversation.
func (v *Vector) RelevantContext(ctx context.Context, query string, topK int) ([]*types.Message, error) {
	results, err := v.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	matched := make([]*types.StoredMessage, len(results))
	for i, r := range results {
		matched[i] = r.Message
	}
	sortStoredByTime(matched)
	return plainMessages(matched), nil
}

// BuildContext blends recency and relevance: the most recent recentCount
// messages verbatim, preceded by up to relevantCount semantically relevant
// older messages in timestamp order. A relevantCount of zero skips the
// search and returns the recent window alone.
func (v *Vector) BuildContext(ctx context.Context, query string, recentCount, relevantCount int) (*types.ConversationContext, error) {
	msgs, err := v.store.Messages(ctx, v.id)
	if err != nil {
		return nil, err
	}

	recent := msgs
	if recentCount >= 0 && len(msgs) > recentCount {
		recent = msgs[len(msgs)-recentCount:]
	}
	if relevantCount <= 0 {
		return newContext(plainMessages(recent), ""), nil
	}
	recentIDs := make(map[string]bool, len(recent))
	for _, sm := range recent {
		recentIDs[sm.ID] = true
	}

	// Over-fetch so matches that duplicate the recent set can be excluded
	// without starving the relevant portion.
	results, err := v.Search(ctx, query, relevantCount+recentCount)
	if err != nil {
		return nil, err
	}

	relevant := make([]*types.StoredMessage, 0, relevantCount)
	for _, r := range results {
		if recentIDs[r.Message.ID] {
			continue
		}
		relevant = append(relevant, r.Message)
		if len(relevant) == relevantCount {
			break
		}
	}
	sortStoredByTime(relevant)

	combined := make([]*types.StoredMessage, 0, len(relevant)+len(recent))
	combined = append(combined, relevant...)
	combined = append(combined, recent...)
	return newContext(plainMessages(combined), ""), nil
}

// Messages returns the full stored conversation in timestamp order.
func (v *Vector) Messages(ctx context.Context) ([]*types.Message, error) {
	msgs, err := v.store.Messages(ctx, v.id)
	if err != nil {
		return nil, err
	}
	return plainMessages(msgs), nil
}

// Context returns the conversation capped by the configured MaxMessages
// and MaxTokens retrieval bounds.
func (v *Vector) Context(ctx context.Context) (*types.ConversationContext, error) {
	msgs, err := v.store.Messages(ctx, v.id)
	if err != nil {
		return nil, err
	}
	if v.cfg.MaxMessages > 0 && len(msgs) > v.cfg.MaxMessages {
		msgs = msgs[len(msgs)-v.cfg.MaxMessages:]
	}
	if v.cfg.MaxTokens > 0 {
		msgs = tokenizer.Truncate(msgs, v.cfg.MaxTokens, true)
	}
	return newContext(plainMessages(msgs), ""), nil
}

// ContextWindow truncates the conversation to a caller-supplied budget.
func (v *Vector) ContextWindow(ctx context.Context, maxTokens int) (*types.ConversationContext, error) {
	msgs, err := v.store.Messages(ctx, v.id)
	if err != nil {
		return nil, err
	}
	kept := tokenizer.Truncate(msgs, maxTokens, true)
	return newContext(plainMessages(kept), ""), nil
}

// cosineSimilarity is the normalized dot product of two equal-length
// vectors; zero when either has zero norm.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortStoredByTime orders messages by creation time, ties by id.
func sortStoredByTime(msgs []*types.StoredMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
