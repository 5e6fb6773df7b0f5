package memory

import (
	"fmt"

	"github.com/halcyonlabs/mnemo/pkg/config"
	"github.com/halcyonlabs/mnemo/pkg/llm"
	"github.com/halcyonlabs/mnemo/pkg/store"
)

// FromConfig builds the configured strategy over the given store and
// conversation. The summarizer is required only by the summarizing
// strategies, the embedder only by the vector strategy; unused
// collaborators may be nil.
func FromConfig(s store.Store, conversationID string, cfg *config.Config, summarizer llm.Summarizer, embedder llm.Embedder) (Strategy, error) {
	switch cfg.Strategy {
	case config.StrategyBuffer:
		return NewBuffer(s, conversationID, BufferConfig{
			MaxMessages: cfg.Buffer.MaxMessages,
			MaxTokens:   cfg.Buffer.MaxTokens,
			KeepSystem:  cfg.Buffer.KeepSystem,
		}), nil

	case config.StrategySummary:
		return NewSummary(s, conversationID, summarizer, SummaryConfig{
			TokenThreshold: cfg.Summary.TokenThreshold,
			KeepAtLeast:    cfg.Summary.KeepAtLeast,
			KeepFraction:   cfg.Summary.KeepFraction,
			PromptTemplate: cfg.Summary.PromptTemplate,
		}), nil

	case config.StrategySummaryBuffer:
		return NewSummaryBuffer(s, conversationID, summarizer, SummaryBufferConfig{
			TokenThreshold: cfg.SummaryBuffer.TokenThreshold,
			BufferSize:     cfg.SummaryBuffer.BufferSize,
			PromptTemplate: cfg.SummaryBuffer.PromptTemplate,
		}), nil

	case config.StrategyVector:
		return NewVector(s, conversationID, embedder, VectorConfig{
			TopK:        cfg.Vector.TopK,
			MinScore:    cfg.Vector.MinScore,
			MaxMessages: cfg.Vector.MaxMessages,
			MaxTokens:   cfg.Vector.MaxTokens,
		})

	default:
		return nil, fmt.Errorf("memory: unknown strategy %q", cfg.Strategy)
	}
}
