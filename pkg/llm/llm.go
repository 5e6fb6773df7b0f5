// Package llm defines the model-side boundary of the memory engine.
//
// The engine never talks to a model API directly. Summarizing strategies
// depend on a Summarizer, the vector strategy depends on an Embedder, and
// both are injected at construction. The pkg/llm/openai subpackage provides
// an implementation of both over the OpenAI API; tests use stubs.
//
// Example usage:
//
//	package main
//
//	import (
//	    "context"
//	    "fmt"
//	    "log"
//
//	    "github.com/halcyonlabs/mnemo/pkg/llm/openai"
//	)
//
//	func main() {
//	    client, err := openai.New("", openai.WithModel("gpt-4o-mini"))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    emb, err := client.Embed(context.Background(), "hello world")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(len(emb.Vector))
//	}
package llm

import (
	"context"

	"github.com/halcyonlabs/mnemo/pkg/types"
)

// Summarizer condenses an ordered slice of conversation messages into a
// single summary string. The prompt already contains the formatted
// conversation; the raw messages are passed alongside for implementations
// that want structured access. Implementations are expected to call a
// language model and must not retain the message slice after returning.
type Summarizer interface {
	Summarize(ctx context.Context, messages []*types.Message, prompt string) (string, error)
}

// SummarizerFunc adapts a plain function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, messages []*types.Message, prompt string) (string, error)

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(ctx context.Context, messages []*types.Message, prompt string) (string, error) {
	return f(ctx, messages, prompt)
}

// Embedding is the result of embedding a single text.
type Embedding struct {
	Text       string
	Vector     []float32
	TokenCount int
}

// Usage reports token consumption for a batched embedding call.
type Usage struct {
	PromptTokens int
	TotalTokens  int
}

// EmbeddingBatch is the result of embedding several texts in one call.
// Embeddings are returned in input order.
type EmbeddingBatch struct {
	Embeddings []Embedding
	Model      string
	Usage      Usage
}

// Embedder produces fixed-dimensionality vectors for semantic similarity.
// All vectors returned by one instance must share a dimensionality; mixing
// embedders over the same conversation is a caller error.
//
// EmbedMany must issue a single batched call to the backing provider rather
// than one call per text.
type Embedder interface {
	Embed(ctx context.Context, text string) (*Embedding, error)
	EmbedMany(ctx context.Context, texts []string) (*EmbeddingBatch, error)
}
