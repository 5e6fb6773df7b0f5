// Package openai implements the llm.Summarizer and llm.Embedder boundary
// interfaces over the OpenAI API (and OpenAI-compatible services via a
// custom base URL).
//
// Example usage:
//
//	package main
//
//	import (
//	    "log"
//	    "os"
//
//	    "github.com/halcyonlabs/mnemo/pkg/llm/openai"
//	)
//
//	func main() {
//	    client, err := openai.New(
//	        os.Getenv("OPENAI_API_KEY"),
//	        openai.WithModel("gpt-4o-mini"),
//	        openai.WithEmbeddingModel("text-embedding-3-small"),
//	    )
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    _ = client
//	}
package openai

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/halcyonlabs/mnemo/pkg/llm"
	"github.com/halcyonlabs/mnemo/pkg/types"
)

const (
	// DefaultModel is used for summarization when none is configured.
	DefaultModel = "gpt-4o-mini"

	// DefaultEmbeddingModel is used for embeddings when none is configured.
	DefaultEmbeddingModel = "text-embedding-3-small"
)

// Client implements llm.Summarizer and llm.Embedder against the OpenAI API.
type Client struct {
	api            openai.Client
	model          string
	embeddingModel string
	baseURL        string
}

var (
	_ llm.Summarizer = (*Client)(nil)
	_ llm.Embedder   = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithModel sets the chat model used for summarization.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithEmbeddingModel sets the embedding model.
func WithEmbeddingModel(model string) Option {
	return func(c *Client) { c.embeddingModel = model }
}

// WithBaseURL points the client at an OpenAI-compatible API (Azure OpenAI,
// local servers, proxies).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// New creates a Client. If apiKey is empty it falls back to the
// OPENAI_API_KEY environment variable; if no base URL is configured it
// checks OPENAI_BASE_URL.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	c := &Client{
		model:          DefaultModel,
		embeddingModel: DefaultEmbeddingModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		c.baseURL = os.Getenv("OPENAI_BASE_URL")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if c.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(c.baseURL))
	}
	c.api = openai.NewClient(reqOpts...)

	return c, nil
}

// Summarize sends the rendered prompt to the chat model and returns the
// generated summary. The structured messages are not re-sent; the prompt
// already embeds the formatted conversation.
func (c *Client) Summarize(ctx context.Context, _ []*types.Message, prompt string) (string, error) {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You compress conversation history for a chat assistant. Reply with the summary only."),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai: summarize: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: summarize: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed embeds a single text.
func (c *Client) Embed(ctx context.Context, text string) (*llm.Embedding, error) {
	batch, err := c.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return &batch.Embeddings[0], nil
}

// EmbedMany embeds a batch of texts in one API call, preserving input order.
func (c *Client) EmbedMany(ctx context.Context, texts []string) (*llm.EmbeddingBatch, error) {
	if len(texts) == 0 {
		return &llm.EmbeddingBatch{Model: c.embeddingModel}, nil
	}

	resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: embed %d texts: %w", len(texts), err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai: embed: got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	batch := &llm.EmbeddingBatch{
		Embeddings: make([]llm.Embedding, len(texts)),
		Model:      resp.Model,
		Usage: llm.Usage{
			PromptTokens: int(resp.Usage.PromptTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		idx := int(d.Index)
		batch.Embeddings[idx] = llm.Embedding{
			Text:   texts[idx],
			Vector: vec,
		}
	}
	return batch, nil
}

// Model returns the configured chat model.
func (c *Client) Model() string {
	return c.model
}

// EmbeddingModel returns the configured embedding model.
func (c *Client) EmbeddingModel() string {
	return c.embeddingModel
}
