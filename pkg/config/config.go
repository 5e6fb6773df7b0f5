// Package config loads engine configuration from YAML with validated
// defaults. Configuration selects a strategy and its knobs; collaborator
// construction (store handles, API clients) stays with the caller.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Strategy names accepted in configuration.
const (
	StrategyBuffer        = "buffer"
	StrategySummary       = "summary"
	StrategySummaryBuffer = "summary_buffer"
	StrategyVector        = "vector"
)

// conversationPlaceholder must appear in any custom summarization template.
const conversationPlaceholder = "{conversation}"

// BufferSettings configures the sliding-window strategy.
type BufferSettings struct {
	MaxMessages int  `yaml:"max_messages"`
	MaxTokens   int  `yaml:"max_tokens"`
	KeepSystem  bool `yaml:"keep_system"`
}

// SummarySettings configures the summarizing strategy.
type SummarySettings struct {
	TokenThreshold int     `yaml:"token_threshold"`
	KeepAtLeast    int     `yaml:"keep_at_least"`
	KeepFraction   float64 `yaml:"keep_fraction"`
	PromptTemplate string  `yaml:"prompt_template"`
}

// SummaryBufferSettings configures the hybrid strategy.
type SummaryBufferSettings struct {
	TokenThreshold int    `yaml:"token_threshold"`
	BufferSize     int    `yaml:"buffer_size"`
	PromptTemplate string `yaml:"prompt_template"`
}

// VectorSettings configures the embedding-retrieval strategy.
type VectorSettings struct {
	TopK        int     `yaml:"top_k"`
	MinScore    float64 `yaml:"min_score"`
	MaxMessages int     `yaml:"max_messages"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// OpenAISettings names the models used by the bundled OpenAI adapter.
// Credentials are never configured here; they come from the environment.
type OpenAISettings struct {
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
	BaseURL        string `yaml:"base_url"`
}

// Config is the full engine configuration.
type Config struct {
	Strategy      string                `yaml:"strategy"`
	Buffer        BufferSettings        `yaml:"buffer"`
	Summary       SummarySettings       `yaml:"summary"`
	SummaryBuffer SummaryBufferSettings `yaml:"summary_buffer"`
	Vector        VectorSettings        `yaml:"vector"`
	OpenAI        OpenAISettings        `yaml:"openai"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Strategy: StrategyBuffer,
		Buffer: BufferSettings{
			MaxMessages: 50,
			MaxTokens:   8000,
			KeepSystem:  true,
		},
		Summary: SummarySettings{
			TokenThreshold: 6000,
			KeepAtLeast:    4,
			KeepFraction:   0.25,
		},
		SummaryBuffer: SummaryBufferSettings{
			TokenThreshold: 6000,
			BufferSize:     10,
		},
		Vector: VectorSettings{
			TopK:     5,
			MinScore: 0.3,
		},
		OpenAI: OpenAISettings{
			Model:          "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
// A missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.Strategy {
	case StrategyBuffer, StrategySummary, StrategySummaryBuffer, StrategyVector:
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}

	if c.Buffer.MaxMessages < 0 || c.Buffer.MaxTokens < 0 {
		return fmt.Errorf("buffer caps must not be negative")
	}
	if c.Summary.TokenThreshold < 0 || c.SummaryBuffer.TokenThreshold < 0 {
		return fmt.Errorf("token thresholds must not be negative")
	}
	if c.Summary.KeepFraction < 0 || c.Summary.KeepFraction > 1 {
		return fmt.Errorf("summary keep_fraction must be in [0, 1], got %g", c.Summary.KeepFraction)
	}
	if c.SummaryBuffer.BufferSize < 0 {
		return fmt.Errorf("summary_buffer buffer_size must not be negative")
	}
	if c.Vector.TopK < 0 {
		return fmt.Errorf("vector top_k must not be negative")
	}
	if c.Vector.MinScore < -1 || c.Vector.MinScore > 1 {
		return fmt.Errorf("vector min_score must be in [-1, 1], got %g", c.Vector.MinScore)
	}

	for name, tmpl := range map[string]string{
		"summary":        c.Summary.PromptTemplate,
		"summary_buffer": c.SummaryBuffer.PromptTemplate,
	} {
		if tmpl != "" && !strings.Contains(tmpl, conversationPlaceholder) {
			return fmt.Errorf("%s prompt_template is missing the %s placeholder", name, conversationPlaceholder)
		}
	}
	return nil
}
