package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonlabs/mnemo/pkg/config"
)

func TestFromConfig(t *testing.T) {
	tests := []struct {
		strategy string
		check    func(t *testing.T, s Strategy)
	}{
		{
			strategy: config.StrategyBuffer,
			check: func(t *testing.T, s Strategy) {
				assert.IsType(t, &Buffer{}, s)
			},
		},
		{
			strategy: config.StrategySummary,
			check: func(t *testing.T, s Strategy) {
				assert.IsType(t, &Summary{}, s)
			},
		},
		{
			strategy: config.StrategySummaryBuffer,
			check: func(t *testing.T, s Strategy) {
				require.IsType(t, &SummaryBuffer{}, s)
				assert.Equal(t, 10, s.(*SummaryBuffer).BufferSize())
			},
		},
		{
			strategy: config.StrategyVector,
			check: func(t *testing.T, s Strategy) {
				assert.IsType(t, &Vector{}, s)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			cfg := config.Default()
			cfg.Strategy = tt.strategy

			s, err := FromConfig(newTestStore(), "conv-1", cfg, &stubSummarizer{}, newStubEmbedder())
			require.NoError(t, err)
			assert.Equal(t, "conv-1", s.ConversationID())
			tt.check(t, s)
		})
	}
}

func TestFromConfigUnknownStrategy(t *testing.T) {
	cfg := config.Default()
	cfg.Strategy = "telepathy"

	_, err := FromConfig(newTestStore(), "conv-1", cfg, nil, nil)
	assert.Error(t, err)
}

func TestFromConfigVectorWithoutEmbedder(t *testing.T) {
	cfg := config.Default()
	cfg.Strategy = config.StrategyVector

	_, err := FromConfig(newTestStore(), "conv-1", cfg, nil, nil)
	assert.ErrorIs(t, err, ErrNoEmbedder)
}
