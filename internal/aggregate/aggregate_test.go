package aggregate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/resume-analyzer-back/internal/domain"
)

func results(structureMean, appealMean float64) []domain.StageResult {
	return []domain.StageResult{
		{Kind: domain.StageStructure, Scores: map[string]float64{"format": structureMean, "organization": structureMean, "readability": structureMean}},
		{Kind: domain.StageAppeal, Scores: map[string]float64{"industry_fit": appealMean, "impact": appealMean, "differentiation": appealMean}},
	}
}

func TestDefaultPolicyWeightsAppealHigher(t *testing.T) {
	aggregator, err := NewWeightedAggregator(DefaultPolicy())
	require.NoError(t, err)

	aggregate, err := aggregator.Aggregate(results(60, 80))
	require.NoError(t, err)
	assert.InDelta(t, 72.0, aggregate.OverallScore, 0.001)
	assert.Equal(t, "competitive", aggregate.MarketTier)

	aggregate, err = aggregator.Aggregate(results(95, 90))
	require.NoError(t, err)
	assert.Equal(t, "premium", aggregate.MarketTier)

	aggregate, err = aggregator.Aggregate(results(10, 20))
	require.NoError(t, err)
	assert.Equal(t, "entry", aggregate.MarketTier)
}

func TestAggregateRequiresWeightedStages(t *testing.T) {
	aggregator, err := NewWeightedAggregator(DefaultPolicy())
	require.NoError(t, err)

	_, err = aggregator.Aggregate(results(60, 80)[:1])
	assert.Error(t, err)
}

func TestLoadPolicyFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
weights:
  structure: 1
  appeal: 1
tiers:
  - name: strong
    min_score: 75
  - name: weak
    min_score: 0
`), 0o600))

	policy, err := LoadPolicy(path)
	require.NoError(t, err)
	aggregator, err := NewWeightedAggregator(policy)
	require.NoError(t, err)

	aggregate, err := aggregator.Aggregate(results(60, 90))
	require.NoError(t, err)
	assert.InDelta(t, 75.0, aggregate.OverallScore, 0.001)
	assert.Equal(t, "strong", aggregate.MarketTier)
}

func TestLoadPolicyRejectsUnknownStage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("weights:\n  cover_letter: 1\n"), 0o600))

	_, err := LoadPolicy(path)
	assert.Error(t, err)
}
