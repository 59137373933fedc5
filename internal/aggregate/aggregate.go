// Package aggregate combines stage results into the overall score and market
// tier of a completed job.
package aggregate

import (
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/domain"
)

// Aggregator is injected into the orchestrator; the weighting is policy, not
// engine logic.
type Aggregator interface {
	Aggregate(results []domain.StageResult) (domain.Aggregate, error)
}

// Tier is a named lower bound on the overall score.
type Tier struct {
	Name     string  `yaml:"name"`
	MinScore float64 `yaml:"min_score"`
}

// Policy is the on-disk shape of an aggregation policy file.
type Policy struct {
	Weights map[domain.StageKind]float64 `yaml:"weights"`
	Tiers   []Tier                       `yaml:"tiers"`
}

func DefaultPolicy() Policy {
	return Policy{
		Weights: map[domain.StageKind]float64{
			domain.StageStructure: 0.4,
			domain.StageAppeal:    0.6,
		},
		Tiers: []Tier{
			{Name: "premium", MinScore: 85},
			{Name: "competitive", MinScore: 70},
			{Name: "developing", MinScore: 50},
			{Name: "entry", MinScore: 0},
		},
	}
}

// LoadPolicy reads a YAML policy. Missing sections fall back to defaults.
func LoadPolicy(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, apperr.Wrapf(err, "read aggregation policy %s", path)
	}
	var policy Policy
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return Policy{}, apperr.Wrapf(err, "parse aggregation policy %s", path)
	}
	defaults := DefaultPolicy()
	if len(policy.Weights) == 0 {
		policy.Weights = defaults.Weights
	}
	if len(policy.Tiers) == 0 {
		policy.Tiers = defaults.Tiers
	}
	return policy, policy.Validate()
}

func (p Policy) Validate() error {
	total := 0.0
	for kind, weight := range p.Weights {
		if _, ok := domain.SchemaFor(kind); !ok {
			return apperr.Newf("aggregation weight for unknown stage %q", kind)
		}
		if weight < 0 {
			return apperr.Newf("aggregation weight for %s must not be negative", kind)
		}
		total += weight
	}
	if total <= 0 {
		return apperr.New("aggregation weights must sum to a positive value")
	}
	if len(p.Tiers) == 0 {
		return apperr.New("aggregation policy needs at least one tier")
	}
	return nil
}

// WeightedAggregator computes overall = Σ w·mean(scores) / Σ w over the
// weighted stages and picks the highest tier whose bound the score reaches.
type WeightedAggregator struct {
	weights map[domain.StageKind]float64
	tiers   []Tier
}

func NewWeightedAggregator(policy Policy) (*WeightedAggregator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	tiers := append([]Tier(nil), policy.Tiers...)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MinScore > tiers[j].MinScore })
	weights := make(map[domain.StageKind]float64, len(policy.Weights))
	for kind, weight := range policy.Weights {
		weights[kind] = weight
	}
	return &WeightedAggregator{weights: weights, tiers: tiers}, nil
}

func (a *WeightedAggregator) Aggregate(results []domain.StageResult) (domain.Aggregate, error) {
	byKind := make(map[domain.StageKind]domain.StageResult, len(results))
	for _, result := range results {
		byKind[result.Kind] = result
	}

	weighted, total := 0.0, 0.0
	for kind, weight := range a.weights {
		if weight == 0 {
			continue
		}
		result, ok := byKind[kind]
		if !ok {
			return domain.Aggregate{}, apperr.Newf("cannot aggregate without a %s result", kind)
		}
		weighted += weight * result.MeanScore()
		total += weight
	}
	overall := math.Round(weighted/total*100) / 100

	tier := a.tiers[len(a.tiers)-1].Name
	for _, candidate := range a.tiers {
		if overall >= candidate.MinScore {
			tier = candidate.Name
			break
		}
	}
	return domain.Aggregate{OverallScore: overall, MarketTier: tier}, nil
}
