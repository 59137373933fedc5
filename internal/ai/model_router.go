package ai

import (
	"strings"

	"github.com/iago/resume-analyzer-back/internal/domain"
)

type ModelProfile struct {
	PrimaryModel    string
	FallbackModel   string
	Temperature     float64
	MaxOutputTokens int
}

// ModelFor picks the primary model on the first attempt and the fallback on
// every retry.
func (p ModelProfile) ModelFor(attempt int) string {
	if attempt > 1 && p.FallbackModel != "" {
		return p.FallbackModel
	}
	return p.PrimaryModel
}

type ModelRouterConfig struct {
	StructureModel string
	AppealModel    string
	FallbackModel  string
}

type ModelRouter struct {
	config ModelRouterConfig
}

func NewModelRouter(config ModelRouterConfig) *ModelRouter {
	if strings.TrimSpace(config.StructureModel) == "" {
		config.StructureModel = "openai/gpt-4.1-mini"
	}
	if strings.TrimSpace(config.AppealModel) == "" {
		config.AppealModel = "openai/gpt-4.1"
	}
	if strings.TrimSpace(config.FallbackModel) == "" {
		config.FallbackModel = "openai/gpt-4.1-nano"
	}
	return &ModelRouter{config: config}
}

func (r *ModelRouter) Select(kind domain.StageKind) ModelProfile {
	switch kind {
	case domain.StageAppeal:
		return ModelProfile{
			PrimaryModel:    r.config.AppealModel,
			FallbackModel:   r.config.FallbackModel,
			Temperature:     0.3,
			MaxOutputTokens: 900,
		}
	default:
		return ModelProfile{
			PrimaryModel:    r.config.StructureModel,
			FallbackModel:   r.config.FallbackModel,
			Temperature:     0.1,
			MaxOutputTokens: 700,
		}
	}
}
