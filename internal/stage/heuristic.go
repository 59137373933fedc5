package stage

import (
	"context"
	"math"
	"time"

	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/domain"
)

// HeuristicExecutor scores resumes from text statistics alone. It needs no
// network and is deterministic, which makes it the offline default.
type HeuristicExecutor struct {
	now func() time.Time
}

func NewHeuristicExecutor() *HeuristicExecutor {
	return &HeuristicExecutor{now: func() time.Time { return time.Now().UTC() }}
}

func (h *HeuristicExecutor) Run(ctx context.Context, request Request) (domain.StageResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.StageResult{}, apperr.Transient(string(request.Kind), err)
	}
	stats := analyzeText(request.ResumeText)
	if stats.Words == 0 {
		return domain.StageResult{}, apperr.Permanent(string(request.Kind), apperr.New("resume has no text"))
	}

	switch request.Kind {
	case domain.StageStructure:
		return h.structure(stats), nil
	case domain.StageAppeal:
		return h.appeal(stats, request.Industry, request.Prior), nil
	default:
		return domain.StageResult{}, apperr.Permanent(string(request.Kind), apperr.Newf("unsupported stage kind %q", request.Kind))
	}
}

func (h *HeuristicExecutor) structure(stats textStats) domain.StageResult {
	format := 40 + 3*float64(min(stats.Bullets, 15))
	if stats.Sections >= 3 {
		format += 15
	} else {
		format += 5 * float64(stats.Sections)
	}

	organization := 30 + 10*float64(min(stats.Sections, 6))
	if stats.HasExperience && stats.HasEducation {
		organization += 10
	}

	readability := 90.0
	if avg := stats.avgWordsPerLine(); avg > 20 {
		readability -= math.Min(40, (avg-20)*2)
	}
	switch {
	case stats.Words < 250:
		readability -= 15
	case stats.Words > 1200:
		readability -= math.Min(30, float64(stats.Words-1200)/40)
	}

	strengths := make([]string, 0, 3)
	improvements := make([]string, 0, 3)
	if stats.Bullets >= 6 {
		strengths = append(strengths, "achievements are presented as scannable bullet points")
	} else {
		improvements = append(improvements, "break dense paragraphs into bullet points")
	}
	if stats.HasExperience && stats.HasEducation {
		strengths = append(strengths, "includes clearly labelled experience and education sections")
	} else {
		improvements = append(improvements, "add explicit experience and education section headings")
	}
	if stats.Words > 1200 {
		improvements = append(improvements, "trim the resume to the most relevant two pages")
	}

	return domain.StageResult{
		Kind: domain.StageStructure,
		Scores: map[string]float64{
			"format":       clampScore(format),
			"organization": clampScore(organization),
			"readability":  clampScore(readability),
		},
		Feedback: map[string][]string{
			"strengths":    strengths,
			"improvements": improvements,
		},
		Metadata: map[string]int{
			"section_count": stats.Sections,
			"word_count":    stats.Words,
			"bullet_count":  stats.Bullets,
		},
		ProducedAt: h.now(),
	}
}

func (h *HeuristicExecutor) appeal(stats textStats, industry domain.IndustryCode, prior *domain.StageResult) domain.StageResult {
	keywords := KeywordsFor(industry)
	hits := 0
	missing := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		if stats.containsTerm(keyword) {
			hits++
		} else if len(missing) < 5 {
			missing = append(missing, keyword)
		}
	}

	fit := 30.0
	if len(keywords) > 0 {
		fit += 70 * float64(hits) / float64(len(keywords))
	}
	impact := 35 + 4*float64(min(stats.Quantified, 10)) + 2.5*float64(min(stats.ActionVerbs, 10))

	diversity := 0.0
	if stats.Words > 0 {
		diversity = 100 * float64(stats.UniqueWords) / float64(stats.Words) * 1.6
	}
	differentiation := clampScore(diversity)
	if prior != nil {
		differentiation = 0.6*differentiation + 0.4*prior.MeanScore()
	}

	strengths := make([]string, 0, 2)
	improvements := make([]string, 0, 2)
	if stats.Quantified >= 5 {
		strengths = append(strengths, "impact is backed by concrete numbers")
	} else {
		improvements = append(improvements, "quantify outcomes with metrics such as revenue, time or percentages")
	}
	if hits*2 >= len(keywords) {
		strengths = append(strengths, "vocabulary matches what employers in this industry look for")
	} else {
		improvements = append(improvements, "mirror the terminology used in target job descriptions")
	}

	return domain.StageResult{
		Kind: domain.StageAppeal,
		Scores: map[string]float64{
			"industry_fit":    clampScore(fit),
			"impact":          clampScore(impact),
			"differentiation": clampScore(differentiation),
		},
		Feedback: map[string][]string{
			"strengths":        strengths,
			"improvements":     improvements,
			"keywords_missing": missing,
		},
		Metadata:   map[string]int{"keyword_hits": hits},
		ProducedAt: h.now(),
	}
}

func clampScore(value float64) float64 {
	value = math.Max(0, math.Min(100, value))
	return math.Round(value*10) / 10
}
