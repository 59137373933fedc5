package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/iago/resume-analyzer-back/internal/ai"
	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/cache"
	contextbuilder "github.com/iago/resume-analyzer-back/internal/context"
	"github.com/iago/resume-analyzer-back/internal/domain"
	"github.com/iago/resume-analyzer-back/internal/policy"
	"github.com/iago/resume-analyzer-back/internal/quality"
)

// LLMExecutor asks a hosted model to score a stage. Counts in Metadata are
// computed locally; the model only supplies scores and feedback.
type LLMExecutor struct {
	generator ai.TextGenerator
	router    *ai.ModelRouter
	prompts   *contextbuilder.Builder
	results   *cache.ResultCache
	now       func() time.Time
}

func NewLLMExecutor(generator ai.TextGenerator, router *ai.ModelRouter) *LLMExecutor {
	return &LLMExecutor{
		generator: generator,
		router:    router,
		prompts:   contextbuilder.NewBuilder(contextbuilder.NewSectionRetriever()),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithCache reuses validated results for identical inputs until they expire.
func (e *LLMExecutor) WithCache(results *cache.ResultCache) *LLMExecutor {
	e.results = results
	return e
}

func (e *LLMExecutor) Run(ctx context.Context, request Request) (domain.StageResult, error) {
	stageName := string(request.Kind)
	schema, ok := domain.SchemaFor(request.Kind)
	if !ok {
		return domain.StageResult{}, apperr.Permanent(stageName, apperr.Newf("unsupported stage kind %q", request.Kind))
	}
	if !e.generator.Available() {
		return domain.StageResult{}, apperr.Permanent(stageName, ai.ErrUnavailable)
	}

	resumeContext, err := e.prompts.Build(ctx, contextbuilder.BuildInput{
		Task:     stageName,
		Text:     policy.MaskPII(request.ResumeText),
		Keywords: KeywordsFor(request.Industry),
	})
	if err != nil {
		return domain.StageResult{}, apperr.Permanent(stageName, err)
	}

	profile := e.router.Select(request.Kind)
	model := profile.ModelFor(request.Attempt)
	signature := resultSignature(request, model, resumeContext.ContextText)
	if e.results != nil {
		if entry, ok := e.results.Get(signature); ok {
			entry.Result.ProducedAt = e.now()
			return entry.Result, nil
		}
	}

	output, err := e.generator.Generate(ctx, ai.GenerateRequest{
		Model:           model,
		Instructions:    buildInstructions(request.Kind, schema),
		Input:           buildInput(request, resumeContext),
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
		JSONOnly:        true,
	})
	if err != nil {
		if ai.IsTransient(err) {
			return domain.StageResult{}, apperr.Transient(stageName, err)
		}
		return domain.StageResult{}, apperr.Permanent(stageName, err)
	}

	result, err := parseModelOutput(request.Kind, output.Text)
	if err != nil {
		// Malformed model output is usually a one-off; another attempt may parse.
		return domain.StageResult{}, apperr.Transient(stageName, err)
	}
	feedback, _, err := quality.Sanitize(result.Feedback, "keywords_missing")
	if err != nil {
		return domain.StageResult{}, apperr.Transient(stageName, err)
	}
	result.Feedback = feedback
	stats := analyzeText(request.ResumeText)
	result.Metadata = localMetadata(request, stats)
	if _, ok := result.Feedback["keywords_missing"]; !ok && request.Kind == domain.StageAppeal {
		result.Feedback["keywords_missing"] = missingKeywords(request.Industry, stats)
	}
	result.ProducedAt = e.now()
	if err := result.Validate(); err != nil {
		return domain.StageResult{}, apperr.Transient(stageName, err)
	}
	if e.results != nil {
		e.results.Set(signature, cache.Entry{Result: result, ModelID: output.ModelID})
	}
	return result, nil
}

func resultSignature(request Request, model, resumeText string) string {
	prior := ""
	if request.Prior != nil {
		encoded, _ := json.Marshal(request.Prior.Scores)
		prior = string(encoded)
	}
	return cache.Signature(string(request.Kind), model, string(request.Industry), prior, resumeText)
}

type modelOutput struct {
	Scores   map[string]float64  `json:"scores"`
	Feedback map[string][]string `json:"feedback"`
}

func parseModelOutput(kind domain.StageKind, text string) (domain.StageResult, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var output modelOutput
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &output); err != nil {
		return domain.StageResult{}, apperr.Wrap(err, "decode model output")
	}
	if output.Feedback == nil {
		output.Feedback = map[string][]string{}
	}
	for name, entries := range output.Feedback {
		if entries == nil {
			output.Feedback[name] = []string{}
		}
	}
	return domain.StageResult{Kind: kind, Scores: output.Scores, Feedback: output.Feedback}, nil
}

func localMetadata(request Request, stats textStats) map[string]int {
	if request.Kind == domain.StageStructure {
		return map[string]int{
			"section_count": stats.Sections,
			"word_count":    stats.Words,
			"bullet_count":  stats.Bullets,
		}
	}
	hits := 0
	for _, keyword := range KeywordsFor(request.Industry) {
		if stats.containsTerm(keyword) {
			hits++
		}
	}
	return map[string]int{"keyword_hits": hits}
}

func buildInstructions(kind domain.StageKind, schema domain.StageSchema) string {
	focus := "layout, section organization and readability"
	if kind == domain.StageAppeal {
		focus = "fit for the target industry, demonstrated impact and differentiation from other candidates"
	}
	return fmt.Sprintf(`You review resumes for recruiting consultants. Assess %s.
Answer with a single JSON object and nothing else:
{"scores": {%s}, "feedback": {%s}}
Every score is a number from 0 to 100. Every feedback value is an array of short sentences.`,
		focus,
		jsonKeys(schema.Scores, "<0-100>"),
		jsonKeys(schema.Feedback, "[...]"),
	)
}

func buildInput(request Request, resumeContext contextbuilder.BuildOutput) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Target industry: %s\n", request.Industry)
	if request.Prior != nil {
		encoded, _ := json.Marshal(request.Prior.Scores)
		fmt.Fprintf(&builder, "Structure assessment scores: %s\n", encoded)
	}
	if resumeContext.Truncated {
		builder.WriteString("Resume (lower priority sections omitted for length):\n")
	} else {
		builder.WriteString("Resume:\n")
	}
	builder.WriteString(resumeContext.ContextText)
	return builder.String()
}

func jsonKeys(names []string, placeholder string) string {
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%q: %s", name, placeholder))
	}
	return strings.Join(parts, ", ")
}

func missingKeywords(industry domain.IndustryCode, stats textStats) []string {
	missing := make([]string, 0)
	for _, keyword := range KeywordsFor(industry) {
		if !stats.containsTerm(keyword) {
			missing = append(missing, keyword)
		}
	}
	return missing
}
