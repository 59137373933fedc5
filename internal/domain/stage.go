package domain

import (
	"math"
	"time"

	"github.com/iago/resume-analyzer-back/internal/apperr"
)

type StageKind string

const (
	StageStructure StageKind = "structure"
	StageAppeal    StageKind = "appeal"
)

// StageSchema lists the fixed names a result of one stage kind must carry.
type StageSchema struct {
	Scores   []string
	Feedback []string
	Metadata []string
}

var stageSchemas = map[StageKind]StageSchema{
	StageStructure: {
		Scores:   []string{"format", "organization", "readability"},
		Feedback: []string{"strengths", "improvements"},
		Metadata: []string{"section_count", "word_count", "bullet_count"},
	},
	StageAppeal: {
		Scores:   []string{"industry_fit", "impact", "differentiation"},
		Feedback: []string{"strengths", "improvements", "keywords_missing"},
		Metadata: []string{"keyword_hits"},
	},
}

func SchemaFor(kind StageKind) (StageSchema, bool) {
	schema, ok := stageSchemas[kind]
	return schema, ok
}

// StageResult is the immutable output of one analysis stage.
type StageResult struct {
	Kind       StageKind           `json:"kind"`
	Scores     map[string]float64  `json:"scores"`
	Feedback   map[string][]string `json:"feedback"`
	Metadata   map[string]int      `json:"metadata,omitempty"`
	ProducedAt time.Time           `json:"produced_at"`
}

// Validate checks the result against the schema of its kind. Scores must lie in [0, 100].
func (r StageResult) Validate() error {
	schema, ok := SchemaFor(r.Kind)
	if !ok {
		return apperr.Newf("unknown stage kind %q", r.Kind)
	}
	if len(r.Scores) != len(schema.Scores) {
		return apperr.Newf("%s result carries %d scores, want %d", r.Kind, len(r.Scores), len(schema.Scores))
	}
	for _, name := range schema.Scores {
		value, ok := r.Scores[name]
		if !ok {
			return apperr.Newf("%s result missing score %q", r.Kind, name)
		}
		if math.IsNaN(value) || value < 0 || value > 100 {
			return apperr.Newf("%s score %q out of range: %v", r.Kind, name, value)
		}
	}
	for _, name := range schema.Feedback {
		if _, ok := r.Feedback[name]; !ok {
			return apperr.Newf("%s result missing feedback category %q", r.Kind, name)
		}
	}
	for _, name := range schema.Metadata {
		if _, ok := r.Metadata[name]; !ok {
			return apperr.Newf("%s result missing metadata %q", r.Kind, name)
		}
	}
	return nil
}

// MeanScore is the unweighted mean of the result's sub-scores.
func (r StageResult) MeanScore() float64 {
	if len(r.Scores) == 0 {
		return 0
	}
	total := 0.0
	for _, value := range r.Scores {
		total += value
	}
	return total / float64(len(r.Scores))
}

func (r StageResult) Clone() StageResult {
	clone := r
	if r.Scores != nil {
		clone.Scores = make(map[string]float64, len(r.Scores))
		for name, value := range r.Scores {
			clone.Scores[name] = value
		}
	}
	if r.Feedback != nil {
		clone.Feedback = make(map[string][]string, len(r.Feedback))
		for name, entries := range r.Feedback {
			clone.Feedback[name] = append([]string(nil), entries...)
		}
	}
	if r.Metadata != nil {
		clone.Metadata = make(map[string]int, len(r.Metadata))
		for name, value := range r.Metadata {
			clone.Metadata[name] = value
		}
	}
	return clone
}

// StageBinding pairs a stage kind with the status a job holds while it runs.
type StageBinding struct {
	Kind    StageKind
	Running JobStatus
}

// stages is the ordered analysis pipeline. A new stage needs a kind, a
// running status, a schema and an entry here.
var stages = []StageBinding{
	{Kind: StageStructure, Running: JobStatusRunningStructure},
	{Kind: StageAppeal, Running: JobStatusRunningAppeal},
}

// Stages returns the pipeline in execution order.
func Stages() []StageBinding {
	return append([]StageBinding(nil), stages...)
}

// StageForStatus maps a running status to the stage it executes.
func StageForStatus(status JobStatus) (StageKind, bool) {
	for _, binding := range stages {
		if binding.Running == status {
			return binding.Kind, true
		}
	}
	return "", false
}
