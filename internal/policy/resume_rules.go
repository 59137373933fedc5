package policy

import (
	"strings"

	"github.com/iago/resume-analyzer-back/internal/apperr"
)

const (
	MaxResumeBytes = 64 * 1024
	MinResumeWords = 30
)

type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Evaluation struct {
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`
}

// EnforceResumePolicy returns a validation error describing the first
// violation, or nil when the text may be analyzed.
func EnforceResumePolicy(text string) error {
	evaluation := EvaluateResume(text)
	if evaluation.Allowed {
		return nil
	}
	return apperr.Validation("resume rejected: %s", evaluation.Violations[0].Message)
}

func EvaluateResume(text string) Evaluation {
	violations := make([]Violation, 0, 2)
	trimmed := strings.TrimSpace(text)

	switch {
	case trimmed == "":
		violations = append(violations, Violation{Code: "empty", Message: "resume has no text content"})
	case len(trimmed) > MaxResumeBytes:
		violations = append(violations, Violation{Code: "too_large", Message: "resume exceeds the size limit"})
	case len(strings.Fields(trimmed)) < MinResumeWords:
		violations = append(violations, Violation{Code: "too_short", Message: "resume is too short to assess"})
	}
	if strings.ContainsRune(trimmed, '\x00') {
		violations = append(violations, Violation{Code: "binary", Message: "resume must be plain text"})
	}

	if len(violations) == 0 {
		return Evaluation{Allowed: true}
	}
	return Evaluation{Violations: violations}
}
