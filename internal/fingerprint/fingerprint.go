// Package fingerprint derives content fingerprints for submissions and maps
// each fingerprint to the job that owns it, so identical work runs once.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/iago/resume-analyzer-back/internal/domain"
)

// Compute is deterministic over normalized resume text and the industry code.
// Case and whitespace runs do not affect the result.
func Compute(resumeText string, industry domain.IndustryCode) string {
	normalized := Normalize(resumeText)
	sum := sha256.Sum256([]byte(normalized + "||" + string(industry)))
	return hex.EncodeToString(sum[:])
}

// Normalize lower-cases text and collapses whitespace runs to single spaces.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// CreateFunc creates the job that will own a fingerprint and returns its id.
type CreateFunc func(ctx context.Context) (string, error)

// Resolution reports which job a submission attached to.
type Resolution struct {
	JobID   string
	Created bool
	// Cached is set when the job is terminal and served from the cache window.
	Cached bool
}

// Index maps fingerprints to in-flight or recently terminal jobs.
//
// Resolve is atomic per fingerprint: among concurrent callers exactly one runs
// create, every other caller observes the id it returned. If create fails no
// mapping is recorded.
type Index interface {
	Resolve(ctx context.Context, fingerprint string, create CreateFunc) (Resolution, error)
	MarkTerminal(ctx context.Context, fingerprint, jobID string) error
	Forget(ctx context.Context, fingerprint, jobID string) error
}
