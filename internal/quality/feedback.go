// Package quality cleans model-written feedback before it becomes part of a
// stage result.
package quality

import (
	"strings"

	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/policy"
)

var ErrQualityRejected = apperr.New("output failed quality checks")

const (
	maxEntryLength      = 280
	maxEntriesPerFamily = 8
	minFeedbackScore    = 0.45
)

// FeedbackReport describes what Sanitize changed.
type FeedbackReport struct {
	Score     float64
	Corrected bool
}

// Sanitize normalizes every entry of feedback, masks PII, drops blanks and
// duplicates, and caps each category. Categories in keep are exempt from
// punctuation and length rules since they hold keywords rather than sentences.
// Output whose entries were all dropped, or that needed too many
// corrections, is rejected.
func Sanitize(feedback map[string][]string, keep ...string) (map[string][]string, FeedbackReport, error) {
	raw := make(map[string]bool, len(keep))
	for _, name := range keep {
		raw[name] = true
	}

	cleaned := make(map[string][]string, len(feedback))
	penalty := 0.0
	corrected := false
	offered, total := 0, 0

	for category, entries := range feedback {
		seen := make(map[string]struct{}, len(entries))
		out := make([]string, 0, len(entries))
		for _, entry := range entries {
			content := normalizeText(entry)
			if content == "" {
				corrected = true
				penalty += 0.05
				continue
			}
			if masked := policy.MaskPII(content); masked != content {
				content = masked
				corrected = true
				penalty += 0.05
			}
			if !raw[category] {
				if len(content) > maxEntryLength {
					content = truncateAtWord(content, maxEntryLength)
					corrected = true
					penalty += 0.05
				}
				if !hasTerminalPunctuation(content) {
					content += "."
					corrected = true
				}
			}

			key := strings.ToLower(content)
			if _, exists := seen[key]; exists {
				corrected = true
				penalty += 0.03
				continue
			}
			seen[key] = struct{}{}

			out = append(out, content)
			if len(out) == maxEntriesPerFamily {
				if len(entries) > maxEntriesPerFamily {
					corrected = true
				}
				break
			}
		}
		cleaned[category] = out
		if !raw[category] {
			offered += len(entries)
			total += len(out)
		}
	}

	if offered > 0 && total == 0 {
		return nil, FeedbackReport{}, apperr.Wrap(ErrQualityRejected, "no usable feedback entries")
	}
	score := clamp01(1.0 - penalty)
	if score < minFeedbackScore {
		return nil, FeedbackReport{}, apperr.Wrapf(ErrQualityRejected, "low feedback quality score %.2f", score)
	}
	return cleaned, FeedbackReport{Score: score, Corrected: corrected}, nil
}

func normalizeText(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func truncateAtWord(value string, maxLen int) string {
	if len(value) <= maxLen || maxLen <= 0 {
		return value
	}
	cut := value[:maxLen]
	if lastSpace := strings.LastIndex(cut, " "); lastSpace > maxLen/2 {
		cut = cut[:lastSpace]
	}
	return strings.TrimSpace(cut)
}

func hasTerminalPunctuation(value string) bool {
	if value == "" {
		return false
	}
	last := value[len(value)-1]
	return last == '.' || last == '!' || last == '?'
}

func clamp01(value float64) float64 {
	return max(0, min(1, value))
}
