package quality

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/resume-analyzer-back/internal/apperr"
)

func TestSanitizeNormalizesEntries(t *testing.T) {
	cleaned, report, err := Sanitize(map[string][]string{
		"strengths":    {"  Clear   section headings ", "Clear section headings", ""},
		"improvements": {"Reach me at jane.doe@example.com for details"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Clear section headings."}, cleaned["strengths"])
	require.Len(t, cleaned["improvements"], 1)
	assert.NotContains(t, cleaned["improvements"][0], "jane.doe@example.com")
	assert.True(t, report.Corrected)
	assert.Greater(t, report.Score, 0.0)
}

func TestSanitizeLeavesKeywordCategoriesAlone(t *testing.T) {
	cleaned, _, err := Sanitize(map[string][]string{
		"strengths":        {"Quantified impact."},
		"keywords_missing": {"kubernetes", "terraform"},
	}, "keywords_missing")
	require.NoError(t, err)
	assert.Equal(t, []string{"kubernetes", "terraform"}, cleaned["keywords_missing"])
}

func TestSanitizeCapsLongEntriesAndCategories(t *testing.T) {
	long := strings.Repeat("word ", 100)
	entries := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		entries = append(entries, string(rune('a'+i))+" "+long)
	}
	cleaned, _, err := Sanitize(map[string][]string{"improvements": entries})
	require.NoError(t, err)
	assert.Len(t, cleaned["improvements"], maxEntriesPerFamily)
	for _, entry := range cleaned["improvements"] {
		assert.LessOrEqual(t, len(entry), maxEntryLength+1)
	}
}

func TestSanitizeRejectsEmptyFeedback(t *testing.T) {
	_, _, err := Sanitize(map[string][]string{"strengths": {" ", ""}, "improvements": {}})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, ErrQualityRejected))
}
