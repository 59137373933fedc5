package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/resume-analyzer-back/internal/domain"
)

func sampleResult(score float64) domain.StageResult {
	return domain.StageResult{
		Kind:     domain.StageStructure,
		Scores:   map[string]float64{"format": score},
		Feedback: map[string][]string{"strengths": {"Clear headings."}},
	}
}

func TestResultCacheReturnsCopies(t *testing.T) {
	c := NewResultCache(Config{})
	c.Set("sig", Entry{Result: sampleResult(80), ModelID: "model-a"})

	entry, ok := c.Get("sig")
	require.True(t, ok)
	entry.Result.Scores["format"] = 1
	entry.Result.Feedback["strengths"][0] = "mutated"

	again, ok := c.Get("sig")
	require.True(t, ok)
	assert.Equal(t, 80.0, again.Result.Scores["format"])
	assert.Equal(t, "Clear headings.", again.Result.Feedback["strengths"][0])
	assert.Equal(t, "model-a", again.ModelID)
}

func TestResultCacheExpiresEntries(t *testing.T) {
	c := NewResultCache(Config{TTL: time.Minute})
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	c.Set("sig", Entry{Result: sampleResult(70)})
	current = current.Add(2 * time.Minute)

	_, ok := c.Get("sig")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestResultCacheEvictsOldestWhenFull(t *testing.T) {
	c := NewResultCache(Config{MaxEntries: 2})
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	for _, key := range []string{"a", "b", "c"} {
		c.Set(key, Entry{Result: sampleResult(50)})
		current = current.Add(time.Second)
	}

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestSignatureIgnoresCaseAndPadding(t *testing.T) {
	assert.Equal(t, Signature("Structure", " model "), Signature("structure", "MODEL"))
	assert.NotEqual(t, Signature("structure", "a"), Signature("appeal", "a"))
}
