package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iago/resume-analyzer-back/internal/apperr"
)

func TestMaskPIIMasksCommonPatterns(t *testing.T) {
	masked := MaskPII("Jane Doe | jane.doe@example.com | +1 (415) 555-0100 | SSN 123-45-6789 | https://linkedin.com/in/janedoe")

	assert.NotContains(t, masked, "jane.doe@example.com")
	assert.NotContains(t, masked, "555-0100")
	assert.NotContains(t, masked, "123-45-6789")
	assert.NotContains(t, masked, "linkedin.com/in/janedoe")
	assert.Contains(t, masked, "Jane Doe")
}

func TestMaskPIIKeepsCardSuffix(t *testing.T) {
	masked := MaskPII("card 4111 1111 1111 1234 on file")
	assert.Contains(t, masked, "**** **** **** 1234")
}

func TestEvaluateResume(t *testing.T) {
	assert.False(t, EvaluateResume("   ").Allowed)
	assert.False(t, EvaluateResume("too short").Allowed)
	assert.False(t, EvaluateResume(strings.Repeat("word ", MaxResumeBytes)).Allowed)

	long := strings.Repeat("experienced consultant delivering programs ", 10)
	assert.True(t, EvaluateResume(long).Allowed)
}

func TestEnforceResumePolicyReturnsValidationError(t *testing.T) {
	err := EnforceResumePolicy("")
	assert.True(t, apperr.Is(err, apperr.ErrValidation))
	assert.Nil(t, EnforceResumePolicy(strings.Repeat("senior engineer ", 20)))
}
