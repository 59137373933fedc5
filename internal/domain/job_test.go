package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/resume-analyzer-back/internal/apperr"
)

func TestCanTransitionFollowsStateMachine(t *testing.T) {
	allowed := [][2]JobStatus{
		{JobStatusPending, JobStatusRunningStructure},
		{JobStatusRunningStructure, JobStatusRunningAppeal},
		{JobStatusRunningStructure, JobStatusFailed},
		{JobStatusRunningAppeal, JobStatusCompleted},
		{JobStatusRunningAppeal, JobStatusFailed},
	}
	for _, edge := range allowed {
		assert.True(t, CanTransition(edge[0], edge[1]), "%s -> %s", edge[0], edge[1])
	}

	rejected := [][2]JobStatus{
		{JobStatusPending, JobStatusRunningAppeal},
		{JobStatusPending, JobStatusCompleted},
		{JobStatusPending, JobStatusFailed},
		{JobStatusRunningAppeal, JobStatusRunningStructure},
		{JobStatusCompleted, JobStatusFailed},
		{JobStatusFailed, JobStatusPending},
	}
	for _, edge := range rejected {
		assert.False(t, CanTransition(edge[0], edge[1]), "%s -> %s", edge[0], edge[1])
	}
}

func TestStagesDriveStatusMapping(t *testing.T) {
	bindings := Stages()
	require.Len(t, bindings, 2)
	assert.Equal(t, StageStructure, bindings[0].Kind)
	assert.Equal(t, StageAppeal, bindings[1].Kind)

	previous := JobStatusPending
	for _, binding := range bindings {
		kind, ok := StageForStatus(binding.Running)
		require.True(t, ok)
		assert.Equal(t, binding.Kind, kind)
		assert.True(t, binding.Running.IsRunning())
		assert.True(t, binding.Running.Valid())
		_, hasSchema := SchemaFor(binding.Kind)
		assert.True(t, hasSchema, "stage %s has no schema", binding.Kind)
		assert.True(t, CanTransition(previous, binding.Running))
		assert.True(t, CanTransition(binding.Running, JobStatusFailed))
		previous = binding.Running
	}
	assert.True(t, CanTransition(previous, JobStatusCompleted))

	_, ok := StageForStatus(JobStatusPending)
	assert.False(t, ok)
	assert.False(t, JobStatusCompleted.IsRunning())
	assert.False(t, JobStatus("running_unknown").Valid())

	bindings[0].Kind = "mutated"
	assert.Equal(t, StageStructure, Stages()[0].Kind)
}

func TestParseIndustryRejectsUnknownCodes(t *testing.T) {
	code, err := ParseIndustry("  Tech_Consulting ")
	require.NoError(t, err)
	assert.Equal(t, IndustryTechConsulting, code)

	_, err = ParseIndustry("astrology")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrValidation))

	_, err = ParseIndustry("")
	assert.True(t, apperr.Is(err, apperr.ErrValidation))
}

func TestStageResultValidate(t *testing.T) {
	valid := StageResult{
		Kind:     StageStructure,
		Scores:   map[string]float64{"format": 80, "organization": 75, "readability": 70},
		Feedback: map[string][]string{"strengths": {"clear headings"}, "improvements": {}},
		Metadata: map[string]int{"section_count": 4, "word_count": 420, "bullet_count": 12},
	}
	require.NoError(t, valid.Validate())
	assert.InDelta(t, 75.0, valid.MeanScore(), 0.001)

	missing := valid.Clone()
	delete(missing.Scores, "readability")
	assert.Error(t, missing.Validate())

	outOfRange := valid.Clone()
	outOfRange.Scores["format"] = 140
	assert.Error(t, outOfRange.Validate())

	wrongKind := valid.Clone()
	wrongKind.Kind = StageAppeal
	assert.Error(t, wrongKind.Validate())
}

func TestCloneDoesNotShareState(t *testing.T) {
	job := &AnalysisJob{
		ID:             "job-1",
		Status:         JobStatusRunningAppeal,
		AttemptHistory: map[StageKind]int{StageStructure: 2},
		StageResults: []StageResult{{
			Kind:   StageStructure,
			Scores: map[string]float64{"format": 80},
		}},
	}
	clone := job.Clone()
	clone.AttemptHistory[StageStructure] = 9
	clone.StageResults[0].Scores["format"] = 10

	assert.Equal(t, 2, job.AttemptHistory[StageStructure])
	assert.Equal(t, 80.0, job.StageResults[0].Scores["format"])
}
