package repository

import (
	"context"
	"time"

	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/domain"
)

// TransitionExtra carries the payload a terminal transition requires.
type TransitionExtra struct {
	Error     *domain.JobError
	Aggregate *domain.Aggregate
}

// JobStore persists analysis jobs. Status changes are compare-and-set on the
// expected current status; stage results are append-only.
type JobStore interface {
	Create(ctx context.Context, job *domain.AnalysisJob) error
	Get(ctx context.Context, jobID string) (*domain.AnalysisJob, error)
	AppendStageResult(ctx context.Context, jobID string, result domain.StageResult) error
	Transition(ctx context.Context, jobID string, from, to domain.JobStatus, extra TransitionExtra) (*domain.AnalysisJob, error)
	RecordAttempt(ctx context.Context, jobID string, attempts int) error
	ListByStatus(ctx context.Context, statuses []domain.JobStatus, limit int) ([]*domain.AnalysisJob, error)
}

func checkCreate(job *domain.AnalysisJob) error {
	switch {
	case job == nil || job.ID == "":
		return apperr.Validation("job id is required")
	case job.Status != domain.JobStatusPending:
		return apperr.InvalidTransition("job %s must be created pending, got %s", job.ID, job.Status)
	case !job.IndustryCode.Valid():
		return apperr.Validation("unknown industry_code %q", job.IndustryCode)
	case len(job.StageResults) > 0:
		return apperr.InvalidTransition("job %s created with stage results", job.ID)
	}
	return nil
}

func checkTransition(job *domain.AnalysisJob, from, to domain.JobStatus, extra TransitionExtra) error {
	if job.Status.IsTerminal() {
		return apperr.InvalidTransition("job %s is already %s", job.ID, job.Status)
	}
	if !domain.CanTransition(from, to) {
		return apperr.InvalidTransition("job %s cannot move from %s to %s", job.ID, from, to)
	}
	if job.Status != from {
		return apperr.StatusConflict("job %s is %s, expected %s", job.ID, job.Status, from)
	}
	if to == domain.JobStatusCompleted && extra.Aggregate == nil {
		return apperr.InvalidTransition("job %s cannot complete without an aggregate", job.ID)
	}
	if to == domain.JobStatusFailed && extra.Error == nil {
		return apperr.InvalidTransition("job %s cannot fail without an error", job.ID)
	}
	return nil
}

func applyTransition(job *domain.AnalysisJob, to domain.JobStatus, extra TransitionExtra, now time.Time) {
	if stage, ok := domain.StageForStatus(job.Status); ok {
		if job.AttemptHistory == nil {
			job.AttemptHistory = make(map[domain.StageKind]int)
		}
		job.AttemptHistory[stage] = job.Attempts
	}
	job.Status = to
	job.Attempts = 0
	job.UpdatedAt = now
	if to == domain.JobStatusCompleted {
		aggregate := *extra.Aggregate
		job.Aggregate = &aggregate
	}
	if to == domain.JobStatusFailed {
		jobErr := *extra.Error
		job.Error = &jobErr
	}
	if to.IsTerminal() {
		terminalAt := now
		job.TerminalAt = &terminalAt
	}
}

// checkAppend only admits the result of the stage the job is currently running.
func checkAppend(job *domain.AnalysisJob, result domain.StageResult) error {
	if job.Status.IsTerminal() {
		return apperr.InvalidTransition("job %s is already %s", job.ID, job.Status)
	}
	running, ok := domain.StageForStatus(job.Status)
	if !ok || running != result.Kind {
		return apperr.InvalidTransition("job %s is %s and cannot accept a %s result", job.ID, job.Status, result.Kind)
	}
	if _, exists := job.StageResult(result.Kind); exists {
		return apperr.InvalidTransition("job %s already has a %s result", job.ID, result.Kind)
	}
	return nil
}

func checkRecordAttempt(job *domain.AnalysisJob, attempts int) error {
	if job.Status.IsTerminal() {
		return apperr.InvalidTransition("job %s is already %s", job.ID, job.Status)
	}
	if attempts < 0 {
		return apperr.Validation("attempts must not be negative")
	}
	return nil
}
