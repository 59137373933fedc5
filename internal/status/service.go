// Package status serves read-only snapshots of analysis jobs to pollers.
package status

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/domain"
	"github.com/iago/resume-analyzer-back/internal/repository"
)

// sharedReadTimeout bounds a store read that no single poller owns.
const sharedReadTimeout = 10 * time.Second

// Service never waits for a job to progress; it reports what the store holds.
type Service struct {
	store repository.JobStore
	group singleflight.Group
}

func NewService(store repository.JobStore) *Service {
	return &Service{store: store}
}

// GetStatus returns the job's current snapshot or an apperr.ErrNotFound
// error. Concurrent polls for the same id share one store read.
func (s *Service) GetStatus(ctx context.Context, jobID string) (domain.JobSnapshot, error) {
	if jobID == "" {
		return domain.JobSnapshot{}, apperr.Validation("job id is required")
	}
	// The read is shared by every poller of jobID, so one caller going away
	// must not cancel it for the others.
	results := s.group.DoChan(jobID, func() (any, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedReadTimeout)
		defer cancel()
		job, err := s.store.Get(readCtx, jobID)
		if err != nil {
			return nil, err
		}
		return Snapshot(job), nil
	})

	var result singleflight.Result
	select {
	case <-ctx.Done():
		return domain.JobSnapshot{}, ctx.Err()
	case result = <-results:
	}
	value, err := result.Val, result.Err
	if err != nil {
		if apperr.Is(err, apperr.ErrNotFound) {
			return domain.JobSnapshot{}, err
		}
		return domain.JobSnapshot{}, apperr.Wrapf(err, "load job %s", jobID)
	}
	return cloneSnapshot(value.(domain.JobSnapshot)), nil
}

// Snapshot projects a job onto the client read model. Resume text and
// attempt bookkeeping stay internal.
func Snapshot(job *domain.AnalysisJob) domain.JobSnapshot {
	snapshot := domain.JobSnapshot{
		JobID:        job.ID,
		Status:       job.Status,
		IndustryCode: job.IndustryCode,
		Progress:     Progress(job.Status),
		StageResults: make([]domain.StageResult, 0, len(job.StageResults)),
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
	for _, result := range job.StageResults {
		snapshot.StageResults = append(snapshot.StageResults, result.Clone())
	}
	if job.Aggregate != nil {
		aggregate := *job.Aggregate
		snapshot.Aggregate = &aggregate
	}
	if job.Error != nil {
		jobErr := *job.Error
		snapshot.Error = &jobErr
	}
	if job.TerminalAt != nil {
		terminalAt := *job.TerminalAt
		snapshot.TerminalAt = &terminalAt
	}
	return snapshot
}

// Progress is a coarse percentage derived from status alone.
func Progress(status domain.JobStatus) int {
	switch status {
	case domain.JobStatusRunningStructure:
		return 10
	case domain.JobStatusRunningAppeal:
		return 55
	case domain.JobStatusCompleted, domain.JobStatusFailed:
		return 100
	default:
		return 0
	}
}

// cloneSnapshot keeps callers that shared a singleflight result independent.
func cloneSnapshot(in domain.JobSnapshot) domain.JobSnapshot {
	out := in
	out.StageResults = make([]domain.StageResult, 0, len(in.StageResults))
	for _, result := range in.StageResults {
		out.StageResults = append(out.StageResults, result.Clone())
	}
	if in.Aggregate != nil {
		aggregate := *in.Aggregate
		out.Aggregate = &aggregate
	}
	if in.Error != nil {
		jobErr := *in.Error
		out.Error = &jobErr
	}
	return out
}
