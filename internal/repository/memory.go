package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/domain"
)

// MemoryJobStore stores jobs in memory for local development and tests. The
// map lock only guards lookup and insert; each job has its own mutex, so
// mutations of unrelated jobs never wait on each other.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*jobRecord
	now  func() time.Time
}

type jobRecord struct {
	mu  sync.Mutex
	job *domain.AnalysisJob
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]*jobRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job *domain.AnalysisJob) error {
	if err := checkCreate(job); err != nil {
		return err
	}
	clone := job.Clone()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = s.now()
	}
	if clone.UpdatedAt.IsZero() {
		clone.UpdatedAt = clone.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return apperr.Validation("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = &jobRecord{job: clone}
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, jobID string) (*domain.AnalysisJob, error) {
	record, ok := s.record(jobID)
	if !ok {
		return nil, apperr.NotFound("job %s not found", jobID)
	}
	record.mu.Lock()
	defer record.mu.Unlock()
	return record.job.Clone(), nil
}

func (s *MemoryJobStore) AppendStageResult(_ context.Context, jobID string, result domain.StageResult) error {
	return s.mutate(jobID, func(job *domain.AnalysisJob) error {
		if err := checkAppend(job, result); err != nil {
			return err
		}
		job.StageResults = append(job.StageResults, result.Clone())
		job.UpdatedAt = s.now()
		return nil
	})
}

func (s *MemoryJobStore) Transition(
	_ context.Context,
	jobID string,
	from, to domain.JobStatus,
	extra TransitionExtra,
) (*domain.AnalysisJob, error) {
	var updated *domain.AnalysisJob
	err := s.mutate(jobID, func(job *domain.AnalysisJob) error {
		if err := checkTransition(job, from, to, extra); err != nil {
			return err
		}
		applyTransition(job, to, extra, s.now())
		updated = job.Clone()
		return nil
	})
	return updated, err
}

func (s *MemoryJobStore) RecordAttempt(_ context.Context, jobID string, attempts int) error {
	return s.mutate(jobID, func(job *domain.AnalysisJob) error {
		if err := checkRecordAttempt(job, attempts); err != nil {
			return err
		}
		job.Attempts = attempts
		job.UpdatedAt = s.now()
		return nil
	})
}

func (s *MemoryJobStore) ListByStatus(
	_ context.Context,
	statuses []domain.JobStatus,
	limit int,
) ([]*domain.AnalysisJob, error) {
	wanted := make(map[domain.JobStatus]bool, len(statuses))
	for _, status := range statuses {
		wanted[status] = true
	}

	s.mu.RLock()
	records := make([]*jobRecord, 0, len(s.jobs))
	for _, record := range s.jobs {
		records = append(records, record)
	}
	s.mu.RUnlock()

	items := make([]*domain.AnalysisJob, 0)
	for _, record := range records {
		record.mu.Lock()
		if wanted[record.job.Status] {
			items = append(items, record.job.Clone())
		}
		record.mu.Unlock()
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryJobStore) record(jobID string) (*jobRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.jobs[jobID]
	return record, ok
}

// mutate applies fn to a copy of the job under the job's own lock. The record
// is only replaced when fn succeeds.
func (s *MemoryJobStore) mutate(jobID string, fn func(job *domain.AnalysisJob) error) error {
	record, ok := s.record(jobID)
	if !ok {
		return apperr.NotFound("job %s not found", jobID)
	}
	record.mu.Lock()
	defer record.mu.Unlock()

	working := record.job.Clone()
	if err := fn(working); err != nil {
		return err
	}
	record.job = working
	return nil
}
