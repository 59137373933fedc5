// Package service implements the submission side of the analysis engine.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/domain"
	"github.com/iago/resume-analyzer-back/internal/fingerprint"
	"github.com/iago/resume-analyzer-back/internal/logger"
	"github.com/iago/resume-analyzer-back/internal/policy"
	"github.com/iago/resume-analyzer-back/internal/queue"
	"github.com/iago/resume-analyzer-back/internal/repository"
	"github.com/iago/resume-analyzer-back/internal/resume"
	"github.com/iago/resume-analyzer-back/internal/status"
)

// Submission is the outcome of Submit.
type Submission struct {
	JobID string
	// Created is true when this call created the job.
	Created bool
	// Deduplicated is true when the call attached to an existing job.
	Deduplicated bool
	Snapshot     *domain.JobSnapshot
}

type AnalysisDependencies struct {
	Store    repository.JobStore
	Index    fingerprint.Index
	Producer queue.Producer
	Resumes  resume.Source
	Logger   *logger.Logger
	Now      func() time.Time
	NewID    func() string
}

type AnalysisService struct {
	store    repository.JobStore
	index    fingerprint.Index
	producer queue.Producer
	resumes  resume.Source
	log      *logger.Logger
	now      func() time.Time
	newID    func() string
}

func NewAnalysisService(deps AnalysisDependencies) (*AnalysisService, error) {
	if deps.Store == nil || deps.Index == nil || deps.Producer == nil || deps.Resumes == nil {
		return nil, apperr.New("analysis service requires a store, an index, a producer and a resume source")
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &AnalysisService{
		store:    deps.Store,
		index:    deps.Index,
		producer: deps.Producer,
		resumes:  deps.Resumes,
		log:      logger.OrNop(deps.Logger).With("component", "analysis_service"),
		now:      deps.Now,
		newID:    deps.NewID,
	}, nil
}

// Submit validates the request and attaches it to the job owning the
// resume's fingerprint, creating and dispatching a new job when none is in
// flight or cached. Validation failures never create a job.
func (s *AnalysisService) Submit(ctx context.Context, resumeRef, industryCode string) (Submission, error) {
	industry, err := domain.ParseIndustry(industryCode)
	if err != nil {
		return Submission{}, err
	}
	resumeRef = strings.TrimSpace(resumeRef)
	if resumeRef == "" {
		return Submission{}, apperr.Validation("resume_ref is required")
	}

	text, err := s.resumes.Load(ctx, resumeRef)
	if err != nil {
		return Submission{}, err
	}
	if err := policy.EnforceResumePolicy(text); err != nil {
		return Submission{}, err
	}
	fp := fingerprint.Compute(text, industry)
	log := s.log.With("fingerprint", fp[:12], "industry", industry)

	// A mapping can outlive its job when the store is not durable; drop it
	// and resolve once more.
	for pass := 0; pass < 2; pass++ {
		var created *domain.AnalysisJob
		resolution, err := s.index.Resolve(ctx, fp, func(ctx context.Context) (string, error) {
			job := s.newJob(fp, industry, resumeRef, text)
			if err := s.store.Create(ctx, job); err != nil {
				return "", apperr.Wrap(err, "create job")
			}
			created = job
			return job.ID, nil
		})
		if err != nil {
			return Submission{}, apperr.Wrap(err, "resolve fingerprint")
		}

		if resolution.Created {
			if err := s.dispatch(ctx, created); err != nil {
				if forgetErr := s.index.Forget(context.WithoutCancel(ctx), fp, created.ID); forgetErr != nil {
					log.Warn("release fingerprint after dispatch failure", "job_id", created.ID, "error", forgetErr)
				}
				log.Error("dispatch failed, job left pending for recovery", "job_id", created.ID, "error", err)
				return Submission{}, apperr.Wrapf(err, "dispatch job %s", created.ID)
			}
			snapshot := status.Snapshot(created)
			log.Info("analysis job created", "job_id", created.ID)
			return Submission{JobID: created.ID, Created: true, Snapshot: &snapshot}, nil
		}

		job, err := s.store.Get(ctx, resolution.JobID)
		if apperr.Is(err, apperr.ErrNotFound) {
			log.Warn("fingerprint mapped to a missing job, releasing", "job_id", resolution.JobID)
			if forgetErr := s.index.Forget(ctx, fp, resolution.JobID); forgetErr != nil {
				return Submission{}, apperr.Wrap(forgetErr, "release stale fingerprint")
			}
			continue
		}
		if err != nil {
			return Submission{}, apperr.Wrapf(err, "load job %s", resolution.JobID)
		}
		snapshot := status.Snapshot(job)
		log.Debug("submission deduplicated", "job_id", job.ID, "status", job.Status, "cached", resolution.Cached)
		return Submission{JobID: job.ID, Deduplicated: true, Snapshot: &snapshot}, nil
	}
	return Submission{}, apperr.Newf("fingerprint %s kept resolving to missing jobs", fp)
}

func (s *AnalysisService) newJob(fp string, industry domain.IndustryCode, ref, text string) *domain.AnalysisJob {
	now := s.now()
	return &domain.AnalysisJob{
		ID:             s.newID(),
		Fingerprint:    fp,
		IndustryCode:   industry,
		ResumeRef:      ref,
		ResumeText:     text,
		Status:         domain.JobStatusPending,
		AttemptHistory: map[domain.StageKind]int{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *AnalysisService) dispatch(ctx context.Context, job *domain.AnalysisJob) error {
	return s.producer.Enqueue(ctx, domain.DispatchMessage{
		JobID:        job.ID,
		Fingerprint:  job.Fingerprint,
		IndustryCode: job.IndustryCode,
		RequestedAt:  job.CreatedAt,
	})
}
