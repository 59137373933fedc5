// Package orchestrator drives one analysis job from pending through every
// pipeline stage to a terminal status.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/iago/resume-analyzer-back/internal/aggregate"
	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/domain"
	"github.com/iago/resume-analyzer-back/internal/fingerprint"
	"github.com/iago/resume-analyzer-back/internal/logger"
	"github.com/iago/resume-analyzer-back/internal/observability"
	"github.com/iago/resume-analyzer-back/internal/repository"
	"github.com/iago/resume-analyzer-back/internal/retry"
	"github.com/iago/resume-analyzer-back/internal/stage"
)

const DefaultStageTimeout = 45 * time.Second

type Config struct {
	Store        repository.JobStore
	Index        fingerprint.Index
	Executors    *stage.Registry
	Aggregator   aggregate.Aggregator
	Retry        retry.Policy
	Pipeline     []Descriptor
	StageTimeout time.Duration
	Logger       *logger.Logger
	// Sleep waits between attempts; tests replace it to avoid real backoff.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Orchestrator is the only writer of job status and stage results.
type Orchestrator struct {
	store        repository.JobStore
	index        fingerprint.Index
	executors    *stage.Registry
	aggregator   aggregate.Aggregator
	retry        retry.Policy
	pipeline     []Descriptor
	stageTimeout time.Duration
	log          *logger.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil || cfg.Index == nil || cfg.Executors == nil || cfg.Aggregator == nil {
		return nil, apperr.New("orchestrator requires a store, an index, executors and an aggregator")
	}
	if cfg.Pipeline == nil {
		cfg.Pipeline = DefaultPipeline()
	}
	if err := validatePipeline(cfg.Pipeline); err != nil {
		return nil, err
	}
	for _, descriptor := range cfg.Pipeline {
		if _, ok := cfg.Executors.Get(descriptor.Kind); !ok {
			return nil, apperr.Newf("no executor registered for stage %s", descriptor.Kind)
		}
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultStageTimeout
	}
	if cfg.Sleep == nil {
		cfg.Sleep = retry.Wait
	}
	return &Orchestrator{
		store:        cfg.Store,
		index:        cfg.Index,
		executors:    cfg.Executors,
		aggregator:   cfg.Aggregator,
		retry:        cfg.Retry,
		pipeline:     append([]Descriptor(nil), cfg.Pipeline...),
		stageTimeout: cfg.StageTimeout,
		log:          logger.OrNop(cfg.Logger).With("component", "orchestrator"),
		sleep:        cfg.Sleep,
	}, nil
}

// Run claims the job and drives it to a terminal status. It returns an error
// only when the claim itself could not be made.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.Claim(ctx, jobID)
	if err != nil || job == nil {
		return err
	}
	o.Drive(ctx, job)
	return nil
}

// Claim moves a pending job into its first running status. It returns a nil
// job when there is nothing to do: the job already left pending, most likely
// because a duplicate dispatch was claimed elsewhere.
func (o *Orchestrator) Claim(ctx context.Context, jobID string) (*domain.AnalysisJob, error) {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, apperr.Wrapf(err, "load job %s", jobID)
	}
	if job.Status != domain.JobStatusPending {
		o.log.Debug("job not pending, skipping claim", "job_id", jobID, "status", job.Status)
		return nil, nil
	}
	claimed, err := o.store.Transition(ctx, jobID, domain.JobStatusPending, o.pipeline[0].Running, repository.TransitionExtra{})
	if apperr.IsAny(err, apperr.ErrStatusConflict, apperr.ErrInvalidTransition) {
		o.log.Debug("job claimed concurrently", "job_id", jobID, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrapf(err, "claim job %s", jobID)
	}
	return claimed, nil
}

// Drive runs the stages of a claimed job. It always ends with the job
// terminal unless the store refuses every write.
func (o *Orchestrator) Drive(ctx context.Context, job *domain.AnalysisJob) {
	log := o.log.With("job_id", job.ID, "industry", job.IndustryCode)
	started := time.Now()

	for i, descriptor := range o.pipeline {
		if job.Status != descriptor.Running {
			log.Error("job status does not match pipeline", "status", job.Status, "expected", descriptor.Running)
			return
		}

		request := stage.Request{
			Kind:       descriptor.Kind,
			JobID:      job.ID,
			ResumeText: job.ResumeText,
			Industry:   job.IndustryCode,
		}
		if i > 0 {
			if prior, ok := job.StageResult(o.pipeline[i-1].Kind); ok {
				request.Prior = &prior
			}
		}

		result, failed := o.runStage(ctx, log, request)
		if failed != nil {
			o.fail(ctx, log, job, failed)
			return
		}
		if err := o.store.AppendStageResult(ctx, job.ID, result); err != nil {
			o.fail(ctx, log, job, storeFailure(descriptor.Kind, err))
			return
		}
		job.StageResults = append(job.StageResults, result)

		extra := repository.TransitionExtra{}
		next := domain.JobStatusCompleted
		if i+1 < len(o.pipeline) {
			next = o.pipeline[i+1].Running
		} else {
			aggregated, err := o.aggregator.Aggregate(job.StageResults)
			if err != nil {
				o.fail(ctx, log, job, &failure{kind: apperr.KindInternal, message: "could not aggregate stage results", cause: err})
				return
			}
			extra.Aggregate = &aggregated
		}

		updated, err := o.store.Transition(ctx, job.ID, descriptor.Running, next, extra)
		if err != nil {
			if apperr.Is(err, apperr.ErrStatusConflict) {
				log.Error("job changed under the orchestrator, abandoning", "error", err)
				return
			}
			o.fail(ctx, log, job, storeFailure(descriptor.Kind, err))
			return
		}
		job = updated
		log.Info("stage completed", "stage", descriptor.Kind, "next_status", next)
	}

	if err := o.index.MarkTerminal(context.WithoutCancel(ctx), job.Fingerprint, job.ID); err != nil {
		log.Warn("mark fingerprint terminal failed", "error", err)
	}
	log.Info("job completed",
		"overall_score", job.Aggregate.OverallScore,
		"market_tier", job.Aggregate.MarketTier,
		"duration_ms", time.Since(started).Milliseconds(),
	)
}

// failure is how a job ends when a stage cannot produce a result.
type failure struct {
	kind    apperr.Kind
	message string
	cause   error
}

func storeFailure(kind domain.StageKind, err error) *failure {
	return &failure{kind: apperr.KindInternal, message: fmt.Sprintf("%s stage could not be recorded", kind), cause: err}
}

func (o *Orchestrator) runStage(ctx context.Context, log *logger.Logger, request stage.Request) (domain.StageResult, *failure) {
	executor, _ := o.executors.Get(request.Kind)
	stageName := string(request.Kind)
	maxAttempts := o.retry.MaxAttempts(request.Kind)

	for attempt := 1; ; attempt++ {
		if err := o.store.RecordAttempt(ctx, request.JobID, attempt); err != nil {
			return domain.StageResult{}, storeFailure(request.Kind, err)
		}
		request.Attempt = attempt

		result, err := o.attempt(ctx, executor, request)
		if err == nil {
			if validationErr := checkResult(request.Kind, result); validationErr != nil {
				err = apperr.Permanent(stageName, validationErr)
			} else {
				return result, nil
			}
		}
		if ctx.Err() != nil {
			return domain.StageResult{}, &failure{kind: apperr.KindInternal, message: "analysis interrupted by shutdown", cause: ctx.Err()}
		}

		class := apperr.ClassOf(err)
		decision := o.retry.ShouldRetry(request.Kind, attempt, class)
		if !decision.Retry {
			log.Warn("stage failed",
				"stage", stageName, "attempt", attempt, "class", class, "give_up", decision.GiveUp, "error", err)
			return domain.StageResult{}, giveUp(request.Kind, decision.GiveUp, attempt, err)
		}
		log.Info("stage attempt failed, retrying",
			"stage", stageName, "attempt", attempt, "max_attempts", maxAttempts,
			"delay_ms", decision.Delay.Milliseconds(), "error", err)
		if err := o.sleep(ctx, decision.Delay); err != nil {
			return domain.StageResult{}, &failure{kind: apperr.KindInternal, message: "analysis interrupted by shutdown", cause: err}
		}
	}
}

func giveUp(kind domain.StageKind, outcome apperr.Kind, attempts int, err error) *failure {
	switch outcome {
	case apperr.KindRetriesExhausted:
		return &failure{kind: outcome, message: fmt.Sprintf("%s stage failed after %d attempts", kind, attempts), cause: err}
	default:
		return &failure{kind: apperr.KindPermanent, message: fmt.Sprintf("%s stage rejected the resume", kind), cause: err}
	}
}

// attempt runs one executor call under the stage deadline. The executor runs
// in its own goroutine so a call that ignores its context still cannot hold
// the job past the deadline.
func (o *Orchestrator) attempt(ctx context.Context, executor stage.Executor, request stage.Request) (result domain.StageResult, err error) {
	stageName := string(request.Kind)
	attemptCtx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	defer cancel()
	attemptCtx, span := observability.StartStageAttempt(attemptCtx, request.JobID, stageName, request.Attempt)
	defer func() {
		observability.EndSpan(span, err, attribute.String("stage.class", string(apperr.ClassOf(err))))
	}()

	type outcome struct {
		result domain.StageResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- outcome{err: apperr.Permanent(stageName, apperr.Newf("executor panic: %v", recovered))}
			}
		}()
		result, err := executor.Run(attemptCtx, request)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && apperr.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return domain.StageResult{}, apperr.Transient(stageName, apperr.Wrap(out.err, "stage attempt exceeded deadline"))
		}
		return out.result, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return domain.StageResult{}, ctx.Err()
		}
		return domain.StageResult{}, apperr.Transient(stageName,
			apperr.Wrapf(context.DeadlineExceeded, "stage attempt exceeded %s", o.stageTimeout))
	}
}

func checkResult(kind domain.StageKind, result domain.StageResult) error {
	if result.Kind != kind {
		return apperr.Newf("executor returned a %q result for the %s stage", result.Kind, kind)
	}
	return result.Validate()
}

// fail moves the job to failed and releases its fingerprint so the same
// resume can be resubmitted. Writes survive cancellation of ctx.
func (o *Orchestrator) fail(ctx context.Context, log *logger.Logger, job *domain.AnalysisJob, f *failure) {
	writeCtx := context.WithoutCancel(ctx)
	jobErr := &domain.JobError{Kind: f.kind, Message: f.message}
	if _, err := o.store.Transition(writeCtx, job.ID, job.Status, domain.JobStatusFailed, repository.TransitionExtra{Error: jobErr}); err != nil {
		log.Error("mark job failed", "status", job.Status, "error", err, "cause", f.cause)
		return
	}
	if err := o.index.Forget(writeCtx, job.Fingerprint, job.ID); err != nil {
		log.Warn("release fingerprint failed", "error", err)
	}
	log.Warn("job failed", "status", job.Status, "kind", f.kind, "message", f.message, "cause", f.cause)
}
