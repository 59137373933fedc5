// Package worker consumes job dispatches and runs each claimed job on its
// own goroutine, bounded by the configured concurrency.
package worker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/domain"
	"github.com/iago/resume-analyzer-back/internal/fingerprint"
	"github.com/iago/resume-analyzer-back/internal/logger"
	"github.com/iago/resume-analyzer-back/internal/queue"
	"github.com/iago/resume-analyzer-back/internal/repository"
)

const (
	restartDelay       = 2 * time.Second
	maxRecoveredJobs   = 1000
	interruptedMessage = "analysis interrupted by restart"
	defaultConcurrency = 4
)

var errShuttingDown = apperr.New("processor is shutting down")

// Runner is the part of the orchestrator the processor drives.
type Runner interface {
	Claim(ctx context.Context, jobID string) (*domain.AnalysisJob, error)
	Drive(ctx context.Context, job *domain.AnalysisJob)
}

type Config struct {
	Consumer    queue.Consumer
	Producer    queue.Producer
	Runner      Runner
	Store       repository.JobStore
	Index       fingerprint.Index
	Concurrency int
	Logger      *logger.Logger
}

// Processor consumes dispatches and runs claimed jobs.
type Processor struct {
	consumer queue.Consumer
	producer queue.Producer
	runner   Runner
	store    repository.JobStore
	index    fingerprint.Index
	slots    *semaphore.Weighted
	log      *logger.Logger

	mu          sync.Mutex
	draining    bool
	jobCtx      context.Context
	stopConsume context.CancelFunc
	cancelJobs  context.CancelFunc
	wg          sync.WaitGroup
}

func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Consumer == nil || cfg.Runner == nil || cfg.Store == nil || cfg.Index == nil {
		return nil, apperr.New("processor requires a consumer, a runner, a store and an index")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Processor{
		consumer: cfg.Consumer,
		producer: cfg.Producer,
		runner:   cfg.Runner,
		store:    cfg.Store,
		index:    cfg.Index,
		slots:    semaphore.NewWeighted(int64(cfg.Concurrency)),
		log:      logger.OrNop(cfg.Logger).With("component", "worker"),
	}, nil
}

// Start consumes until ctx is done or Shutdown is called, restarting the
// consume loop after backend errors. Jobs run on a child of ctx, never on a
// request context.
func (p *Processor) Start(ctx context.Context) {
	consumeCtx, stopConsume := context.WithCancel(ctx)
	jobCtx, cancelJobs := context.WithCancel(ctx)
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		stopConsume()
		cancelJobs()
		return
	}
	p.jobCtx, p.stopConsume, p.cancelJobs = jobCtx, stopConsume, cancelJobs
	p.mu.Unlock()
	defer stopConsume()

	ctx = consumeCtx
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.handle)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.log.Error("worker consume loop error", "error", err)

		timer := time.NewTimer(restartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Wait blocks until every job started by the processor has returned.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Shutdown stops taking dispatches and gives running jobs until ctx is done
// to finish. Jobs still running then are cancelled, which fails them as
// interrupted, and Shutdown waits for them to record that.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.draining = true
	stopConsume, cancelJobs := p.stopConsume, p.cancelJobs
	p.mu.Unlock()
	if stopConsume != nil {
		stopConsume()
	}
	defer func() {
		if cancelJobs != nil {
			cancelJobs()
		}
	}()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	p.log.Warn("shutdown grace period elapsed, interrupting running jobs")
	if cancelJobs != nil {
		cancelJobs()
	}
	<-done
	return ctx.Err()
}

// handle blocks the consume loop while every slot is busy, so excess
// dispatches stay queued and their jobs stay pending. An error asks the
// queue to redeliver.
func (p *Processor) handle(ctx context.Context, message domain.DispatchMessage) error {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return err
	}

	// The job is counted before it is claimed so Shutdown never misses one.
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		p.slots.Release(1)
		return errShuttingDown
	}
	jobCtx := p.jobCtx
	if jobCtx == nil {
		jobCtx = ctx
	}
	p.wg.Add(1)
	p.mu.Unlock()

	job, err := p.runner.Claim(ctx, message.JobID)
	if err != nil || job == nil {
		p.wg.Done()
		p.slots.Release(1)
	}
	if err != nil {
		if apperr.Is(err, apperr.ErrNotFound) {
			p.log.Warn("dispatch for unknown job dropped", "job_id", message.JobID)
			return nil
		}
		return err
	}
	if job == nil {
		return nil
	}

	go func() {
		defer p.wg.Done()
		defer p.slots.Release(1)
		defer func() {
			if recovered := recover(); recovered != nil {
				p.log.Error("job goroutine panicked", "job_id", job.ID, "panic", recovered)
			}
		}()
		p.log.Debug("job claimed", "job_id", job.ID, "dispatch_attempt", message.Attempt)
		p.runner.Drive(jobCtx, job)
	}()
	return nil
}

// RecoveryReport summarizes a Recover pass.
type RecoveryReport struct {
	Redispatched int
	Failed       int
	// Superseded counts pending jobs left alone because their fingerprint
	// already belongs to another job.
	Superseded int
}

// Recover re-dispatches jobs left pending by a previous process and fails
// jobs it left running, since status cannot move backwards. A pending job is
// only re-dispatched while it owns its fingerprint, so at most one job per
// fingerprint is ever in flight. It must run before Start and only where this
// process is the sole worker of the store.
func (p *Processor) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	pending, err := p.store.ListByStatus(ctx, []domain.JobStatus{domain.JobStatusPending}, maxRecoveredJobs)
	if err != nil {
		return report, apperr.Wrap(err, "list pending jobs")
	}
	if len(pending) > 0 {
		if p.producer == nil {
			return report, apperr.New("recovery requires a producer")
		}
		messages := make([]domain.DispatchMessage, 0, len(pending))
		for _, job := range pending {
			if !p.reattach(ctx, job) {
				report.Superseded++
				continue
			}
			messages = append(messages, domain.DispatchMessage{
				JobID:        job.ID,
				Fingerprint:  job.Fingerprint,
				IndustryCode: job.IndustryCode,
				RequestedAt:  time.Now().UTC(),
			})
		}
		if len(messages) > 0 {
			if err := queue.EnqueueAll(ctx, p.producer, messages); err != nil {
				return report, apperr.Wrap(err, "re-dispatch pending jobs")
			}
		}
		report.Redispatched = len(messages)
	}

	running, err := p.store.ListByStatus(ctx,
		[]domain.JobStatus{domain.JobStatusRunningStructure, domain.JobStatusRunningAppeal}, maxRecoveredJobs)
	if err != nil {
		return report, apperr.Wrap(err, "list running jobs")
	}
	for _, job := range running {
		_, err := p.store.Transition(ctx, job.ID, job.Status, domain.JobStatusFailed, repository.TransitionExtra{
			Error: &domain.JobError{Kind: apperr.KindInternal, Message: interruptedMessage},
		})
		if err != nil {
			p.log.Warn("fail orphaned job", "job_id", job.ID, "status", job.Status, "error", err)
			continue
		}
		if err := p.index.Forget(ctx, job.Fingerprint, job.ID); err != nil {
			p.log.Warn("release orphaned fingerprint", "job_id", job.ID, "error", err)
		}
		report.Failed++
	}

	if report.Redispatched > 0 || report.Failed > 0 || report.Superseded > 0 {
		p.log.Info("recovered jobs from previous run",
			"redispatched", report.Redispatched, "failed", report.Failed, "superseded", report.Superseded)
	}
	return report, nil
}

// reattach points the job's fingerprint back at it, for indexes that did not
// survive the restart, and reports whether the job owns it. A job whose
// dispatch failed after its fingerprint was released can find a newer job in
// its place; it then stays pending and is never run.
func (p *Processor) reattach(ctx context.Context, job *domain.AnalysisJob) bool {
	resolution, err := p.index.Resolve(ctx, job.Fingerprint, func(context.Context) (string, error) {
		return job.ID, nil
	})
	if err != nil {
		p.log.Warn("reattach fingerprint, job not re-dispatched", "job_id", job.ID, "error", err)
		return false
	}
	if resolution.JobID != job.ID {
		p.log.Warn("fingerprint owned by another job, job not re-dispatched", "job_id", job.ID, "owner", resolution.JobID)
		return false
	}
	return true
}
