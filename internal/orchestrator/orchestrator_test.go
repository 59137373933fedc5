package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/resume-analyzer-back/internal/aggregate"
	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/domain"
	"github.com/iago/resume-analyzer-back/internal/fingerprint"
	"github.com/iago/resume-analyzer-back/internal/repository"
	"github.com/iago/resume-analyzer-back/internal/retry"
	"github.com/iago/resume-analyzer-back/internal/stage"
)

func structureResult() domain.StageResult {
	return domain.StageResult{
		Kind:     domain.StageStructure,
		Scores:   map[string]float64{"format": 80, "organization": 75, "readability": 70},
		Feedback: map[string][]string{"strengths": {"clear headings"}, "improvements": {}},
		Metadata: map[string]int{"section_count": 4, "word_count": 350, "bullet_count": 10},
	}
}

func appealResult() domain.StageResult {
	return domain.StageResult{
		Kind:     domain.StageAppeal,
		Scores:   map[string]float64{"industry_fit": 70, "impact": 80, "differentiation": 60},
		Feedback: map[string][]string{"strengths": {}, "improvements": {"quantify impact"}, "keywords_missing": {"roadmap"}},
		Metadata: map[string]int{"keyword_hits": 5},
	}
}

// step is one scripted executor outcome. A nil result with a nil error
// blocks until the attempt context is done.
type step struct {
	result *domain.StageResult
	err    error
	panic  bool
}

func succeed(result domain.StageResult) step { return step{result: &result} }
func failWith(err error) step                { return step{err: err} }
func hang() step                             { return step{} }

type scriptedExecutor struct {
	mu    sync.Mutex
	steps []step
	calls int32
	seen  []stage.Request
}

func (e *scriptedExecutor) Run(ctx context.Context, request stage.Request) (domain.StageResult, error) {
	e.mu.Lock()
	index := int(atomic.AddInt32(&e.calls, 1)) - 1
	e.seen = append(e.seen, request)
	current := e.steps[len(e.steps)-1]
	if index < len(e.steps) {
		current = e.steps[index]
	}
	e.mu.Unlock()

	switch {
	case current.panic:
		panic("executor exploded")
	case current.result != nil:
		return current.result.Clone(), nil
	case current.err != nil:
		return domain.StageResult{}, current.err
	default:
		<-ctx.Done()
		return domain.StageResult{}, ctx.Err()
	}
}

func (e *scriptedExecutor) Calls() int { return int(atomic.LoadInt32(&e.calls)) }

// recordingStore remembers every status a job passed through.
type recordingStore struct {
	*repository.MemoryJobStore
	mu       sync.Mutex
	statuses map[string][]domain.JobStatus
}

func (s *recordingStore) Create(ctx context.Context, job *domain.AnalysisJob) error {
	if err := s.MemoryJobStore.Create(ctx, job); err != nil {
		return err
	}
	s.mu.Lock()
	s.statuses[job.ID] = []domain.JobStatus{job.Status}
	s.mu.Unlock()
	return nil
}

func (s *recordingStore) Transition(ctx context.Context, jobID string, from, to domain.JobStatus, extra repository.TransitionExtra) (*domain.AnalysisJob, error) {
	job, err := s.MemoryJobStore.Transition(ctx, jobID, from, to, extra)
	if err == nil {
		s.mu.Lock()
		s.statuses[jobID] = append(s.statuses[jobID], to)
		s.mu.Unlock()
	}
	return job, err
}

func (s *recordingStore) History(jobID string) []domain.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.JobStatus(nil), s.statuses[jobID]...)
}

type harness struct {
	store        *recordingStore
	index        *fingerprint.MemoryIndex
	orchestrator *Orchestrator
	structure    *scriptedExecutor
	appeal       *scriptedExecutor
	delays       []time.Duration
}

func newHarness(t *testing.T, structure, appeal []step) *harness {
	t.Helper()
	h := &harness{
		store:     &recordingStore{MemoryJobStore: repository.NewMemoryJobStore(), statuses: map[string][]domain.JobStatus{}},
		index:     fingerprint.NewMemoryIndex(fingerprint.MemoryConfig{TTL: time.Minute}),
		structure: &scriptedExecutor{steps: structure},
		appeal:    &scriptedExecutor{steps: appeal},
	}
	registry := stage.NewRegistry()
	require.NoError(t, registry.Register(domain.StageStructure, h.structure))
	require.NoError(t, registry.Register(domain.StageAppeal, h.appeal))
	aggregator, err := aggregate.NewWeightedAggregator(aggregate.DefaultPolicy())
	require.NoError(t, err)

	var delaysMu sync.Mutex
	h.orchestrator, err = New(Config{
		Store:        h.store,
		Index:        h.index,
		Executors:    registry,
		Aggregator:   aggregator,
		Retry:        retry.DefaultPolicy(),
		StageTimeout: 30 * time.Millisecond,
		Sleep: func(ctx context.Context, d time.Duration) error {
			delaysMu.Lock()
			h.delays = append(h.delays, d)
			delaysMu.Unlock()
			return ctx.Err()
		},
	})
	require.NoError(t, err)
	return h
}

func (h *harness) submit(t *testing.T, fp string) fingerprint.Resolution {
	t.Helper()
	resolution, err := h.index.Resolve(context.Background(), fp, func(ctx context.Context) (string, error) {
		job := &domain.AnalysisJob{
			ID:           uuid.NewString(),
			Fingerprint:  fp,
			IndustryCode: domain.IndustryTechConsulting,
			ResumeRef:    "resume.txt",
			ResumeText:   "jane doe technology consultant",
			Status:       domain.JobStatusPending,
		}
		return job.ID, h.store.Create(ctx, job)
	})
	require.NoError(t, err)
	return resolution
}

func (h *harness) job(t *testing.T, jobID string) *domain.AnalysisJob {
	t.Helper()
	job, err := h.store.Get(context.Background(), jobID)
	require.NoError(t, err)
	return job
}

func TestAppealTimesOutTwiceThenCompletes(t *testing.T) {
	h := newHarness(t,
		[]step{succeed(structureResult())},
		[]step{hang(), hang(), succeed(appealResult())},
	)
	first := h.submit(t, "F1")
	require.True(t, first.Created)

	require.NoError(t, h.orchestrator.Run(context.Background(), first.JobID))

	job := h.job(t, first.JobID)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	require.NotNil(t, job.Aggregate)
	assert.InDelta(t, 0.4*75+0.6*70, job.Aggregate.OverallScore, 0.01)
	assert.Equal(t, "competitive", job.Aggregate.MarketTier)
	require.Len(t, job.StageResults, 2)
	assert.Equal(t, 3, job.AttemptHistory[domain.StageAppeal])
	assert.Equal(t, 1, job.AttemptHistory[domain.StageStructure])
	assert.NotNil(t, job.TerminalAt)
	assert.Len(t, h.delays, 2)

	require.Len(t, h.appeal.seen, 3)
	require.NotNil(t, h.appeal.seen[0].Prior)
	assert.Equal(t, domain.StageStructure, h.appeal.seen[0].Prior.Kind)

	second := h.submit(t, "F1")
	assert.Equal(t, first.JobID, second.JobID)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, h.structure.Calls())
	assert.Equal(t, 3, h.appeal.Calls())

	assert.Equal(t, []domain.JobStatus{
		domain.JobStatusPending,
		domain.JobStatusRunningStructure,
		domain.JobStatusRunningAppeal,
		domain.JobStatusCompleted,
	}, h.store.History(first.JobID))
}

func TestAppealFailureRetainsStructureResult(t *testing.T) {
	h := newHarness(t,
		[]step{succeed(structureResult())},
		[]step{failWith(apperr.Permanent("appeal", errors.New("unsupported language")))},
	)
	submission := h.submit(t, "F2")

	require.NoError(t, h.orchestrator.Run(context.Background(), submission.JobID))

	job := h.job(t, submission.JobID)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, apperr.KindPermanent, job.Error.Kind)
	assert.NotContains(t, job.Error.Message, "unsupported language")
	require.Len(t, job.StageResults, 1)
	assert.Equal(t, domain.StageStructure, job.StageResults[0].Kind)
	assert.Equal(t, 1, h.appeal.Calls())
	assert.Equal(t, []domain.JobStatus{
		domain.JobStatusPending,
		domain.JobStatusRunningStructure,
		domain.JobStatusRunningAppeal,
		domain.JobStatusFailed,
	}, h.store.History(submission.JobID))
}

func TestTransientFailuresExhaustRetries(t *testing.T) {
	h := newHarness(t,
		[]step{failWith(apperr.Transient("structure", errors.New("provider 503")))},
		[]step{succeed(appealResult())},
	)
	submission := h.submit(t, "F3")

	require.NoError(t, h.orchestrator.Run(context.Background(), submission.JobID))

	job := h.job(t, submission.JobID)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, apperr.KindRetriesExhausted, job.Error.Kind)
	assert.Equal(t, retry.DefaultMaxAttempts, h.structure.Calls())
	assert.Equal(t, retry.DefaultMaxAttempts, job.AttemptHistory[domain.StageStructure])
	assert.Empty(t, job.StageResults)
	assert.Equal(t, 0, h.appeal.Calls())
}

func TestFailedJobReleasesFingerprint(t *testing.T) {
	h := newHarness(t,
		[]step{failWith(apperr.Permanent("structure", errors.New("unreadable")))},
		[]step{succeed(appealResult())},
	)
	first := h.submit(t, "F4")
	require.NoError(t, h.orchestrator.Run(context.Background(), first.JobID))

	second := h.submit(t, "F4")
	assert.True(t, second.Created)
	assert.NotEqual(t, first.JobID, second.JobID)
}

func TestUnclassifiedAndInvalidResultsArePermanent(t *testing.T) {
	invalid := structureResult()
	delete(invalid.Scores, "readability")

	cases := map[string][]step{
		"unclassified error": {failWith(errors.New("boom"))},
		"invalid result":     {succeed(invalid)},
		"panic":              {{panic: true}},
	}
	for name, steps := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, steps, []step{succeed(appealResult())})
			submission := h.submit(t, "F-"+name)

			require.NoError(t, h.orchestrator.Run(context.Background(), submission.JobID))

			job := h.job(t, submission.JobID)
			assert.Equal(t, domain.JobStatusFailed, job.Status)
			assert.Equal(t, apperr.KindPermanent, job.Error.Kind)
			assert.Equal(t, 1, h.structure.Calls())
		})
	}
}

func TestClaimIsSingleShot(t *testing.T) {
	h := newHarness(t, []step{succeed(structureResult())}, []step{succeed(appealResult())})
	submission := h.submit(t, "F5")

	claimed, err := h.orchestrator.Claim(context.Background(), submission.JobID)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	again, err := h.orchestrator.Claim(context.Background(), submission.JobID)
	require.NoError(t, err)
	assert.Nil(t, again)

	_, err = h.orchestrator.Claim(context.Background(), "missing")
	assert.True(t, apperr.Is(err, apperr.ErrNotFound))
}

func TestShutdownMidStageFailsJob(t *testing.T) {
	h := newHarness(t, []step{hang()}, []step{succeed(appealResult())})
	h.orchestrator.stageTimeout = time.Hour
	submission := h.submit(t, "F6")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	require.NoError(t, h.orchestrator.Run(ctx, submission.JobID))

	job := h.job(t, submission.JobID)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, apperr.KindInternal, job.Error.Kind)
}

func TestNewRejectsMissingExecutor(t *testing.T) {
	registry := stage.NewRegistry()
	require.NoError(t, registry.Register(domain.StageStructure, &scriptedExecutor{}))
	aggregator, err := aggregate.NewWeightedAggregator(aggregate.DefaultPolicy())
	require.NoError(t, err)

	_, err = New(Config{
		Store:      repository.NewMemoryJobStore(),
		Index:      fingerprint.NewMemoryIndex(fingerprint.MemoryConfig{}),
		Executors:  registry,
		Aggregator: aggregator,
	})
	assert.Error(t, err)
}

func TestValidatePipelineRejectsSkippedStage(t *testing.T) {
	err := validatePipeline([]Descriptor{{Kind: domain.StageAppeal, Running: domain.JobStatusRunningAppeal}})
	assert.Error(t, err)
}

func TestDefaultPipelineFollowsDomainStages(t *testing.T) {
	pipeline := DefaultPipeline()
	require.NoError(t, validatePipeline(pipeline))

	bindings := domain.Stages()
	require.Len(t, pipeline, len(bindings))
	for i, binding := range bindings {
		assert.Equal(t, binding.Kind, pipeline[i].Kind)
		assert.Equal(t, binding.Running, pipeline[i].Running)
	}
}
