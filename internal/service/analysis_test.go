package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/domain"
	"github.com/iago/resume-analyzer-back/internal/fingerprint"
	"github.com/iago/resume-analyzer-back/internal/repository"
	"github.com/iago/resume-analyzer-back/internal/resume"
)

const sampleResume = `Ana Souza
Senior Consultant

Experience
- Led a 6 person team delivering a cloud migration for a retail client, cutting costs by 30%
- Built reporting dashboards used by 200 analysts across three business units
- Managed stakeholder workshops and roadmap planning for a digital transformation program

Education
BSc Computer Science`

type recordingProducer struct {
	mu       sync.Mutex
	messages []domain.DispatchMessage
	err      error
}

func (p *recordingProducer) Enqueue(_ context.Context, message domain.DispatchMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, message)
	return nil
}

func (p *recordingProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

type fixture struct {
	service  *AnalysisService
	store    *repository.MemoryJobStore
	index    *fingerprint.MemoryIndex
	producer *recordingProducer
	resumes  *resume.MemorySource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    repository.NewMemoryJobStore(),
		index:    fingerprint.NewMemoryIndex(fingerprint.MemoryConfig{TTL: time.Minute}),
		producer: &recordingProducer{},
		resumes:  resume.NewMemorySource(),
	}
	f.resumes.Put("cv-ana", sampleResume)
	var seq int32
	service, err := NewAnalysisService(AnalysisDependencies{
		Store:    f.store,
		Index:    f.index,
		Producer: f.producer,
		Resumes:  f.resumes,
		NewID:    func() string { return fmt.Sprintf("job-%d", atomic.AddInt32(&seq, 1)) },
	})
	require.NoError(t, err)
	f.service = service
	return f
}

func (f *fixture) jobCount(t *testing.T) int {
	t.Helper()
	jobs, err := f.store.ListByStatus(context.Background(), []domain.JobStatus{
		domain.JobStatusPending, domain.JobStatusRunningStructure, domain.JobStatusRunningAppeal,
		domain.JobStatusCompleted, domain.JobStatusFailed,
	}, 0)
	require.NoError(t, err)
	return len(jobs)
}

func TestSubmitCreatesAndDispatchesJob(t *testing.T) {
	f := newFixture(t)

	submission, err := f.service.Submit(context.Background(), "cv-ana", "Tech_Consulting")
	require.NoError(t, err)
	assert.True(t, submission.Created)
	assert.False(t, submission.Deduplicated)
	require.NotNil(t, submission.Snapshot)
	assert.Equal(t, domain.JobStatusPending, submission.Snapshot.Status)

	job, err := f.store.Get(context.Background(), submission.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.IndustryTechConsulting, job.IndustryCode)
	assert.Equal(t, fingerprint.Compute(sampleResume, domain.IndustryTechConsulting), job.Fingerprint)
	assert.Equal(t, "cv-ana", job.ResumeRef)

	require.Equal(t, 1, f.producer.count())
	assert.Equal(t, submission.JobID, f.producer.messages[0].JobID)
	assert.Equal(t, job.Fingerprint, f.producer.messages[0].Fingerprint)
}

func TestSubmitValidationCreatesNoJob(t *testing.T) {
	f := newFixture(t)
	f.resumes.Put("cv-short", "too short to assess")

	cases := []struct{ ref, industry string }{
		{"cv-ana", "astrology"},
		{"cv-ana", ""},
		{"", "tech_consulting"},
		{"cv-missing", "tech_consulting"},
		{"cv-short", "tech_consulting"},
	}
	for _, tc := range cases {
		_, err := f.service.Submit(context.Background(), tc.ref, tc.industry)
		require.Error(t, err, tc)
		kind, _ := apperr.Public(err)
		assert.Equal(t, apperr.KindValidation, kind, tc)
	}
	assert.Zero(t, f.jobCount(t))
	assert.Zero(t, f.producer.count())
}

func TestConcurrentIdenticalSubmissionsShareOneJob(t *testing.T) {
	f := newFixture(t)

	const callers = 16
	ids := make([]string, callers)
	var created int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// whitespace and case differences map to the same fingerprint
			text := sampleResume
			if i%2 == 1 {
				text = strings.ToUpper(strings.ReplaceAll(sampleResume, "\n", "\n\n  "))
			}
			ref := fmt.Sprintf("cv-%d", i)
			f.resumes.Put(ref, text)
			submission, err := f.service.Submit(context.Background(), ref, "tech_consulting")
			assert.NoError(t, err)
			ids[i] = submission.JobID
			if submission.Created {
				atomic.AddInt32(&created, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, created)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, f.jobCount(t))
	assert.Equal(t, 1, f.producer.count())
}

func TestDifferentIndustriesAreDistinctJobs(t *testing.T) {
	f := newFixture(t)

	first, err := f.service.Submit(context.Background(), "cv-ana", "tech_consulting")
	require.NoError(t, err)
	second, err := f.service.Submit(context.Background(), "cv-ana", "healthcare")
	require.NoError(t, err)

	assert.NotEqual(t, first.JobID, second.JobID)
	assert.True(t, second.Created)
}

func TestSubmitReturnsSnapshotOfCachedJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.service.Submit(ctx, "cv-ana", "tech_consulting")
	require.NoError(t, err)

	_, err = f.store.Transition(ctx, first.JobID, domain.JobStatusPending, domain.JobStatusRunningStructure, repository.TransitionExtra{})
	require.NoError(t, err)
	_, err = f.store.Transition(ctx, first.JobID, domain.JobStatusRunningStructure, domain.JobStatusFailed, repository.TransitionExtra{
		Error: &domain.JobError{Kind: apperr.KindPermanent, Message: "structure stage rejected the resume"},
	})
	require.NoError(t, err)
	job, err := f.store.Get(ctx, first.JobID)
	require.NoError(t, err)
	require.NoError(t, f.index.MarkTerminal(ctx, job.Fingerprint, job.ID))

	again, err := f.service.Submit(ctx, "cv-ana", "tech_consulting")
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.True(t, again.Deduplicated)
	assert.Equal(t, first.JobID, again.JobID)
	require.NotNil(t, again.Snapshot)
	assert.Equal(t, domain.JobStatusFailed, again.Snapshot.Status)
	assert.Equal(t, 1, f.producer.count())
}

func TestDispatchFailureReleasesFingerprint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.producer.err = errors.New("queue full")

	_, err := f.service.Submit(ctx, "cv-ana", "tech_consulting")
	require.Error(t, err)

	stranded, err := f.store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, stranded.Status)

	f.producer.err = nil
	submission, err := f.service.Submit(ctx, "cv-ana", "tech_consulting")
	require.NoError(t, err)
	assert.True(t, submission.Created)
	assert.Equal(t, "job-2", submission.JobID)
}

func TestStaleMappingIsReleased(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	fp := fingerprint.Compute(sampleResume, domain.IndustryTechConsulting)

	_, err := f.index.Resolve(ctx, fp, func(context.Context) (string, error) { return "ghost", nil })
	require.NoError(t, err)

	submission, err := f.service.Submit(ctx, "cv-ana", "tech_consulting")
	require.NoError(t, err)
	assert.True(t, submission.Created)
	assert.NotEqual(t, "ghost", submission.JobID)
}
