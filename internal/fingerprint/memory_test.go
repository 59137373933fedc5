package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/resume-analyzer-back/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestComputeIgnoresCaseAndWhitespace(t *testing.T) {
	a := Compute("Jane Doe\n\nSenior   Engineer", domain.IndustryTechConsulting)
	b := Compute("  jane doe senior engineer ", domain.IndustryTechConsulting)
	c := Compute("jane doe senior engineer", domain.IndustryHealthcare)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestResolveRunsCreateOnceUnderRace(t *testing.T) {
	index := NewMemoryIndex(MemoryConfig{})
	var creates int32
	create := func(context.Context) (string, error) {
		n := atomic.AddInt32(&creates, 1)
		time.Sleep(5 * time.Millisecond)
		return fmt.Sprintf("job-%d", n), nil
	}

	const callers = 32
	results := make([]Resolution, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resolution, err := index.Resolve(context.Background(), "fp", create)
			assert.NoError(t, err)
			results[i] = resolution
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, creates)
	createdCount := 0
	for _, resolution := range results {
		assert.Equal(t, "job-1", resolution.JobID)
		if resolution.Created {
			createdCount++
		}
	}
	assert.Equal(t, 1, createdCount)
}

func TestResolveDoesNotRecordFailedCreate(t *testing.T) {
	index := NewMemoryIndex(MemoryConfig{})
	_, err := index.Resolve(context.Background(), "fp", func(context.Context) (string, error) {
		return "", errors.New("store down")
	})
	require.Error(t, err)

	resolution, err := index.Resolve(context.Background(), "fp", func(context.Context) (string, error) {
		return "job-2", nil
	})
	require.NoError(t, err)
	assert.True(t, resolution.Created)
	assert.Equal(t, "job-2", resolution.JobID)
}

func TestCachedEntryExpiresAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	index := NewMemoryIndex(MemoryConfig{TTL: 10 * time.Minute, Now: clock.Now})
	ctx := context.Background()
	next := 0
	create := func(context.Context) (string, error) {
		next++
		return fmt.Sprintf("job-%d", next), nil
	}

	first, err := index.Resolve(ctx, "fp", create)
	require.NoError(t, err)
	require.NoError(t, index.MarkTerminal(ctx, "fp", first.JobID))

	clock.Advance(9 * time.Minute)
	cached, err := index.Resolve(ctx, "fp", create)
	require.NoError(t, err)
	assert.Equal(t, first.JobID, cached.JobID)
	assert.True(t, cached.Cached)
	assert.False(t, cached.Created)

	clock.Advance(2 * time.Minute)
	fresh, err := index.Resolve(ctx, "fp", create)
	require.NoError(t, err)
	assert.True(t, fresh.Created)
	assert.NotEqual(t, first.JobID, fresh.JobID)
}

func TestSweepPurgesExpiredEntries(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	index := NewMemoryIndex(MemoryConfig{TTL: time.Minute, Now: clock.Now})
	ctx := context.Background()

	for _, fp := range []string{"a", "b"} {
		resolution, err := index.Resolve(ctx, fp, func(context.Context) (string, error) { return "job-" + fp, nil })
		require.NoError(t, err)
		if fp == "a" {
			require.NoError(t, index.MarkTerminal(ctx, fp, resolution.JobID))
		}
	}

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, index.Sweep())
	assert.Equal(t, 1, index.Len())
}

func TestForgetReleasesOnlyMatchingJob(t *testing.T) {
	index := NewMemoryIndex(MemoryConfig{})
	ctx := context.Background()
	_, err := index.Resolve(ctx, "fp", func(context.Context) (string, error) { return "job-1", nil })
	require.NoError(t, err)

	require.NoError(t, index.Forget(ctx, "fp", "job-other"))
	resolution, err := index.Resolve(ctx, "fp", func(context.Context) (string, error) { return "job-2", nil })
	require.NoError(t, err)
	assert.Equal(t, "job-1", resolution.JobID)

	require.NoError(t, index.Forget(ctx, "fp", "job-1"))
	resolution, err = index.Resolve(ctx, "fp", func(context.Context) (string, error) { return "job-2", nil })
	require.NoError(t, err)
	assert.Equal(t, "job-2", resolution.JobID)
	assert.True(t, resolution.Created)
}
