// Package retry decides whether a failed stage attempt is retried and how
// long the orchestrator backs off before the next one.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/domain"
)

const (
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultJitterFraction = 0.2
)

// Settings is one backoff configuration. A zero JitterFraction disables jitter.
type Settings struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64
}

type Policy struct {
	Settings
	// PerStage overrides Settings for individual stage kinds.
	PerStage map[domain.StageKind]Settings
	// Random returns a value in [0, 1); it defaults to math/rand/v2.
	Random func() float64
}

// Decision is the outcome of ShouldRetry. When Retry is false, GiveUp holds
// the kind the job fails with.
type Decision struct {
	Retry  bool
	Delay  time.Duration
	GiveUp apperr.Kind
}

func DefaultPolicy() Policy {
	return Policy{Settings: Settings{
		MaxAttempts:    DefaultMaxAttempts,
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		JitterFraction: DefaultJitterFraction,
	}}
}

// ShouldRetry classifies the failure of attempt (1-based) of stage kind.
// Permanent failures give up immediately; transient ones retry until
// MaxAttempts is reached and then give up as retries_exhausted.
func (p Policy) ShouldRetry(kind domain.StageKind, attempt int, class apperr.StageClass) Decision {
	settings := p.settingsFor(kind)
	if class != apperr.ClassTransient {
		return Decision{GiveUp: apperr.KindPermanent}
	}
	if attempt >= settings.MaxAttempts {
		return Decision{GiveUp: apperr.KindRetriesExhausted}
	}
	return Decision{Retry: true, Delay: p.backoff(settings, attempt)}
}

// MaxAttempts reports the attempt bound for kind.
func (p Policy) MaxAttempts(kind domain.StageKind) int {
	return p.settingsFor(kind).MaxAttempts
}

func (p Policy) settingsFor(kind domain.StageKind) Settings {
	settings := p.Settings
	if override, ok := p.PerStage[kind]; ok {
		settings = override
	}
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = DefaultMaxAttempts
	}
	if settings.BaseDelay <= 0 {
		settings.BaseDelay = DefaultBaseDelay
	}
	if settings.MaxDelay <= 0 {
		settings.MaxDelay = DefaultMaxDelay
	}
	if settings.JitterFraction < 0 {
		settings.JitterFraction = 0
	}
	return settings
}

// backoff is base*2^(attempt-1), spread by ±JitterFraction and capped at MaxDelay.
func (p Policy) backoff(settings Settings, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(settings.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(settings.MaxDelay) {
		delay = float64(settings.MaxDelay)
	}
	if settings.JitterFraction > 0 {
		random := p.Random
		if random == nil {
			random = rand.Float64
		}
		delta := delay * settings.JitterFraction
		delay = delay - delta + random()*2*delta
	}
	if delay > float64(settings.MaxDelay) {
		delay = float64(settings.MaxDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Wait blocks for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
