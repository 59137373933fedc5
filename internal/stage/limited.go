package stage

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/domain"
)

// Limited waits on limiter before every call to next. One limiter is shared
// by all stages so the provider sees a single budget. Running out of time
// while waiting is a transient failure.
func Limited(next Executor, limiter *rate.Limiter) Executor {
	if limiter == nil {
		return next
	}
	return ExecutorFunc(func(ctx context.Context, request Request) (domain.StageResult, error) {
		if err := limiter.Wait(ctx); err != nil {
			return domain.StageResult{}, apperr.Transient(string(request.Kind), apperr.Wrap(err, "wait for stage rate limit"))
		}
		return next.Run(ctx, request)
	})
}
