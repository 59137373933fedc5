// Package stage defines the capability the orchestrator calls to run one
// analysis stage, plus the executors shipped with the service.
package stage

import (
	"context"
	"sync"

	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/domain"
)

// Request is everything an executor may look at. Prior carries the Structure
// result when running Appeal.
type Request struct {
	Kind       domain.StageKind
	JobID      string
	ResumeText string
	Industry   domain.IndustryCode
	Prior      *domain.StageResult
	Attempt    int
}

// Executor runs one stage. Failures should be *apperr.StageError so the
// retry policy can tell transient from permanent; anything else is permanent.
type Executor interface {
	Run(ctx context.Context, request Request) (domain.StageResult, error)
}

type ExecutorFunc func(ctx context.Context, request Request) (domain.StageResult, error)

func (f ExecutorFunc) Run(ctx context.Context, request Request) (domain.StageResult, error) {
	return f(ctx, request)
}

// Registry maps stage kinds to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[domain.StageKind]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[domain.StageKind]Executor)}
}

func (r *Registry) Register(kind domain.StageKind, executor Executor) error {
	if executor == nil {
		return apperr.Newf("nil executor for stage %s", kind)
	}
	if _, ok := domain.SchemaFor(kind); !ok {
		return apperr.Newf("unknown stage kind %q", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[kind]; exists {
		return apperr.Newf("executor already registered for stage %s", kind)
	}
	r.executors[kind] = executor
	return nil
}

func (r *Registry) Get(kind domain.StageKind) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	executor, ok := r.executors[kind]
	return executor, ok
}

// RegisterAll registers the same executor for every known stage kind.
func (r *Registry) RegisterAll(executor Executor) error {
	for _, kind := range []domain.StageKind{domain.StageStructure, domain.StageAppeal} {
		if err := r.Register(kind, executor); err != nil {
			return err
		}
	}
	return nil
}
