package orchestrator

import (
	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/domain"
)

// Descriptor binds a stage kind to the status a job holds while it runs.
type Descriptor struct {
	Kind    domain.StageKind
	Running domain.JobStatus
}

// DefaultPipeline runs every domain stage in order: Structure then Appeal.
func DefaultPipeline() []Descriptor {
	bindings := domain.Stages()
	pipeline := make([]Descriptor, 0, len(bindings))
	for _, binding := range bindings {
		pipeline = append(pipeline, Descriptor{Kind: binding.Kind, Running: binding.Running})
	}
	return pipeline
}

// validatePipeline checks that consecutive descriptors are legal edges of the
// job state machine and that the last one can complete.
func validatePipeline(pipeline []Descriptor) error {
	if len(pipeline) == 0 {
		return apperr.New("pipeline has no stages")
	}
	previous := domain.JobStatusPending
	for _, descriptor := range pipeline {
		if _, ok := domain.SchemaFor(descriptor.Kind); !ok {
			return apperr.Newf("pipeline stage %q has no schema", descriptor.Kind)
		}
		if !domain.CanTransition(previous, descriptor.Running) {
			return apperr.Newf("pipeline cannot move from %s to %s", previous, descriptor.Running)
		}
		previous = descriptor.Running
	}
	if !domain.CanTransition(previous, domain.JobStatusCompleted) {
		return apperr.Newf("pipeline cannot complete from %s", previous)
	}
	return nil
}
