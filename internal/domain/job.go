package domain

import (
	"time"

	"github.com/iago/resume-analyzer-back/internal/apperr"
)

type JobStatus string

const (
	JobStatusPending          JobStatus = "pending"
	JobStatusRunningStructure JobStatus = "running_structure"
	JobStatusRunningAppeal    JobStatus = "running_appeal"
	JobStatusCompleted        JobStatus = "completed"
	JobStatusFailed           JobStatus = "failed"
)

// allowedTransitions is the whole state machine; anything absent is rejected.
// The running edges follow the stage order in Stages.
var allowedTransitions = buildTransitions()

func buildTransitions() map[JobStatus][]JobStatus {
	transitions := make(map[JobStatus][]JobStatus, len(stages)+1)
	previous := JobStatusPending
	for _, binding := range stages {
		transitions[previous] = append(transitions[previous], binding.Running)
		transitions[binding.Running] = append(transitions[binding.Running], JobStatusFailed)
		previous = binding.Running
	}
	transitions[previous] = append(transitions[previous], JobStatusCompleted)
	return transitions
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return s.IsRunning()
	}
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) IsRunning() bool {
	_, ok := StageForStatus(s)
	return ok
}

// CanTransition reports whether from -> to is an edge of the job state machine.
func CanTransition(from, to JobStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// JobError is the classified terminal error of a failed job.
type JobError struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

// Aggregate is the combined outcome of a completed job.
type Aggregate struct {
	OverallScore float64 `json:"overall_score"`
	MarketTier   string  `json:"market_tier"`
}

// AnalysisJob is the unit of work driven through the two analysis stages.
type AnalysisJob struct {
	ID             string
	Fingerprint    string
	IndustryCode   IndustryCode
	ResumeRef      string
	ResumeText     string
	Status         JobStatus
	Attempts       int
	AttemptHistory map[StageKind]int
	StageResults   []StageResult
	Aggregate      *Aggregate
	Error          *JobError
	CreatedAt      time.Time
	UpdatedAt      time.Time
	TerminalAt     *time.Time
}

// StageResult returns the recorded result of kind, if any.
func (j *AnalysisJob) StageResult(kind StageKind) (StageResult, bool) {
	for _, result := range j.StageResults {
		if result.Kind == kind {
			return result, true
		}
	}
	return StageResult{}, false
}

func (j *AnalysisJob) Clone() *AnalysisJob {
	if j == nil {
		return nil
	}
	clone := *j
	if j.AttemptHistory != nil {
		clone.AttemptHistory = make(map[StageKind]int, len(j.AttemptHistory))
		for kind, attempts := range j.AttemptHistory {
			clone.AttemptHistory[kind] = attempts
		}
	}
	if j.StageResults != nil {
		clone.StageResults = make([]StageResult, 0, len(j.StageResults))
		for _, result := range j.StageResults {
			clone.StageResults = append(clone.StageResults, result.Clone())
		}
	}
	if j.Aggregate != nil {
		aggregate := *j.Aggregate
		clone.Aggregate = &aggregate
	}
	if j.Error != nil {
		jobErr := *j.Error
		clone.Error = &jobErr
	}
	if j.TerminalAt != nil {
		terminalAt := *j.TerminalAt
		clone.TerminalAt = &terminalAt
	}
	return &clone
}

// DispatchMessage is the transport format sent to queue backends to start a job.
type DispatchMessage struct {
	JobID        string       `json:"job_id"`
	Fingerprint  string       `json:"fingerprint"`
	IndustryCode IndustryCode `json:"industry_code"`
	Attempt      int          `json:"attempt"`
	RequestedAt  time.Time    `json:"requested_at"`
}

// JobSnapshot is the read model served to polling clients.
type JobSnapshot struct {
	JobID        string        `json:"job_id"`
	Status       JobStatus     `json:"status"`
	IndustryCode IndustryCode  `json:"industry_code"`
	Progress     int           `json:"progress"`
	StageResults []StageResult `json:"stage_results"`
	Aggregate    *Aggregate    `json:"aggregate,omitempty"`
	Error        *JobError     `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	TerminalAt   *time.Time    `json:"terminal_at,omitempty"`
}
