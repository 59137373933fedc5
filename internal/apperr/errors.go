// Package apperr carries the error taxonomy of the analysis engine.
//
// It re-exports github.com/cockroachdb/errors so that every package wraps,
// marks and inspects errors the same way, and adds the classification used by
// the orchestrator (stage errors) and by the client-facing surfaces (kinds).
package apperr

import (
	"context"
	"fmt"

	crdb "github.com/cockroachdb/errors"
)

var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithHint     = crdb.WithHint
	WithDetail   = crdb.WithDetail
	WithDetailf  = crdb.WithDetailf
	Mark         = crdb.Mark
	Is           = crdb.Is
	IsAny        = crdb.IsAny
	As           = crdb.As
	FlattenHints = crdb.FlattenHints
)

// Kind is the client-visible classification of a failure.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindTransient        Kind = "transient"
	KindPermanent        Kind = "permanent"
	KindRetriesExhausted Kind = "retries_exhausted"
	KindInternal         Kind = "internal"
)

var (
	ErrValidation        = New("validation failed")
	ErrNotFound          = New("not found")
	ErrInvalidTransition = New("invalid transition")
	ErrStatusConflict    = New("status conflict")
	ErrInternal          = New("internal error")
)

// Validation builds an error that satisfies Is(err, ErrValidation).
func Validation(format string, args ...any) error {
	return Mark(Newf(format, args...), ErrValidation)
}

// NotFound builds an error that satisfies Is(err, ErrNotFound).
func NotFound(format string, args ...any) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// InvalidTransition builds an error that satisfies Is(err, ErrInvalidTransition).
func InvalidTransition(format string, args ...any) error {
	return Mark(Newf(format, args...), ErrInvalidTransition)
}

// StatusConflict builds an error that satisfies Is(err, ErrStatusConflict).
func StatusConflict(format string, args ...any) error {
	return Mark(Newf(format, args...), ErrStatusConflict)
}

// StageClass is the retry classification a stage executor attaches to its failures.
type StageClass string

const (
	ClassTransient StageClass = "transient"
	ClassPermanent StageClass = "permanent"
)

// StageError is the failure contract of a stage executor.
type StageError struct {
	Class StageClass
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s stage %s failure", e.Stage, e.Class)
	}
	return fmt.Sprintf("%s stage %s failure: %v", e.Stage, e.Class, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func Transient(stage string, err error) error {
	return &StageError{Class: ClassTransient, Stage: stage, Err: err}
}

func Permanent(stage string, err error) error {
	return &StageError{Class: ClassPermanent, Stage: stage, Err: err}
}

// ClassOf returns the retry class of err. Deadline overruns are transient;
// errors an executor did not classify are treated as permanent.
func ClassOf(err error) StageClass {
	if err == nil {
		return ""
	}
	var stageErr *StageError
	if As(err, &stageErr) && stageErr.Class != "" {
		return stageErr.Class
	}
	if Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return ClassPermanent
}

// Public maps err to the kind and summary a client may see. Internal
// detail never leaks; callers log the full error separately.
func Public(err error) (Kind, string) {
	switch {
	case err == nil:
		return "", ""
	case Is(err, ErrValidation):
		return KindValidation, err.Error()
	case Is(err, ErrNotFound):
		return KindNotFound, "resource not found"
	}
	var stageErr *StageError
	if As(err, &stageErr) {
		if stageErr.Class == ClassTransient {
			return KindTransient, fmt.Sprintf("%s stage is temporarily unavailable", stageErr.Stage)
		}
		return KindPermanent, fmt.Sprintf("%s stage rejected the resume", stageErr.Stage)
	}
	return KindInternal, "internal error"
}
