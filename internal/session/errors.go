package session

import (
	"errors"
	"fmt"
)

// Collaborator sentinels. Catalog implementations return these so the
// controller can classify load failures.
var (
	ErrExamNotFound = errors.New("exam not found")
	ErrExamInactive = errors.New("exam is not active")
)

// Operation errors returned to callers of the controller.
var (
	ErrWrongPhase        = errors.New("action not allowed in current phase")
	ErrIndexOutOfRange   = errors.New("question index out of range")
	ErrOptionOutOfRange  = errors.New("option index out of range")
	ErrNoQuestions       = errors.New("exam has no questions")
	ErrSessionEnded      = errors.New("session has ended")
	ErrAlreadyStarted    = errors.New("session already started")
	ErrClockStarted      = errors.New("clock already started")
	ErrInvalidDuration   = errors.New("duration must be positive")
	ErrMonitorArmed      = errors.New("monitor already armed")
	ErrNothingToRetry    = errors.New("no failed submission to retry")
	ErrAlreadySubmitted  = errors.New("exam already submitted")
	ErrInvalidDefinition = errors.New("invalid exam definition")
)

// LoadReason classifies why a session could not leave the Loading phase.
type LoadReason string

const (
	LoadReasonNotFound         LoadReason = "not_found"
	LoadReasonInactive         LoadReason = "inactive"
	LoadReasonNoQuestions      LoadReason = "no_questions"
	LoadReasonInvalid          LoadReason = "invalid"
	LoadReasonFetch            LoadReason = "fetch"
	LoadReasonAlreadySubmitted LoadReason = "already_submitted"
)

// LoadError is fatal to session start. It is shown to the user and never retried
// automatically.
type LoadError struct {
	Reason LoadReason
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load exam (%s): %v", e.Reason, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// PersistenceError wraps an autosave or progress-fetch failure. It is logged
// and the session continues.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist progress (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SubmissionError is a failed final submit. The answers are retained and the
// user may retry.
type SubmissionError struct {
	Attempt int
	Err     error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit attempt %d: %v", e.Attempt, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Retryable reports whether the user may retry the submission.
func (e *SubmissionError) Retryable() bool { return true }

// classifyLoad maps a catalog error to a LoadError.
func classifyLoad(err error) *LoadError {
	switch {
	case errors.Is(err, ErrExamNotFound):
		return &LoadError{Reason: LoadReasonNotFound, Err: err}
	case errors.Is(err, ErrExamInactive):
		return &LoadError{Reason: LoadReasonInactive, Err: err}
	case errors.Is(err, ErrNoQuestions):
		return &LoadError{Reason: LoadReasonNoQuestions, Err: err}
	case errors.Is(err, ErrInvalidDefinition):
		return &LoadError{Reason: LoadReasonInvalid, Err: err}
	case errors.Is(err, ErrAlreadySubmitted):
		return &LoadError{Reason: LoadReasonAlreadySubmitted, Err: err}
	default:
		return &LoadError{Reason: LoadReasonFetch, Err: err}
	}
}
