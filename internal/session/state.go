package session

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Phase is the lifecycle stage of a session.
type Phase string

const (
	PhaseLoading         Phase = "LOADING"
	PhaseRunning         Phase = "RUNNING"
	PhaseViolationPaused Phase = "VIOLATION_PAUSED"
	PhaseReviewPending   Phase = "REVIEW_PENDING"
	PhaseSubmitting      Phase = "SUBMITTING"
	PhaseCompleted       Phase = "COMPLETED"
	PhaseFailed          Phase = "FAILED"
)

// active reports whether the exam is still being taken: the clock can expire
// and violations are counted.
func (p Phase) active() bool {
	return p == PhaseRunning || p == PhaseViolationPaused || p == PhaseReviewPending
}

// Terminal reports whether the phase ends the session instance.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// TimeWarningSeconds is the remaining time below which the client is warned.
const TimeWarningSeconds = 300

// State is a read-only view of a session.
type State struct {
	UserID         int                `json:"user_id"`
	ExamID         uuid.UUID          `json:"exam_id"`
	Title          string             `json:"title,omitempty"`
	Phase          Phase              `json:"phase"`
	Current        int                `json:"current"`
	QuestionCount  int                `json:"question_count"`
	Answers        AnswerMap          `json:"answers"`
	Answered       int                `json:"answered"`
	Remaining      int                `json:"remaining_seconds"`
	TimeWarning    bool               `json:"time_warning"`
	ClockPaused    bool               `json:"clock_paused"`
	Violations     int                `json:"violations"`
	ViolationLimit int                `json:"violation_limit"`
	LastViolation  ViolationKind      `json:"last_violation,omitempty"`
	Fullscreen     bool               `json:"fullscreen"`
	SubmitReason   model.SubmitReason `json:"submit_reason,omitempty"`
	SubmitError    string             `json:"submit_error,omitempty"`
	Retryable      bool               `json:"retryable"`
	Score          *int               `json:"score,omitempty"`
	LoadError      LoadReason         `json:"load_error,omitempty"`
	Ended          bool               `json:"ended"`
}

// EventType tags controller notifications.
type EventType string

const (
	EventState        EventType = "state"
	EventTick         EventType = "tick"
	EventViolation    EventType = "violation"
	EventReview       EventType = "review"
	EventSubmitFailed EventType = "submit_failed"
	EventCompleted    EventType = "completed"
)

// Event is emitted by the controller after every transition.
type Event struct {
	Type      EventType
	State     State
	Violation *Violation
	Err       error
}

// Notifier receives controller events on the controller goroutine. It must
// not block.
type Notifier func(Event)
