package websocket

import (
	"github.com/stemsi/exstem-proctor/internal/session"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer      Action = "answer"
	ActionAnswerAt    Action = "answer_at"
	ActionGoto        Action = "goto"
	ActionNext        Action = "next"
	ActionPrev        Action = "prev"
	ActionSignal      Action = "signal"
	ActionAcknowledge Action = "acknowledge"
	ActionSubmit      Action = "submit"
	ActionConfirm     Action = "confirm"
	ActionCancel      Action = "cancel"
	ActionRetry       Action = "retry"
	ActionState       Action = "state"
	ActionPing        Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action" validate:"required"`
}

// AnswerRequest selects an option for the current question.
type AnswerRequest struct {
	Action Action `json:"action"`
	Option *int   `json:"option" validate:"required,min=0"`
}

// AnswerAtRequest selects an option for a given question.
type AnswerAtRequest struct {
	Action Action `json:"action"`
	Index  *int   `json:"index" validate:"required,min=0"`
	Option *int   `json:"option" validate:"required,min=0"`
}

// GotoRequest jumps to a question.
type GotoRequest struct {
	Action Action `json:"action"`
	Index  *int   `json:"index" validate:"required,min=0"`
}

// SignalRequest reports an environment change seen by the browser.
type SignalRequest struct {
	Action Action `json:"action"`
	Signal string `json:"signal" validate:"required,oneof=fullscreen_enter fullscreen_exit visibility_hidden visibility_visible copy cut paste"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState        Event = "state"
	EventTick         Event = "tick"
	EventViolation    Event = "violation"
	EventReview       Event = "review"
	EventSubmitFailed Event = "submit_failed"
	EventCompleted    Event = "completed"
	EventCommand      Event = "command"
	EventError        Event = "error"
	EventPong         Event = "pong"
)

// Command is an instruction the browser must carry out.
type Command string

const (
	CommandFullscreenRequest Command = "fullscreen_request"
	CommandFullscreenExit    Command = "fullscreen_exit"
)

type StateResponse struct {
	Event Event         `json:"event"`
	State session.State `json:"state"`
}

type TickResponse struct {
	Event       Event `json:"event"`
	Remaining   int   `json:"remaining_seconds"`
	TimeWarning bool  `json:"time_warning"`
}

type ViolationResponse struct {
	Event      Event                 `json:"event"`
	Kind       session.ViolationKind `json:"kind"`
	Violations int                   `json:"violations"`
	Limit      int                   `json:"limit"`
	State      session.State         `json:"state"`
}

type ReviewResponse struct {
	Event      Event         `json:"event"`
	Answered   int           `json:"answered"`
	Unanswered []int         `json:"unanswered"`
	State      session.State `json:"state"`
}

type SubmitFailedResponse struct {
	Event     Event  `json:"event"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

type CompletedResponse struct {
	Event  Event         `json:"event"`
	Score  int           `json:"score"`
	Reason string        `json:"reason"`
	State  session.State `json:"state"`
}

type CommandResponse struct {
	Event   Event   `json:"event"`
	Command Command `json:"command"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Code   string            `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
