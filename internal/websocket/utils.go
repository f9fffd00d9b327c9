package websocket

import (
	"errors"

	"github.com/stemsi/exstem-proctor/internal/session"
)

// FromSessionEvent maps a controller event to its wire message.
func FromSessionEvent(ev session.Event) any {
	s := ev.State
	switch ev.Type {
	case session.EventTick:
		return TickResponse{Event: EventTick, Remaining: s.Remaining, TimeWarning: s.TimeWarning}

	case session.EventViolation:
		resp := ViolationResponse{Event: EventViolation, Violations: s.Violations, Limit: s.ViolationLimit, State: s}
		if ev.Violation != nil {
			resp.Kind = ev.Violation.Kind
		}
		return resp

	case session.EventReview:
		return ReviewResponse{Event: EventReview, Answered: s.Answered, Unanswered: Unanswered(s), State: s}

	case session.EventSubmitFailed:
		resp := SubmitFailedResponse{Event: EventSubmitFailed, Error: s.SubmitError, Retryable: true}
		var serr *session.SubmissionError
		if ev.Err != nil {
			resp.Error = ev.Err.Error()
			if errors.As(ev.Err, &serr) {
				resp.Retryable = serr.Retryable()
			}
		}
		return resp

	case session.EventCompleted:
		resp := CompletedResponse{Event: EventCompleted, Reason: string(s.SubmitReason), State: s}
		if s.Score != nil {
			resp.Score = *s.Score
		}
		return resp

	default:
		return StateResponse{Event: EventState, State: s}
	}
}

// Unanswered lists question indexes without an answer, in order.
func Unanswered(s session.State) []int {
	out := make([]int, 0, s.QuestionCount-s.Answered)
	for i := 0; i < s.QuestionCount; i++ {
		if _, ok := s.Answers[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}
