package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ExamCatalog serves read-only exam definitions.
// FetchActiveExam returns ErrExamNotFound or ErrExamInactive when applicable.
type ExamCatalog interface {
	FetchActiveExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error)
	FetchQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// ProgressSink stores the encrypted in-progress snapshot of one (user, exam).
// Upsert overwrites; last writer wins.
type ProgressSink interface {
	Get(ctx context.Context, userID int, examID uuid.UUID) (snapshot string, found bool, err error)
	Upsert(ctx context.Context, userID int, examID uuid.UUID, snapshot string, at time.Time) error
	Delete(ctx context.Context, userID int, examID uuid.UUID) error
}

// SubmissionSink records final results.
type SubmissionSink interface {
	Insert(ctx context.Context, sub model.Submission) error
}

// Codec seals answer snapshots for persistence. Open must fail, not guess,
// when the input was not produced by Seal with the same key.
type Codec interface {
	Seal(m AnswerMap) (string, error)
	Open(sealed string) (AnswerMap, error)
}

// AttemptTiming is what an AttemptTracker knows about an attempt: when it
// first started and how long its clock has been paused in total.
type AttemptTiming struct {
	StartedAt time.Time
	Paused    time.Duration
}

// AttemptTracker remembers when an attempt first started and how long it sat
// paused, so a resumed session keeps counting wall-clock time without
// charging the student for pauses.
type AttemptTracker interface {
	MarkStarted(ctx context.Context, userID int, examID uuid.UUID, at time.Time) (AttemptTiming, error)
	AddPaused(ctx context.Context, userID int, examID uuid.UUID, d time.Duration) error
	Clear(ctx context.Context, userID int, examID uuid.UUID) error
}
