package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmitReason records what ended an attempt.
type SubmitReason string

const (
	SubmitReasonManual         SubmitReason = "MANUAL"
	SubmitReasonTimeExpired    SubmitReason = "TIME_EXPIRED"
	SubmitReasonViolationLimit SubmitReason = "VIOLATION_LIMIT"
)

// Submission is the final, scored result of one attempt.
type Submission struct {
	ID             uuid.UUID    `json:"id"`
	UserID         int          `json:"user_id"`
	ExamID         uuid.UUID    `json:"exam_id"`
	ExamTitle      string       `json:"exam_title"`
	Score          int          `json:"score"`
	Answers        []*int       `json:"answers"`
	Reason         SubmitReason `json:"reason"`
	ViolationCount int          `json:"violation_count"`
	SubmittedAt    time.Time    `json:"submitted_at"`
}

// Progress is an encrypted in-progress answer snapshot.
type Progress struct {
	UserID      int       `json:"user_id"`
	ExamID      uuid.UUID `json:"exam_id"`
	Answers     string    `json:"-"`
	LastUpdated time.Time `json:"last_updated"`
}

// ViolationRecord is one integrity violation stored for proctor review.
type ViolationRecord struct {
	UserID     int       `json:"user_id"`
	ExamID     uuid.UUID `json:"exam_id"`
	Kind       string    `json:"kind"`
	Count      int       `json:"count"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ProgressOp is the kind of change carried by a ProgressJob.
type ProgressOp string

const (
	ProgressOpUpsert ProgressOp = "upsert"
	ProgressOpDelete ProgressOp = "delete"
)

// ProgressJob is one queued write to the durable progress table.
type ProgressJob struct {
	Op      ProgressOp `json:"op"`
	UserID  int        `json:"user_id"`
	ExamID  string     `json:"exam_id"`
	Answers string     `json:"answers,omitempty"`
	At      int64      `json:"at"` // unix milliseconds
}

// MonitorEvent is the live session summary relayed to proctors.
type MonitorEvent struct {
	Type          string `json:"type"`
	UserID        int    `json:"user_id"`
	ExamID        string `json:"exam_id"`
	Phase         string `json:"phase"`
	Answered      int    `json:"answered"`
	QuestionCount int    `json:"question_count"`
	Remaining     int    `json:"remaining"`
	Violations    int    `json:"violations"`
	Violation     string `json:"violation,omitempty"`
	Score         *int   `json:"score,omitempty"`
	At            int64  `json:"at"`
}
