package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Exam is the catalog entry for a timed exam.
type Exam struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	DurationMinutes int       `json:"duration_minutes"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DurationSeconds returns the allotted time in seconds.
func (e *Exam) DurationSeconds() int {
	return e.DurationMinutes * 60
}

// ExamPaper is the student-facing view of an exam (no correct answers).
type ExamPaper struct {
	ExamID          uuid.UUID            `json:"exam_id"`
	Title           string               `json:"title"`
	DurationMinutes int                  `json:"duration_minutes"`
	Questions       []QuestionForStudent `json:"questions"`
}

// ImportExamRequest is the file format read by cmd/import-exam.
type ImportExamRequest struct {
	ID              *uuid.UUID              `json:"id" validate:"omitempty"`
	Title           string                  `json:"title" validate:"required,min=3,max=255"`
	DurationMinutes int                     `json:"duration_minutes" validate:"required,min=1,max=480"`
	IsActive        bool                    `json:"is_active"`
	Questions       []ImportQuestionRequest `json:"questions" validate:"required,min=1,dive"`
}

// ImportQuestionRequest is one question in an ImportExamRequest.
type ImportQuestionRequest struct {
	Text          string   `json:"text" validate:"required,min=1,max=2000"`
	Options       []string `json:"options" validate:"required,min=2,dive,required"`
	CorrectAnswer int      `json:"correct_answer" validate:"min=0"`
}

// Build turns the request into an exam and its ordered questions. A missing
// ID gets a fresh one.
func (r *ImportExamRequest) Build() (*Exam, []Question, error) {
	exam := &Exam{
		Title:           r.Title,
		DurationMinutes: r.DurationMinutes,
		IsActive:        r.IsActive,
	}
	if r.ID != nil {
		exam.ID = *r.ID
	} else {
		exam.ID = uuid.New()
	}

	questions := make([]Question, len(r.Questions))
	for i, q := range r.Questions {
		questions[i] = Question{
			ExamID:        exam.ID,
			Number:        i + 1,
			Text:          q.Text,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
		}
		if !questions[i].Valid() {
			return nil, nil, fmt.Errorf("question %d: correct_answer %d out of range", i+1, q.CorrectAnswer)
		}
	}
	return exam, questions, nil
}
