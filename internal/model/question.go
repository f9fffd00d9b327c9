package model

import (
	"github.com/google/uuid"
)

// Question is a single multiple-choice question. Immutable once loaded.
type Question struct {
	ID            uuid.UUID `json:"id"`
	ExamID        uuid.UUID `json:"exam_id"`
	Number        int       `json:"question_number"`
	Text          string    `json:"text"`
	Options       []string  `json:"options"`
	CorrectAnswer int       `json:"correct_answer"`
}

// Valid reports whether the question has at least two options and the
// correct answer points at one of them.
func (q *Question) Valid() bool {
	return len(q.Options) >= 2 && q.CorrectAnswer >= 0 && q.CorrectAnswer < len(q.Options)
}

// QuestionForStudent is a question without the correct answer.
type QuestionForStudent struct {
	ID      uuid.UUID `json:"id"`
	Number  int       `json:"question_number"`
	Text    string    `json:"text"`
	Options []string  `json:"options"`
}

// ForStudent strips the answer key.
func (q *Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:      q.ID,
		Number:  q.Number,
		Text:    q.Text,
		Options: q.Options,
	}
}
