package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func questionsWithKey(key ...int) []model.Question {
	qs := make([]model.Question, len(key))
	for i, k := range key {
		qs[i] = model.Question{Options: []string{"a", "b", "c", "d"}, CorrectAnswer: k}
	}
	return qs
}

func TestComputeScore(t *testing.T) {
	tests := []struct {
		name    string
		key     []int
		answers AnswerMap
		score   int
		correct int
	}{
		{"all correct", []int{1, 0}, AnswerMap{0: 1, 1: 0}, 100, 2},
		{"none answered", []int{1, 0}, AnswerMap{}, 0, 0},
		{"half", []int{1, 0}, AnswerMap{0: 1, 1: 1}, 50, 1},
		{"rounds up", []int{0, 0, 0}, AnswerMap{0: 0, 1: 0}, 67, 2},
		{"rounds down", []int{0, 0, 0}, AnswerMap{0: 0}, 33, 1},
		{"ignores out of range", []int{0}, AnswerMap{0: 0, 4: 0}, 100, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, correct, err := ComputeScore(questionsWithKey(tt.key...), tt.answers)
			assert.NoError(t, err)
			assert.Equal(t, tt.score, score)
			assert.Equal(t, tt.correct, correct)
		})
	}
}

func TestComputeScore_Empty(t *testing.T) {
	_, _, err := ComputeScore(nil, AnswerMap{0: 0})
	assert.ErrorIs(t, err, ErrNoQuestions)
}
