package session

import (
	"math"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// ComputeScore returns round(100 × correct / len(questions)) and the number of
// correct answers. Unanswered questions never count as correct.
func ComputeScore(questions []model.Question, answers AnswerMap) (score, correct int, err error) {
	if len(questions) == 0 {
		return 0, 0, ErrNoQuestions
	}

	for i := range questions {
		if opt, ok := answers[i]; ok && opt == questions[i].CorrectAnswer {
			correct++
		}
	}

	score = int(math.Round(100 * float64(correct) / float64(len(questions))))
	return score, correct, nil
}
