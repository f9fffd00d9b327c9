package validator

import (
	"testing"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestStruct_UsesJSONFieldNames(t *testing.T) {
	fields := Struct(model.CreateStudentRequest{NISN: "12", Password: "secret1"})
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "nisn")
	assert.NotContains(t, fields, "password")
	assert.Equal(t, "name is a required field", fields["name"])
}

func TestStruct_ValidImport(t *testing.T) {
	req := model.ImportExamRequest{
		Title:           "Matematika",
		DurationMinutes: 90,
		Questions: []model.ImportQuestionRequest{
			{Text: "1 + 1", Options: []string{"1", "2"}, CorrectAnswer: 1},
		},
	}
	assert.Nil(t, Struct(req))

	req.Questions[0].Options = []string{"only"}
	assert.NotNil(t, Struct(req))
}

func TestTranslateErrors_NonValidation(t *testing.T) {
	fields := TranslateErrors(assert.AnError)
	assert.Equal(t, map[string]string{"detail": assert.AnError.Error()}, fields)
}
