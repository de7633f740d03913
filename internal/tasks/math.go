package tasks

import (
	"context"

	"github.com/stopro/ai-taskqueue/internal/models"
)

type AnswerCheck struct {
	IsCorrect bool `json:"is_correct"`
}

// checkMathAnswer(student_answer, correct_answer) compares answers exactly.
func checkMathAnswer(_ context.Context, args models.Arguments) (any, error) {
	var student, correct string
	if err := decodeArg(args, 0, "student_answer", &student); err != nil {
		return nil, err
	}
	if err := decodeArg(args, 1, "correct_answer", &correct); err != nil {
		return nil, err
	}
	return AnswerCheck{IsCorrect: student == correct}, nil
}
