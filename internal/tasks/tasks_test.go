package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stopro/ai-taskqueue/internal/models"
)

func positional(t *testing.T, vals ...any) models.Arguments {
	t.Helper()
	args := models.Arguments{}
	for _, v := range vals {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		args.Args = append(args.Args, raw)
	}
	return args
}

func run(t *testing.T, r *Registry, name TaskName, args models.Arguments) (any, error) {
	t.Helper()
	h, ok := r.Lookup(string(name))
	require.True(t, ok, "task %s not registered", name)
	return h.Run(context.Background(), args)
}

func TestCheckMathAnswer(t *testing.T) {
	r := Default(StubOCR{})

	tests := []struct {
		student, correct string
		want             bool
	}{
		{"2x + 4 = 10", "2x + 4 = 10", true},
		{"x=3", "x=7", false},
		{"x = 3", "x=3", false},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := run(t, r, CheckMathAnswer, positional(t, tt.student, tt.correct))
		require.NoError(t, err)
		assert.Equal(t, AnswerCheck{IsCorrect: tt.want}, got, "%q vs %q", tt.student, tt.correct)
	}
}

func TestCheckMathAnswerKeywordArgs(t *testing.T) {
	r := Default(StubOCR{})
	args := models.Arguments{Kwargs: map[string]json.RawMessage{
		"student_answer": json.RawMessage(`"x=3"`),
		"correct_answer": json.RawMessage(`"x=3"`),
	}}

	got, err := run(t, r, CheckMathAnswer, args)
	require.NoError(t, err)
	assert.Equal(t, AnswerCheck{IsCorrect: true}, got)
}

func TestCheckMathAnswerBadArguments(t *testing.T) {
	r := Default(StubOCR{})

	_, err := run(t, r, CheckMathAnswer, positional(t, "x=3"))
	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr)
	assert.Equal(t, "correct_answer", argErr.Name)
	assert.True(t, errors.Is(err, models.ErrSerialization))

	_, err = run(t, r, CheckMathAnswer, positional(t, 3, "x=3"))
	assert.ErrorIs(t, err, models.ErrSerialization)
}

func TestProcessSolutionImageIsDeterministic(t *testing.T) {
	r := Default(StubOCR{})
	want := OCRResult{Text: "2x + 4 = 10", Math: []string{"2x + 4 = 10"}, Confidence: 0.95}

	for _, img := range [][]byte{{}, {0x89, 'P', 'N', 'G'}, []byte("anything at all")} {
		got, err := run(t, r, ProcessSolutionImage, positional(t, img))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestStubOCRHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := StubOCR{Delay: time.Minute}.Recognize(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type fixedOCR struct{ res OCRResult }

func (f fixedOCR) Recognize(context.Context, []byte) (OCRResult, error) { return f.res, nil }

func TestProcessSolutionImageRejectsBadConfidence(t *testing.T) {
	r := Default(fixedOCR{res: OCRResult{Confidence: 1.5}})
	_, err := run(t, r, ProcessSolutionImage, positional(t, []byte("img")))
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := Default(StubOCR{})
	assert.Equal(t, []string{"check_math_answer", "process_solution_image"}, r.Names())

	_, ok := r.Lookup("generate_recommendations")
	assert.False(t, ok)

	_, err := NewRegistry(map[TaskName]Handler{"noop": nil})
	assert.Error(t, err)

	custom, err := NewRegistry(map[TaskName]Handler{
		"echo": HandlerFunc(func(_ context.Context, a models.Arguments) (any, error) { return len(a.Args), nil }),
	})
	require.NoError(t, err)
	got, err := run(t, custom, "echo", positional(t, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}
