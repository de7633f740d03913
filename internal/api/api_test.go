package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stopro/ai-taskqueue/internal/models"
)

type submission struct {
	task string
	args []any
}

type fakeDispatcher struct {
	alive     bool
	submitErr error
	submitted []submission
	results   map[string]*models.Result
}

func (f *fakeDispatcher) Submit(_ context.Context, task string, args ...any) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, submission{task: task, args: args})
	return fmt.Sprintf("job-%d", len(f.submitted)), nil
}

func (f *fakeDispatcher) GetStatus(_ context.Context, id string) (*models.Result, error) {
	if res, ok := f.results[id]; ok {
		return res, nil
	}
	return &models.Result{JobID: id, Status: models.StatusPending}, nil
}

func (f *fakeDispatcher) Ping(context.Context) bool { return f.alive }

func do(t *testing.T, d Dispatcher, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	NewRouter(d, zap.NewNop()).ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	for _, alive := range []bool{true, false} {
		rec := do(t, &fakeDispatcher{alive: alive}, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, rec.Code)

		want := `{"status":"ok","celery":"disconnected"}`
		if alive {
			want = `{"status":"ok","celery":"connected"}`
		}
		assert.JSONEq(t, want, rec.Body.String())
	}
}

func TestSubmitAnswerCheck(t *testing.T) {
	d := &fakeDispatcher{}
	rec := do(t, d, http.MethodPost, "/api/v1/math/check",
		`{"student_answer":"x=3","correct_answer":"x=7"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"task_id":"job-1","status":"PENDING"}`, rec.Body.String())
	require.Len(t, d.submitted, 1)
	assert.Equal(t, "check_math_answer", d.submitted[0].task)
	assert.Equal(t, []any{"x=3", "x=7"}, d.submitted[0].args)
}

func TestSubmitAnswerCheckValidation(t *testing.T) {
	for _, body := range []string{`{"student_answer":"x=3"}`, `not json`} {
		rec := do(t, &fakeDispatcher{}, http.MethodPost, "/api/v1/math/check", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestSubmitSolutionImage(t *testing.T) {
	d := &fakeDispatcher{}
	rec := do(t, d, http.MethodPost, "/api/v1/ocr/solution", "\x89PNG....")

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, d.submitted, 1)
	assert.Equal(t, "process_solution_image", d.submitted[0].task)
	assert.Equal(t, []byte("\x89PNG...."), d.submitted[0].args[0])

	rec = do(t, d, http.MethodPost, "/api/v1/ocr/solution", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTransportUnavailable(t *testing.T) {
	d := &fakeDispatcher{submitErr: fmt.Errorf("%w: dial tcp: refused", models.ErrTransportUnavailable)}
	rec := do(t, d, http.MethodPost, "/api/v1/math/check", `{"student_answer":"a","correct_answer":"a"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTaskStatus(t *testing.T) {
	d := &fakeDispatcher{results: map[string]*models.Result{
		"done": {JobID: "done", Status: models.StatusSuccess, Result: json.RawMessage(`{"is_correct":true}`)},
		"bad": {JobID: "bad", Status: models.StatusFailure, Error: &models.JobError{
			Kind: models.ErrorKindUnknownTask, Message: `task "x" is not registered`,
		}},
	}}

	rec := do(t, d, http.MethodGet, "/api/v1/tasks/done", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"task_id":"done","status":"SUCCESS","result":{"is_correct":true}}`, rec.Body.String())

	rec = do(t, d, http.MethodGet, "/api/v1/tasks/bad", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"task_id":"bad","status":"FAILURE","error":{"kind":"UNKNOWN_TASK","message":"task \"x\" is not registered"}}`, rec.Body.String())

	rec = do(t, d, http.MethodGet, "/api/v1/tasks/unknown", "")
	assert.JSONEq(t, `{"task_id":"unknown","status":"PENDING"}`, rec.Body.String())
}
