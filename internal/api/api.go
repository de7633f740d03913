// Package api exposes the dispatcher over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/stopro/ai-taskqueue/internal/models"
	"github.com/stopro/ai-taskqueue/internal/tasks"
)

const maxImageBytes = 10 << 20

// Dispatcher is the producer contract the HTTP layer depends on.
type Dispatcher interface {
	Submit(ctx context.Context, task string, args ...any) (string, error)
	GetStatus(ctx context.Context, jobID string) (*models.Result, error)
	Ping(ctx context.Context) bool
}

type Handler struct {
	d   Dispatcher
	log *zap.Logger
}

func NewRouter(d Dispatcher, log *zap.Logger) *mux.Router {
	h := &Handler{d: d, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/ocr/solution", h.submitSolutionImage).Methods(http.MethodPost)
	v1.HandleFunc("/math/check", h.submitAnswerCheck).Methods(http.MethodPost)
	v1.HandleFunc("/tasks/{id}", h.taskStatus).Methods(http.MethodGet)
	return r
}

type healthResponse struct {
	Status string `json:"status"`
	Celery string `json:"celery"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	state := "disconnected"
	if h.d.Ping(r.Context()) {
		state = "connected"
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Celery: state})
}

type submitResponse struct {
	TaskID string        `json:"task_id"`
	Status models.Status `json:"status"`
}

func (h *Handler) submitSolutionImage(w http.ResponseWriter, r *http.Request) {
	image, err := io.ReadAll(io.LimitReader(r.Body, maxImageBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read image")
		return
	}
	if len(image) == 0 {
		writeError(w, http.StatusBadRequest, "empty image")
		return
	}
	if len(image) > maxImageBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}
	h.submit(w, r, tasks.ProcessSolutionImage, image)
}

type answerCheckRequest struct {
	StudentAnswer *string `json:"student_answer"`
	CorrectAnswer *string `json:"correct_answer"`
}

func (h *Handler) submitAnswerCheck(w http.ResponseWriter, r *http.Request) {
	var req answerCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.StudentAnswer == nil || req.CorrectAnswer == nil {
		writeError(w, http.StatusBadRequest, "student_answer and correct_answer are required")
		return
	}
	h.submit(w, r, tasks.CheckMathAnswer, *req.StudentAnswer, *req.CorrectAnswer)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, task tasks.TaskName, args ...any) {
	id, err := h.d.Submit(r.Context(), task.String(), args...)
	if err != nil {
		h.log.Error("submit failed", zap.String("task", task.String()), zap.Error(err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{TaskID: id, Status: models.StatusPending})
}

func (h *Handler) taskStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, err := h.d.GetStatus(r.Context(), id)
	if err != nil {
		h.log.Error("status lookup failed", zap.String("job_id", id), zap.Error(err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrTransportUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrSerialization):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
