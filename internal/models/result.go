package models

import (
	"encoding/json"
	"time"
)

// ErrorKind classifies why a job failed.
type ErrorKind string

const (
	ErrorKindTransportUnavailable ErrorKind = "TRANSPORT_UNAVAILABLE"
	ErrorKindUnknownTask          ErrorKind = "UNKNOWN_TASK"
	ErrorKindExecution            ErrorKind = "EXECUTION_ERROR"
	ErrorKindSerialization        ErrorKind = "SERIALIZATION_ERROR"
)

// JobError is the error payload recorded with a FAILURE outcome.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *JobError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Result is what a producer sees when polling a job.
type Result struct {
	JobID    string          `json:"task_id"`
	Task     string          `json:"task,omitempty"`
	Status   Status          `json:"status"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    *JobError       `json:"error,omitempty"`
	WorkerID string          `json:"worker_id,omitempty"`
	DateDone *time.Time      `json:"date_done,omitempty"`
}
