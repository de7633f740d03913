package models

import (
	"encoding/json"
	"time"
)

// ContentTypeJSON is the only message encoding workers accept.
const ContentTypeJSON = "application/json"

// Status is the lifecycle state of a job as seen through the result store.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusStarted Status = "STARTED"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Job is the message published to the broker.
type Job struct {
	ID          string                     `json:"id"`
	Task        string                     `json:"task"`
	Args        []json.RawMessage          `json:"args"`
	Kwargs      map[string]json.RawMessage `json:"kwargs"`
	Queue       string                     `json:"queue"`
	Priority    int                        `json:"priority"`
	ContentType string                     `json:"content_type"`
	SentAt      time.Time                  `json:"sent_at"`
}

// Arguments is the decoded argument payload handed to a task handler.
type Arguments struct {
	Args   []json.RawMessage
	Kwargs map[string]json.RawMessage
}

// Arguments returns the handler view of the job's payload.
func (j Job) Arguments() Arguments {
	return Arguments{Args: j.Args, Kwargs: j.Kwargs}
}
