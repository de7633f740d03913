package models

import (
	"os"

	"github.com/google/uuid"
)

type Worker struct {
	ID       string
	Hostname string
	Queue    string
}

func NewWorker(queue string) Worker {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return Worker{
		ID:       uuid.New().String(),
		Hostname: host,
		Queue:    queue,
	}
}

// Name is the celery-style node name reported to liveness pings.
func (w Worker) Name() string {
	return "worker@" + w.Hostname + "/" + w.ID[:8]
}
