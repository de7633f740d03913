// Package dispatch is the producer side of the job queue: it publishes jobs,
// answers status polls and probes worker liveness.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stopro/ai-taskqueue/internal/config"
	"github.com/stopro/ai-taskqueue/internal/metrics"
	"github.com/stopro/ai-taskqueue/internal/models"
	redisq "github.com/stopro/ai-taskqueue/internal/redis"
)

// Dispatcher publishes jobs and reads their outcomes. Task names are not
// validated here: a name no worker knows ends as FAILURE/UNKNOWN_TASK.
type Dispatcher struct {
	broker  *redis.Client
	results *redisq.ResultStore
	probe   *Probe
	queue   string
	log     *zap.Logger
}

func New(cfg *config.Config, broker *redis.Client, results *redisq.ResultStore, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		broker:  broker,
		results: results,
		probe:   NewProbe(broker, cfg.PingTimeout, log),
		queue:   cfg.Queue,
		log:     log,
	}
}

// Submit publishes task with positional arguments and returns its job id
// without waiting for execution.
func (d *Dispatcher) Submit(ctx context.Context, task string, args ...any) (string, error) {
	return d.SubmitWithKwargs(ctx, task, args, nil)
}

// SubmitWithKwargs publishes task with positional and keyword arguments.
// Arguments are JSON-encoded before anything is written; []byte values
// travel as base64 strings.
func (d *Dispatcher) SubmitWithKwargs(ctx context.Context, task string, args []any, kwargs map[string]any) (string, error) {
	job := models.Job{
		ID:          uuid.New().String(),
		Task:        task,
		Args:        make([]json.RawMessage, 0, len(args)),
		Kwargs:      make(map[string]json.RawMessage, len(kwargs)),
		Queue:       d.queue,
		ContentType: models.ContentTypeJSON,
		SentAt:      time.Now().UTC(),
	}

	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("%w: argument %d of %s: %w", models.ErrSerialization, i, task, err)
		}
		job.Args = append(job.Args, raw)
	}
	for k, v := range kwargs {
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("%w: argument %s of %s: %w", models.ErrSerialization, k, task, err)
		}
		job.Kwargs[k] = raw
	}

	// PENDING goes first so a fast worker can never be overwritten by it.
	if err := d.results.MarkPending(ctx, job.ID, task); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrTransportUnavailable, err)
	}
	if err := redisq.EnqueueJob(ctx, d.broker, job); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrTransportUnavailable, err)
	}

	metrics.JobsSubmittedTotal.WithLabelValues(task).Inc()
	d.log.Debug("job submitted", zap.String("job_id", job.ID), zap.String("task", task))
	return job.ID, nil
}

// GetStatus returns the job's current status and, once terminal, its
// result or error.
func (d *Dispatcher) GetStatus(ctx context.Context, jobID string) (*models.Result, error) {
	res, err := d.results.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrTransportUnavailable, err)
	}
	return res, nil
}

// DefaultWaitInterval is the polling interval Wait uses when given none.
const DefaultWaitInterval = 500 * time.Millisecond

// Wait polls GetStatus every interval until the job is terminal or ctx is
// done. Callers bound the wait through ctx. A non-positive interval means
// DefaultWaitInterval.
func (d *Dispatcher) Wait(ctx context.Context, jobID string, interval time.Duration) (*models.Result, error) {
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := d.GetStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if res.Status.Terminal() {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ping reports whether at least one worker answered within the probe
// timeout.
func (d *Dispatcher) Ping(ctx context.Context) bool {
	return d.probe.Ping(ctx)
}

// Workers lists the workers that answered a liveness ping.
func (d *Dispatcher) Workers(ctx context.Context) []redisq.PingReply {
	return d.probe.Replies(ctx)
}
