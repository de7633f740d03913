// Package worker runs jobs pulled from the broker and records their outcome
// in the result store.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stopro/ai-taskqueue/internal/config"
	"github.com/stopro/ai-taskqueue/internal/metrics"
	"github.com/stopro/ai-taskqueue/internal/models"
	redisq "github.com/stopro/ai-taskqueue/internal/redis"
	"github.com/stopro/ai-taskqueue/internal/tasks"
)

var errTimeLimit = errors.New("time limit exceeded")

// Runtime executes one job at a time. Concurrency comes from running several
// runtimes, each with its own worker identity.
type Runtime struct {
	Worker models.Worker

	broker   *redis.Client
	results  *redisq.ResultStore
	registry *tasks.Registry
	cfg      config.WorkerConfig
	log      *zap.Logger
}

func NewRuntime(cfg *config.Config, broker *redis.Client, results *redisq.ResultStore, registry *tasks.Registry, log *zap.Logger) *Runtime {
	w := models.NewWorker(cfg.Queue)
	return &Runtime{
		Worker:   w,
		broker:   broker,
		results:  results,
		registry: registry,
		cfg:      cfg.Worker,
		log:      log.With(zap.String("worker_id", w.ID)),
	}
}

// Run pulls and executes jobs until ctx is cancelled. A job in progress is
// finished before Run returns.
func (r *Runtime) Run(ctx context.Context) error {
	r.log.Info("worker started", zap.String("queue", r.Worker.Queue), zap.Strings("tasks", r.registry.Names()))

	for {
		if ctx.Err() != nil {
			r.log.Info("worker stopping")
			return nil
		}

		processed, err := r.RunOnce(ctx)
		if err != nil {
			r.log.Warn("error running job", zap.Error(err))
		}
		if processed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// RunOnce claims and executes at most one job. It reports whether a message
// was consumed. A job whose outcome could not be recorded is left claimed
// so the sweeper redelivers it; the error says why.
func (r *Runtime) RunOnce(ctx context.Context) (bool, error) {
	job, err := redisq.FetchAndClaimJob(ctx, r.broker, r.results, r.Worker, r.cfg.HeartbeatTTL)
	if err != nil {
		if errors.Is(err, redisq.ErrAlreadyFinished) {
			r.log.Info("job already finished, dropping redelivery", zap.Error(err))
			metrics.DuplicateDeliveriesTotal.Inc()
			return true, nil
		}
		var invalid *redisq.InvalidPayloadError
		if errors.As(err, &invalid) {
			return true, r.fail(ctx, invalid.JobID, "", models.ErrorKindSerialization, invalid.Err.Error())
		}
		return false, err
	}
	if job == nil {
		return false, nil
	}

	// Jobs are finished even when ctx is cancelled mid-run.
	return true, r.process(context.WithoutCancel(ctx), job)
}

// process runs job and acks it only once a terminal result is stored.
func (r *Runtime) process(ctx context.Context, job *models.Job) error {
	log := r.log.With(zap.String("job_id", job.ID), zap.String("task", job.Task))

	started, err := r.results.MarkStarted(ctx, job.ID, job.Task, r.Worker.ID)
	if err != nil {
		return fmt.Errorf("job %s left for redelivery: %w", job.ID, err)
	}
	if !started {
		log.Info("job already finished, skipping redelivery")
		metrics.DuplicateDeliveriesTotal.Inc()
		return r.ack(ctx, job.ID)
	}

	handler, ok := r.registry.Lookup(job.Task)
	if !ok {
		log.Warn("unknown task")
		if err := r.fail(ctx, job.ID, job.Task, models.ErrorKindUnknownTask,
			fmt.Sprintf("task %q is not registered", job.Task)); err != nil {
			return err
		}
		return r.ack(ctx, job.ID)
	}

	log.Info("job received")
	metrics.RunningJobs.Inc()
	stopHB := r.startHeartbeat(ctx, log)
	start := time.Now()

	value, execErr := r.execute(ctx, handler, job)

	duration := time.Since(start)
	stopHB()
	metrics.RunningJobs.Dec()
	metrics.JobDurationSeconds.WithLabelValues(job.Task).Observe(duration.Seconds())
	if err := redisq.UpdateWorkerMetrics(ctx, r.broker, r.Worker, duration); err != nil {
		log.Warn("failed to update worker metrics", zap.Error(err))
	}

	if execErr != nil {
		kind := models.ErrorKindExecution
		if errors.Is(execErr, models.ErrSerialization) {
			kind = models.ErrorKindSerialization
		}
		log.Info("job failed", zap.Duration("duration", duration), zap.String("error_kind", string(kind)), zap.Error(execErr))
		if err := r.fail(ctx, job.ID, job.Task, kind, execErr.Error()); err != nil {
			return err
		}
		return r.ack(ctx, job.ID)
	}

	data, err := json.Marshal(value)
	if err != nil {
		if err := r.fail(ctx, job.ID, job.Task, models.ErrorKindSerialization,
			fmt.Sprintf("result not serializable: %v", err)); err != nil {
			return err
		}
		return r.ack(ctx, job.ID)
	}
	if _, err := r.results.MarkSuccess(ctx, job.ID, job.Task, r.Worker.ID, data); err != nil {
		return fmt.Errorf("job %s left for redelivery: %w", job.ID, err)
	}
	metrics.JobsCompletedTotal.WithLabelValues(job.Task, string(models.StatusSuccess), "").Inc()
	log.Info("job succeeded", zap.Duration("duration", duration))
	return r.ack(ctx, job.ID)
}

func (r *Runtime) ack(ctx context.Context, jobID string) error {
	return redisq.AckJob(ctx, r.broker, r.Worker, jobID)
}

// execute runs the handler, turning panics into errors and applying the
// optional time limit.
func (r *Runtime) execute(ctx context.Context, h tasks.Handler, job *models.Job) (value any, err error) {
	if r.cfg.TaskTimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, r.cfg.TaskTimeLimit, errTimeLimit)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("handler panicked",
				zap.String("job_id", job.ID),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	value, err = h.Run(ctx, job.Arguments())
	if err != nil && errors.Is(context.Cause(ctx), errTimeLimit) {
		err = fmt.Errorf("%w after %v", errTimeLimit, r.cfg.TaskTimeLimit)
	}
	return value, err
}

func (r *Runtime) fail(ctx context.Context, jobID, task string, kind models.ErrorKind, msg string) error {
	jobErr := &models.JobError{Kind: kind, Message: msg}
	if _, err := r.results.MarkFailure(ctx, jobID, task, r.Worker.ID, jobErr); err != nil {
		return fmt.Errorf("job %s: failed to record %s: %w", jobID, kind, err)
	}
	metrics.JobsCompletedTotal.WithLabelValues(task, string(models.StatusFailure), string(kind)).Inc()
	return nil
}

func (r *Runtime) startHeartbeat(ctx context.Context, log *zap.Logger) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := redisq.Heartbeat(ctx, r.broker, r.Worker.ID, r.cfg.HeartbeatTTL); err != nil {
					log.Warn("heartbeat failed", zap.Error(err))
				}
			case <-stop:
				return
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}
