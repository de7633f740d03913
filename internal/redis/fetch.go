package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stopro/ai-taskqueue/internal/models"
)

// InvalidPayloadError is returned by FetchAndClaimJob when a claimed message
// cannot be decoded. The message has already been moved to the DLQ.
type InvalidPayloadError struct {
	JobID string
	Err   error
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("job %s: invalid payload: %v", e.JobID, e.Err)
}

func (e *InvalidPayloadError) Unwrap() []error {
	return []error{models.ErrSerialization, e.Err}
}

// ErrAlreadyFinished is returned by FetchAndClaimJob when a redelivered
// message's payload is gone because another worker already finished it.
var ErrAlreadyFinished = errors.New("job already finished")

// FetchAndClaimJob pops the next job from the worker's queue and records the
// claim under running:<worker>. It returns nil, nil when the queue is empty.
// results may be nil; when set, a message without payload whose result is
// already terminal is released with ErrAlreadyFinished instead of being
// dead-lettered.
func FetchAndClaimJob(
	ctx context.Context,
	rdb *redis.Client,
	results *ResultStore,
	worker models.Worker,
	heartbeatTTL time.Duration,
) (*models.Job, error) {

	// ZPOPMAX is atomic, so each message goes to exactly one worker.
	zres, err := rdb.ZPopMax(ctx, queueKey(worker.Queue), 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to pop from queue %s: %w", worker.Queue, err)
	}
	if len(zres) == 0 {
		return nil, nil
	}
	jobID, ok := zres[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected queue member %v", zres[0].Member)
	}

	now := time.Now()

	// Claim before reading the payload so a crash here is recoverable.
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, runningKey(worker.ID), jobID, now.Unix())
	pipe.Set(ctx, heartbeatKey(worker.ID), now.Unix(), heartbeatTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		rdb.ZAdd(ctx, queueKey(worker.Queue), redis.Z{Score: zres[0].Score, Member: jobID})
		return nil, fmt.Errorf("failed to mark job as running: %w", err)
	}

	raw, err := rdb.HGet(ctx, jobKey(jobID), "payload").Result()
	if errors.Is(err, redis.Nil) || (err == nil && raw == "") {
		if results != nil {
			if res, gerr := results.Get(ctx, jobID); gerr == nil && res.Status.Terminal() {
				rdb.HDel(ctx, runningKey(worker.ID), jobID)
				return nil, fmt.Errorf("job %s: %w", jobID, ErrAlreadyFinished)
			}
		}
		_ = MoveToDLQInvalidPayload(ctx, rdb, jobID, raw, errors.New("missing payload"))
		rdb.HDel(ctx, runningKey(worker.ID), jobID)
		return nil, &InvalidPayloadError{JobID: jobID, Err: errors.New("missing payload")}
	} else if err != nil {
		return nil, fmt.Errorf("failed to fetch job data: %w", err)
	}

	job, decodeErr := decodeJob(raw)
	if decodeErr != nil {
		// Move to DLQ so workers don't loop on a poisoned message.
		_ = MoveToDLQInvalidPayload(ctx, rdb, jobID, raw, decodeErr)
		rdb.HDel(ctx, runningKey(worker.ID), jobID)
		return nil, &InvalidPayloadError{JobID: jobID, Err: decodeErr}
	}

	rdb.HSet(ctx, jobKey(jobID), "state", "running", "worker_id", worker.ID)

	return job, nil
}

func decodeJob(raw string) (*models.Job, error) {
	var job models.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, err
	}
	if job.ContentType != models.ContentTypeJSON {
		return nil, fmt.Errorf("content type %q not accepted", job.ContentType)
	}
	if job.ID == "" || job.Task == "" {
		return nil, errors.New("message lacks id or task")
	}
	return &job, nil
}

// AckJob removes a finished job from the broker and releases the claim.
func AckJob(ctx context.Context, rdb *redis.Client, worker models.Worker, jobID string) error {
	pipe := rdb.TxPipeline()
	pipe.HDel(ctx, runningKey(worker.ID), jobID)
	pipe.Del(ctx, jobKey(jobID))
	pipe.Del(ctx, heartbeatKey(worker.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", jobID, err)
	}
	return nil
}

// Heartbeat refreshes the worker's liveness key while a job runs.
func Heartbeat(ctx context.Context, rdb *redis.Client, workerID string, ttl time.Duration) error {
	return rdb.Set(ctx, heartbeatKey(workerID), time.Now().Unix(), ttl).Err()
}
