package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stopro/ai-taskqueue/internal/models"
)

const (
	minPriority = 0
	maxPriority = 9
)

// jobScore orders a queue so ZPopMax returns the highest priority first and,
// within a priority, the oldest message first.
func jobScore(priority int, sentAt time.Time) float64 {
	priority = min(max(priority, minPriority), maxPriority)
	return float64(priority)*1e13 - float64(sentAt.UnixMilli())
}

func EnqueueJob(ctx context.Context, rdb *redis.Client, job models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(job.ID), map[string]interface{}{
		"payload":    string(data),
		"queue":      job.Queue,
		"state":      "queued",
		"created_at": job.SentAt.Unix(),
	})
	pipe.ZAdd(ctx, queueKey(job.Queue), redis.Z{
		Score:  jobScore(job.Priority, job.SentAt),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	return nil
}

// RequeueJob puts a claimed job back on its queue, e.g. after its worker died.
func RequeueJob(ctx context.Context, rdb *redis.Client, job models.Job) error {
	pipe := rdb.TxPipeline()
	pipe.ZAdd(ctx, queueKey(job.Queue), redis.Z{
		Score:  jobScore(job.Priority, job.SentAt),
		Member: job.ID,
	})
	pipe.HSet(ctx, jobKey(job.ID), "state", "queued")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
	}
	return nil
}

func QueueLength(ctx context.Context, rdb *redis.Client, queue string) (int64, error) {
	n, err := rdb.ZCard(ctx, queueKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}
