package redisq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stopro/ai-taskqueue/internal/models"
)

// RecoverStuckJobs requeues jobs claimed by workers whose heartbeat went
// stale. This is the broker's at-least-once redelivery: a handler may run
// again for a job whose worker died mid-flight.
//
// A live worker runs one job at a time, so only its newest claim is in
// flight. Older claims left behind when a result could not be recorded are
// requeued once they pass timeout.
//
// Payloads that no longer decode are dead-lettered and, when results is not
// nil, recorded as SERIALIZATION_ERROR failures.
func RecoverStuckJobs(ctx context.Context, rdb *redis.Client, results *ResultStore, timeout time.Duration, log *zap.Logger) (int, error) {
	var keys []string
	iter := rdb.Scan(ctx, 0, "running:*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan running jobs: %w", err)
	}

	recovered := 0
	now := time.Now().Unix()
	staleAfter := int64(timeout / time.Second)

	for _, key := range keys {
		workerID := strings.TrimPrefix(key, "running:")

		alive := false
		lastHB, err := rdb.Get(ctx, heartbeatKey(workerID)).Int64()
		switch {
		case errors.Is(err, redis.Nil):
			// No heartbeat exists - worker likely crashed
		case err != nil:
			log.Warn("failed to read heartbeat", zap.String("worker_id", workerID), zap.Error(err))
			continue
		case now-lastHB <= staleAfter:
			alive = true
		}

		claims, err := rdb.HGetAll(ctx, key).Result()
		if err != nil {
			log.Warn("failed to read claims", zap.String("worker_id", workerID), zap.Error(err))
			continue
		}

		claimed := make(map[string]int64, len(claims))
		var newest int64
		for jobID, claimedAt := range claims {
			ts, _ := strconv.ParseInt(claimedAt, 10, 64)
			claimed[jobID] = ts
			newest = max(newest, ts)
		}

		for jobID, ts := range claimed {
			// Skip fresh claims whose first heartbeat may not be visible yet.
			if now-ts <= staleAfter {
				continue
			}
			if alive && ts >= newest {
				continue
			}

			raw, err := rdb.HGet(ctx, jobKey(jobID), "payload").Result()
			if errors.Is(err, redis.Nil) {
				rdb.HDel(ctx, key, jobID)
				continue
			}
			if err != nil {
				log.Warn("failed to read payload", zap.String("job_id", jobID), zap.Error(err))
				continue
			}

			job, err := decodeJob(raw)
			if err != nil {
				_ = MoveToDLQInvalidPayload(ctx, rdb, jobID, raw, err)
				rdb.HDel(ctx, key, jobID)
				log.Warn("dead-lettered undecodable job", zap.String("job_id", jobID), zap.Error(err))
				if results != nil {
					jobErr := &models.JobError{Kind: models.ErrorKindSerialization, Message: err.Error()}
					if _, ferr := results.MarkFailure(ctx, jobID, "", "", jobErr); ferr != nil {
						log.Error("failed to record failure", zap.String("job_id", jobID), zap.Error(ferr))
					}
				}
				continue
			}

			if err := RequeueJob(ctx, rdb, *job); err != nil {
				log.Error("failed to requeue job", zap.String("job_id", jobID), zap.Error(err))
				continue
			}
			rdb.HDel(ctx, key, jobID)
			recovered++
			log.Info("recovered job from stale worker",
				zap.String("job_id", jobID),
				zap.String("worker_id", workerID),
				zap.String("task", job.Task))
		}

		if n, err := rdb.HLen(ctx, key).Result(); err == nil && n == 0 {
			_ = ForgetWorker(ctx, rdb, workerID)
		}
	}

	return recovered, nil
}
