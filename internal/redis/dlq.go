package redisq

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DLQEntry describes a message that could not be decoded.
type DLQEntry struct {
	JobID        string
	FailedAt     time.Time
	ErrorMessage string
	RawPayload   string
}

// MoveToDLQInvalidPayload moves a job to DLQ when its stored payload is not a
// valid JSON job message.
func MoveToDLQInvalidPayload(ctx context.Context, rdb *redis.Client, jobID string, rawPayload string, parseErr error) error {
	now := time.Now()

	errMsg := "invalid job payload"
	if parseErr != nil {
		errMsg = fmt.Sprintf("invalid job payload: %v", parseErr)
	}

	pipe := rdb.TxPipeline()
	pipe.Del(ctx, jobKey(jobID))
	pipe.ZAdd(ctx, dlqFailedKey, redis.Z{Score: float64(now.Unix()), Member: jobID})
	pipe.HSet(ctx, dlqJobKey(jobID), map[string]interface{}{
		"job_id":        jobID,
		"failed_at":     now.Unix(),
		"error_message": errMsg,
		"payload":       rawPayload,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to move invalid payload job to DLQ: %w", err)
	}
	return nil
}

// ListDLQ returns up to limit dead-lettered messages, newest first.
func ListDLQ(ctx context.Context, rdb *redis.Client, limit int64) ([]DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	ids, err := rdb.ZRevRange(ctx, dlqFailedKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list DLQ: %w", err)
	}

	entries := make([]DLQEntry, 0, len(ids))
	for _, id := range ids {
		data, err := rdb.HGetAll(ctx, dlqJobKey(id)).Result()
		if err != nil {
			return entries, fmt.Errorf("failed to read DLQ entry %s: %w", id, err)
		}
		if len(data) == 0 {
			continue
		}
		failedAt, _ := strconv.ParseInt(data["failed_at"], 10, 64)
		entries = append(entries, DLQEntry{
			JobID:        id,
			FailedAt:     time.Unix(failedAt, 0).UTC(),
			ErrorMessage: data["error_message"],
			RawPayload:   data["payload"],
		})
	}
	return entries, nil
}
