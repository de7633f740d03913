package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stopro/ai-taskqueue/internal/models"
)

// writeResult applies field updates to result:<id> unless the record already
// holds a terminal status. ARGV[1] is the TTL in seconds, the rest are
// field/value pairs; empty values leave the stored field alone. Returns 1
// when written, 0 when the record is terminal.
var writeResult = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if cur == 'SUCCESS' or cur == 'FAILURE' then
  return 0
end
for i = 2, #ARGV, 2 do
  if ARGV[i + 1] ~= '' then
    redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
  end
end
local ttl = tonumber(ARGV[1])
if ttl > 0 then
  redis.call('EXPIRE', KEYS[1], ttl)
end
return 1
`)

// ResultStore maps job ids to their current status and outcome.
type ResultStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewResultStore returns a store whose records expire ttl after their last
// write. A zero ttl keeps records forever.
func NewResultStore(rdb *redis.Client, ttl time.Duration) *ResultStore {
	return &ResultStore{rdb: rdb, ttl: ttl}
}

func (s *ResultStore) Client() *redis.Client { return s.rdb }

func (s *ResultStore) MarkPending(ctx context.Context, jobID, task string) error {
	_, err := s.write(ctx, jobID,
		"status", string(models.StatusPending),
		"task", task,
		"created_at", nowUTC(),
	)
	return err
}

// MarkStarted reports false when the job already reached a terminal status,
// which happens when the broker redelivers a finished job.
func (s *ResultStore) MarkStarted(ctx context.Context, jobID, task, workerID string) (bool, error) {
	return s.write(ctx, jobID,
		"status", string(models.StatusStarted),
		"task", task,
		"worker_id", workerID,
		"started_at", nowUTC(),
	)
}

func (s *ResultStore) MarkSuccess(ctx context.Context, jobID, task, workerID string, result json.RawMessage) (bool, error) {
	return s.write(ctx, jobID,
		"status", string(models.StatusSuccess),
		"task", task,
		"worker_id", workerID,
		"result", string(result),
		"date_done", nowUTC(),
	)
}

func (s *ResultStore) MarkFailure(ctx context.Context, jobID, task, workerID string, jobErr *models.JobError) (bool, error) {
	return s.write(ctx, jobID,
		"status", string(models.StatusFailure),
		"task", task,
		"worker_id", workerID,
		"error_kind", string(jobErr.Kind),
		"error_message", jobErr.Message,
		"date_done", nowUTC(),
	)
}

// Get returns the job's current record. Ids the store has never seen (or
// whose record expired) report PENDING.
func (s *ResultStore) Get(ctx context.Context, jobID string) (*models.Result, error) {
	data, err := s.rdb.HGetAll(ctx, resultKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read result %s: %w", jobID, err)
	}

	res := &models.Result{JobID: jobID, Status: models.StatusPending}
	if len(data) == 0 {
		return res, nil
	}

	res.Task = data["task"]
	res.WorkerID = data["worker_id"]
	if st := data["status"]; st != "" {
		res.Status = models.Status(st)
	}
	if raw := data["result"]; raw != "" {
		res.Result = json.RawMessage(raw)
	}
	if kind := data["error_kind"]; kind != "" {
		res.Error = &models.JobError{Kind: models.ErrorKind(kind), Message: data["error_message"]}
	}
	if done := data["date_done"]; done != "" {
		if t, err := time.Parse(time.RFC3339Nano, done); err == nil {
			res.DateDone = &t
		}
	}
	return res, nil
}

func (s *ResultStore) write(ctx context.Context, jobID string, fields ...string) (bool, error) {
	ttl := int64(0)
	if s.ttl > 0 {
		ttl = max(int64(s.ttl/time.Second), 1)
	}

	args := make([]interface{}, 0, len(fields)+1)
	args = append(args, ttl)
	for _, f := range fields {
		args = append(args, f)
	}

	n, err := writeResult.Run(ctx, s.rdb, []string{resultKey(jobID)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("failed to write result %s: %w", jobID, err)
	}
	return n == 1, nil
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
