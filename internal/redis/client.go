package redisq

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewClient opens a client for a redis:// or rediss:// URL.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url %q: %w", url, err)
	}
	return redis.NewClient(opts), nil
}

// Redis keys used by the broker:
// - job:<id> (hash)          payload + state while the job is queued or running
// - queue:<name> (zset)      score=priority/FIFO, member=job_id
// - running:<worker> (hash)  job_id -> claimed_at_unix
// - heartbeat:<worker>       unix seconds, expires after the heartbeat TTL
// - dlq:failed (zset)        score=failed_at_unix, member=job_id
// - dlq:job:<id> (hash)      failure metadata
// - metrics:<worker> (hash)  latency EMA + jobs done
// - workers:latency (zset)   score=avg latency ms, member=worker_id
//
// The result store uses result:<id> (hash), see results.go.

const (
	dlqFailedKey      = "dlq:failed"
	workersLatencyKey = "workers:latency"
	controlChannel    = "control:ping"
)

func jobKey(id string) string           { return "job:" + id }
func queueKey(name string) string       { return "queue:" + name }
func runningKey(workerID string) string { return "running:" + workerID }
func heartbeatKey(workerID string) string {
	return "heartbeat:" + workerID
}
func dlqJobKey(id string) string        { return "dlq:job:" + id }
func metricsKey(workerID string) string { return "metrics:" + workerID }
func resultKey(id string) string        { return "result:" + id }
func replyChannel(id string) string     { return "control:reply:" + id }
