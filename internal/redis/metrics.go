package redisq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stopro/ai-taskqueue/internal/models"
)

const emaAlpha = 0.2 // Exponential moving average smoothing factor

// UpdateWorkerMetrics folds executionTime into the worker's latency EMA and
// its position in the workers:latency ranking.
func UpdateWorkerMetrics(
	ctx context.Context,
	rdb *redis.Client,
	worker models.Worker,
	executionTime time.Duration,
) error {

	key := metricsKey(worker.ID)
	currentMs := float64(executionTime.Milliseconds())

	existingAvg, err := rdb.HGet(ctx, key, "avg_latency_ms").Result()
	var newAvg float64

	if errors.Is(err, redis.Nil) {
		// First job → initialize with current execution time
		newAvg = currentMs
	} else if err != nil {
		return fmt.Errorf("failed to get existing metrics: %w", err)
	} else {
		oldAvg, parseErr := strconv.ParseFloat(existingAvg, 64)
		if parseErr != nil {
			newAvg = currentMs
		} else {
			newAvg = emaAlpha*currentMs + (1-emaAlpha)*oldAvg
		}
	}

	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"avg_latency_ms", fmt.Sprintf("%.2f", newAvg),
		"queue", worker.Queue,
		"last_updated", time.Now().Unix(),
	)
	pipe.HIncrBy(ctx, key, "jobs_done", 1)
	// lower latency = better = lower score
	pipe.ZAdd(ctx, workersLatencyKey, redis.Z{
		Score:  newAvg,
		Member: worker.ID,
	})

	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update metrics: %w", err)
	}

	return nil
}

func GetWorkerMetrics(
	ctx context.Context,
	rdb *redis.Client,
	workerID string,
) (*models.WorkerMetrics, error) {

	data, err := rdb.HGetAll(ctx, metricsKey(workerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics: %w", err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("no metrics found for worker %s", workerID)
	}

	avgLatency, _ := strconv.ParseFloat(data["avg_latency_ms"], 64)
	jobsDone, _ := strconv.ParseInt(data["jobs_done"], 10, 64)

	return &models.WorkerMetrics{
		WorkerID:     workerID,
		Queue:        data["queue"],
		AvgLatencyMs: avgLatency,
		JobsDone:     jobsDone,
	}, nil
}

// GetTopWorkers lists workers by ascending average latency.
func GetTopWorkers(
	ctx context.Context,
	rdb *redis.Client,
	limit int64,
) ([]models.WorkerMetrics, error) {

	workers, err := rdb.ZRangeWithScores(ctx, workersLatencyKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get top workers: %w", err)
	}

	result := make([]models.WorkerMetrics, 0, len(workers))

	for _, w := range workers {
		workerID, ok := w.Member.(string)
		if !ok {
			continue
		}
		metrics, err := GetWorkerMetrics(ctx, rdb, workerID)
		if err == nil {
			result = append(result, *metrics)
		}
	}

	return result, nil
}

// ForgetWorker drops a dead worker from the latency ranking.
func ForgetWorker(ctx context.Context, rdb *redis.Client, workerID string) error {
	pipe := rdb.TxPipeline()
	pipe.ZRem(ctx, workersLatencyKey, workerID)
	pipe.Del(ctx, metricsKey(workerID))
	_, err := pipe.Exec(ctx)
	return err
}
