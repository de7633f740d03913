package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stopro/ai-taskqueue/internal/config"
	"github.com/stopro/ai-taskqueue/internal/metrics"
	redisq "github.com/stopro/ai-taskqueue/internal/redis"
)

func sweep(ctx context.Context, rdb *redis.Client, results *redisq.ResultStore, cfg *config.Config, log *zap.Logger) {
	recovered, err := redisq.RecoverStuckJobs(ctx, rdb, results, cfg.Scheduler.HeartbeatTimeout, log)
	if err != nil {
		log.Error("recovery scan failed", zap.Error(err))
	}
	if recovered > 0 {
		metrics.JobsRecoveredTotal.Add(float64(recovered))
		log.Info("recovery complete", zap.Int("recovered", recovered))
	}

	if dead, err := redisq.ListDLQ(ctx, rdb, 10); err == nil && len(dead) > 0 {
		log.Warn("dead-lettered messages present",
			zap.Int("recent", len(dead)),
			zap.String("latest_job_id", dead[0].JobID),
			zap.String("latest_error", dead[0].ErrorMessage))
	}

	n, err := redisq.QueueLength(ctx, rdb, cfg.Queue)
	if err != nil {
		log.Warn("failed to read queue length", zap.Error(err))
		return
	}
	metrics.QueueLength.WithLabelValues(cfg.Queue).Set(float64(n))

	workers, err := redisq.GetTopWorkers(ctx, rdb, 10)
	if err != nil {
		log.Warn("failed to read worker ranking", zap.Error(err))
		return
	}
	for i, w := range workers {
		log.Debug("worker ranking",
			zap.Int("rank", i+1),
			zap.String("worker_id", w.WorkerID),
			zap.Float64("avg_latency_ms", w.AvgLatencyMs),
			zap.Int64("jobs_done", w.JobsDone))
	}
	log.Info("queue status", zap.String("queue", cfg.Queue), zap.Int64("waiting", n), zap.Int("workers", len(workers)))
}
