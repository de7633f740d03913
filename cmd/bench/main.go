package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stopro/ai-taskqueue/internal/config"
	"github.com/stopro/ai-taskqueue/internal/dispatch"
	"github.com/stopro/ai-taskqueue/internal/models"
	"github.com/stopro/ai-taskqueue/internal/observability"
	redisq "github.com/stopro/ai-taskqueue/internal/redis"
	"github.com/stopro/ai-taskqueue/internal/tasks"
)

type benchConfig struct {
	configPath  string
	task        string
	jobs        int
	concurrency int
	imageBytes  int
	unknown     bool
}

func main() {
	bc := parseFlags()
	ctx := context.Background()

	cfg, err := config.Load(bc.configPath)
	if err != nil {
		panic(err)
	}
	log, err := observability.NewLogger(cfg.Log, "bench")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	broker, err := redisq.NewClient(cfg.BrokerURL)
	if err != nil {
		log.Fatal("invalid broker url", zap.Error(err))
	}
	backend, err := redisq.NewClient(cfg.ResultBackend)
	if err != nil {
		log.Fatal("invalid result backend url", zap.Error(err))
	}
	if err := broker.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	d := dispatch.New(cfg, broker, redisq.NewResultStore(backend, cfg.ResultExpires), log)
	workers := d.Workers(ctx)
	if len(workers) == 0 {
		log.Warn("no worker answered the liveness ping; jobs will wait in the queue")
	}
	for _, w := range workers {
		log.Info("worker online", zap.String("name", w.Name), zap.String("worker_id", w.WorkerID))
	}

	log.Info("starting benchmark",
		zap.String("task", bc.task),
		zap.Int("jobs", bc.jobs),
		zap.Int("concurrency", bc.concurrency))

	start := time.Now()
	jobIDs := enqueueJobs(ctx, d, bc, log)
	info := waitForDrain(ctx, d, jobIDs, log)

	log.Info("benchmark complete",
		zap.Duration("duration", time.Since(start)),
		zap.Int("succeeded", info.succeeded),
		zap.Int("failed", info.failed))
}

func parseFlags() benchConfig {
	bc := benchConfig{}
	flag.StringVar(&bc.configPath, "config", "", "path to YAML config file")
	flag.StringVar(&bc.task, "task", envOr("BENCH_TASK", tasks.CheckMathAnswer.String()), "check_math_answer|process_solution_image")
	flag.IntVar(&bc.jobs, "jobs", envInt("BENCH_JOBS", 100), "number of jobs")
	flag.IntVar(&bc.concurrency, "concurrency", envInt("BENCH_CONCURRENCY", 10), "submitting goroutines")
	flag.IntVar(&bc.imageBytes, "image-bytes", envInt("BENCH_IMAGE_BYTES", 1024), "image size for process_solution_image")
	flag.BoolVar(&bc.unknown, "unknown", envBool("BENCH_UNKNOWN", false), "submit an unregistered task name instead")
	flag.Parse()

	if bc.unknown {
		bc.task = "bench_unknown_task"
	}
	return bc
}

func enqueueJobs(ctx context.Context, d *dispatch.Dispatcher, bc benchConfig, log *zap.Logger) []string {
	jobIDs := make([]string, bc.jobs)
	workCh := make(chan int)
	wg := sync.WaitGroup{}
	wg.Add(bc.concurrency)

	image := []byte(strings.Repeat("x", bc.imageBytes))

	for i := 0; i < bc.concurrency; i++ {
		go func() {
			defer wg.Done()
			for idx := range workCh {
				var args []any
				switch bc.task {
				case tasks.ProcessSolutionImage.String():
					args = []any{image}
				default:
					answer := "x=" + strconv.Itoa(idx%7)
					args = []any{answer, "x=3"}
				}
				id, err := d.Submit(ctx, bc.task, args...)
				if err != nil {
					log.Warn("submit failed", zap.Error(err))
					continue
				}
				jobIDs[idx] = id
			}
		}()
	}

	for i := 0; i < bc.jobs; i++ {
		workCh <- i
	}
	close(workCh)
	wg.Wait()

	return jobIDs
}

type drainInfo struct {
	pending   int
	started   int
	succeeded int
	failed    int
}

func waitForDrain(ctx context.Context, d *dispatch.Dispatcher, jobIDs []string, log *zap.Logger) drainInfo {
	target := map[string]struct{}{}
	for _, id := range jobIDs {
		if id != "" {
			target[id] = struct{}{}
		}
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var total drainInfo
	for range ticker.C {
		info := pendingJobs(ctx, d, target)
		total.succeeded += info.succeeded
		total.failed += info.failed
		log.Info("progress",
			zap.Int("remaining", len(target)),
			zap.Int("pending", info.pending),
			zap.Int("started", info.started),
			zap.Int("succeeded", total.succeeded),
			zap.Int("failed", total.failed))
		if len(target) == 0 {
			return total
		}
	}
	return total
}

// pendingJobs polls every remaining job once and drops finished ones from
// target.
func pendingJobs(ctx context.Context, d *dispatch.Dispatcher, target map[string]struct{}) drainInfo {
	info := drainInfo{}
	for id := range target {
		res, err := d.GetStatus(ctx, id)
		if err != nil {
			continue
		}
		switch res.Status {
		case models.StatusSuccess:
			info.succeeded++
			delete(target, id)
		case models.StatusFailure:
			info.failed++
			delete(target, id)
		case models.StatusStarted:
			info.started++
		default:
			info.pending++
		}
	}
	return info
}

// util helpers
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		var b bool
		if err := json.Unmarshal([]byte(strings.ToLower(v)), &b); err == nil {
			return b
		}
	}
	return def
}
