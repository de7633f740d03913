package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stopro/ai-taskqueue/internal/config"
	"github.com/stopro/ai-taskqueue/internal/observability"
	redisq "github.com/stopro/ai-taskqueue/internal/redis"
)

// The scheduler is the broker's redelivery sweeper: it requeues jobs held by
// dead workers and reports queue depth.
func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	once := flag.Bool("once", false, "run a single recovery pass and exit")
	metricsAddr := flag.String("metrics-addr", ":2114", "address for the /metrics endpoint")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	log, err := observability.NewLogger(cfg.Log, "scheduler")
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := redisq.NewClient(cfg.BrokerURL)
	if err != nil {
		log.Fatal("invalid broker url", zap.Error(err))
	}
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to broker", zap.Error(err))
	}
	log.Info("connected to broker")

	backend, err := redisq.NewClient(cfg.ResultBackend)
	if err != nil {
		log.Fatal("invalid result backend url", zap.Error(err))
	}
	defer backend.Close()
	results := redisq.NewResultStore(backend, cfg.ResultExpires)

	sweep(ctx, rdb, results, cfg, log)
	if *once {
		return
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Info("metrics server started", zap.String("addr", *metricsAddr))
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(cfg.Scheduler.RecoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopping")
			return
		case <-ticker.C:
			sweep(ctx, rdb, results, cfg, log)
		}
	}
}
