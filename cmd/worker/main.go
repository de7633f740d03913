package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stopro/ai-taskqueue/internal/config"
	"github.com/stopro/ai-taskqueue/internal/observability"
	redisq "github.com/stopro/ai-taskqueue/internal/redis"
	"github.com/stopro/ai-taskqueue/internal/tasks"
	"github.com/stopro/ai-taskqueue/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	concurrency := flag.Int("concurrency", 0, "number of worker runtimes (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	if *concurrency > 0 {
		cfg.Worker.Concurrency = *concurrency
	}

	log, err := observability.NewLogger(cfg.Log, "worker")
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("worker exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker, err := redisq.NewClient(cfg.BrokerURL)
	if err != nil {
		return err
	}
	defer broker.Close()
	backend, err := redisq.NewClient(cfg.ResultBackend)
	if err != nil {
		return err
	}
	defer backend.Close()

	if err := broker.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	if err := backend.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to result backend: %w", err)
	}

	results := redisq.NewResultStore(backend, cfg.ResultExpires)
	registry := tasks.Default(tasks.StubOCR{Delay: cfg.Worker.OCRDelay})

	g, ctx := errgroup.WithContext(ctx)

	metricsSrv := &http.Server{Addr: cfg.Worker.MetricsAddr, Handler: promhttp.Handler()}
	g.Go(func() error {
		log.Info("metrics server started", zap.String("addr", cfg.Worker.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	for i := 0; i < cfg.Worker.Concurrency; i++ {
		rt := worker.NewRuntime(cfg, broker, results, registry, log)

		serve, err := worker.NewResponder(rt.Worker, broker, log).Listen(ctx)
		if err != nil {
			return err
		}
		g.Go(serve)
		g.Go(func() error { return rt.Run(ctx) })
	}

	log.Info("waiting for jobs",
		zap.String("queue", cfg.Queue),
		zap.Int("concurrency", cfg.Worker.Concurrency))
	return g.Wait()
}
