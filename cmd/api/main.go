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

	"github.com/stopro/ai-taskqueue/internal/api"
	"github.com/stopro/ai-taskqueue/internal/config"
	"github.com/stopro/ai-taskqueue/internal/dispatch"
	"github.com/stopro/ai-taskqueue/internal/observability"
	redisq "github.com/stopro/ai-taskqueue/internal/redis"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	log, err := observability.NewLogger(cfg.Log, "api")
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker, err := redisq.NewClient(cfg.BrokerURL)
	if err != nil {
		log.Fatal("invalid broker url", zap.Error(err))
	}
	defer broker.Close()
	backend, err := redisq.NewClient(cfg.ResultBackend)
	if err != nil {
		log.Fatal("invalid result backend url", zap.Error(err))
	}
	defer backend.Close()

	// The broker may come up later; submissions fail with 503 until it does.
	if err := broker.Ping(ctx).Err(); err != nil {
		log.Warn("broker not reachable at startup", zap.Error(err))
	}

	d := dispatch.New(cfg, broker, redisq.NewResultStore(backend, cfg.ResultExpires), log)

	router := api.NewRouter(d, log)
	router.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("http server started", zap.String("addr", cfg.HTTP.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("http server failed", zap.Error(err))
	}
	log.Info("http server stopped")
}
