// Command api serves the upload and status endpoints backed by Postgres,
// MinIO and the asynq queue.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dharsanguruparan/catscan/internal/api"
	"github.com/dharsanguruparan/catscan/internal/config"
	"github.com/dharsanguruparan/catscan/internal/database"
	"github.com/dharsanguruparan/catscan/internal/logging"
	"github.com/dharsanguruparan/catscan/internal/metrics"
	"github.com/dharsanguruparan/catscan/internal/queue"
	"github.com/dharsanguruparan/catscan/internal/repository"
	"github.com/dharsanguruparan/catscan/internal/s3storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.Error("ensure schema", "error", err)
		os.Exit(1)
	}
	repo := repository.NewScanRepository(pool)

	store, err := s3storage.New(cfg)
	if err != nil {
		logger.Error("init storage", "error", err)
		os.Exit(1)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		logger.Error("ensure bucket", "error", err)
		os.Exit(1)
	}

	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()
	publisher := queue.NewPublisher(client, queue.PublisherOptions{
		MaxRetry: cfg.TaskMaxRetry,
		Timeout:  cfg.TaskTimeout,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	scanMetrics, err := metrics.NewScanMetrics(registry)
	if err != nil {
		logger.Error("register metrics", "error", err)
		os.Exit(1)
	}

	srv := api.New(cfg, api.Deps{
		Records:  repo,
		Objects:  store,
		Queue:    publisher,
		Metrics:  scanMetrics,
		Gatherer: registry,
		Logger:   logger,
	})
	if err := srv.Run(ctx); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}
