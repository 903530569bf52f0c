// Command worker consumes detect tasks from asynq and bridges MinIO
// notifications for presigned uploads into the same queue.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dharsanguruparan/catscan/internal/config"
	"github.com/dharsanguruparan/catscan/internal/database"
	"github.com/dharsanguruparan/catscan/internal/detection"
	"github.com/dharsanguruparan/catscan/internal/logging"
	"github.com/dharsanguruparan/catscan/internal/metrics"
	"github.com/dharsanguruparan/catscan/internal/model"
	"github.com/dharsanguruparan/catscan/internal/queue"
	"github.com/dharsanguruparan/catscan/internal/repository"
	"github.com/dharsanguruparan/catscan/internal/s3storage"
	"github.com/dharsanguruparan/catscan/internal/worker"
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
	fatal := func(msg string, err error) {
		logger.Error(msg, "error", err)
		os.Exit(1)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal("connect database", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		fatal("ensure schema", err)
	}
	repo := repository.NewScanRepository(pool)

	store, err := s3storage.New(cfg)
	if err != nil {
		fatal("init storage", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		fatal("ensure bucket", err)
	}

	detector, err := detection.NewVisionDetector(ctx, detection.VisionConfig{
		CredentialsFile: cfg.VisionCredentialsFile,
		Endpoint:        cfg.VisionEndpoint,
		MaxLabels:       cfg.MaxLabels,
		MinConfidence:   cfg.MinConfidence,
	})
	if err != nil {
		fatal("init label detector", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	scanMetrics, err := metrics.NewScanMetrics(registry)
	if err != nil {
		fatal("register metrics", err)
	}
	go serveMetrics(ctx, cfg.MetricsAddress, registry, logger)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	client := asynq.NewClient(redisOpt)
	defer client.Close()
	publisher := queue.NewPublisher(client, queue.PublisherOptions{
		MaxRetry: cfg.TaskMaxRetry,
		Timeout:  cfg.TaskTimeout,
	})

	bridge := worker.NewBridge(publisher, repo, logger)
	go bridge.RunSweeper(ctx, store, cfg.SweepInterval)
	go func() {
		for ctx.Err() == nil {
			err := store.WatchUploads(ctx, model.UploadPrefix, bridge.Trigger)
			if err == nil {
				return
			}
			logger.Warn("bucket notification stream ended, reconnecting", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
		}
	}()

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Workers,
		Logger:      logging.NewAsynqLogger(logger),
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Warn("detect task attempt failed", "task", task.Type(), "error", err)
		}),
	})
	processor := worker.NewProcessor(repo, store, detector, scanMetrics, logger)
	mux := processor.Handler()

	if err := server.Start(mux); err != nil {
		fatal("start worker", err)
	}
	logger.Info("worker started", "concurrency", cfg.Workers)
	<-ctx.Done()
	server.Shutdown()
}

func serveMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server stopped", "error", err)
	}
}
