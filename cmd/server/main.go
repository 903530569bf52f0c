// Command server runs CatScan as a single process: in-memory records and
// objects, signed local upload URLs and an in-process detection pool.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dharsanguruparan/catscan/internal/api"
	"github.com/dharsanguruparan/catscan/internal/blobstore"
	"github.com/dharsanguruparan/catscan/internal/config"
	"github.com/dharsanguruparan/catscan/internal/detection"
	"github.com/dharsanguruparan/catscan/internal/logging"
	"github.com/dharsanguruparan/catscan/internal/metrics"
	"github.com/dharsanguruparan/catscan/internal/model"
	"github.com/dharsanguruparan/catscan/internal/processing"
	"github.com/dharsanguruparan/catscan/internal/signing"
	"github.com/dharsanguruparan/catscan/internal/storage"
	"github.com/dharsanguruparan/catscan/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	detector, err := detection.NewVisionDetector(ctx, detection.VisionConfig{
		CredentialsFile: cfg.VisionCredentialsFile,
		Endpoint:        cfg.VisionEndpoint,
		MaxLabels:       cfg.MaxLabels,
		MinConfidence:   cfg.MinConfidence,
	})
	if err != nil {
		logger.Error("init label detector", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	scanMetrics, err := metrics.NewScanMetrics(registry)
	if err != nil {
		logger.Error("register metrics", "error", err)
		os.Exit(1)
	}

	records := storage.NewMemoryStore()
	objects := blobstore.NewMemory(signing.NewSigner(cfg.SigningSecret), cfg.PublicBaseURL)
	processor := worker.NewProcessor(records, objects, detector, scanMetrics, logger)
	pool := processing.New(processor.Process, processing.Options{
		Workers:     cfg.Workers,
		MaxAttempts: cfg.TaskMaxRetry + 1,
		RetryDelay:  time.Second,
		Timeout:     cfg.TaskTimeout,
		Retryable:   worker.Retryable,
	}, logger)
	pool.Start(ctx)
	bridge := worker.NewBridge(pool, records, logger)
	objects.Watch(model.UploadPrefix, bridge.Trigger)
	go bridge.RunSweeper(ctx, objects, cfg.SweepInterval)

	srv := api.New(cfg, api.Deps{
		Records:  records,
		Objects:  objects,
		Queue:    pool,
		Metrics:  scanMetrics,
		Gatherer: registry,
		Logger:   logger,
	})
	err = srv.Run(ctx)
	stop()
	pool.Wait()
	if err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
