package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/catscan/internal/detection"
	"github.com/dharsanguruparan/catscan/internal/metrics"
	"github.com/dharsanguruparan/catscan/internal/model"
	"github.com/dharsanguruparan/catscan/internal/queue"
)

var (
	// ErrScanFailed wraps failures that were recorded as a FAILED scan.
	// Redelivering the trigger cannot change the outcome.
	ErrScanFailed = errors.New("scan failed")
	// ErrUnknownScan is returned for triggers naming no record.
	ErrUnknownScan = errors.New("unknown scan")
)

// Retryable reports whether the trigger should be delivered again.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrScanFailed) && !errors.Is(err, ErrUnknownScan)
}

// Records is the subset of the record store used by detection.
type Records interface {
	Get(ctx context.Context, id string) (*model.Scan, error)
	MarkProcessing(ctx context.Context, id string) error
	Finish(ctx context.Context, id string, outcome model.Outcome) error
}

// Images reads stored image bytes.
type Images interface {
	GetImage(ctx context.Context, key string) ([]byte, error)
}

// Processor is the detection handler. It is plugged into the asynq worker
// loop and into the in-process pool used by the standalone server.
type Processor struct {
	repo           Records
	images         Images
	detector       detection.Detector
	metrics        *metrics.ScanMetrics
	logger         *slog.Logger
	failureTimeout time.Duration
}

// NewProcessor constructs a worker processor. m may be nil.
func NewProcessor(repo Records, images Images, detector detection.Detector, m *metrics.ScanMetrics, logger *slog.Logger) *Processor {
	return &Processor{
		repo:           repo,
		images:         images,
		detector:       detector,
		metrics:        m,
		logger:         logger.With("component", "worker"),
		failureTimeout: 10 * time.Second,
	}
}

// Handler registers the detect task handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.DetectScanTask, p.handleDetect)
	return mux
}

func (p *Processor) handleDetect(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseDetectPayload(task.Payload())
	if err != nil {
		p.logger.Error("dropping malformed detect task", "error", err)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if err := p.Process(ctx, payload); err != nil {
		if !Retryable(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

// Process runs detection for one trigger. It returns nil once the record is
// terminal, including when an earlier delivery already finished it. Any
// failure after the record is found ends in a FAILED record; only a failure
// to write that record is returned as retryable.
func (p *Processor) Process(ctx context.Context, payload queue.DetectPayload) error {
	logger := p.logger.With("scan_id", payload.ScanID)

	scan, err := p.repo.Get(ctx, payload.ScanID)
	if errors.Is(err, model.ErrNotFound) {
		logger.Warn("detect trigger for unknown scan")
		return fmt.Errorf("%w: %s", ErrUnknownScan, payload.ScanID)
	}
	if err != nil {
		p.metrics.ObserveDetection(metrics.DetectionRetry)
		return fmt.Errorf("load scan %s: %w", payload.ScanID, err)
	}
	if scan.Status.Terminal() {
		return p.duplicate(logger, scan.Status)
	}
	imageRef := scan.ImageRef
	if payload.ImageRef != imageRef {
		logger.Warn("trigger image_ref differs from record, using record", "trigger_ref", payload.ImageRef, "image_ref", imageRef)
	}

	if err := p.repo.MarkProcessing(ctx, scan.ID); err != nil {
		if errors.Is(err, model.ErrTerminal) {
			return p.duplicate(logger, "")
		}
		return p.fail(ctx, logger, scan.ID, fmt.Errorf("mark processing: %w", err))
	}

	image, err := p.images.GetImage(ctx, imageRef)
	if err != nil {
		return p.fail(ctx, logger, scan.ID, fmt.Errorf("load image: %w", err))
	}
	// Presigned uploads skip the intake byte check, so repeat it here.
	if sniffed := model.NormalizeContentType(http.DetectContentType(image)); sniffed != model.NormalizeContentType(scan.ContentType) {
		return p.fail(ctx, logger, scan.ID, fmt.Errorf("image content %s does not match declared type %s", sniffed, scan.ContentType))
	}

	start := time.Now()
	labels, err := p.detector.DetectLabels(ctx, image)
	p.metrics.ObserveDetectionDuration(time.Since(start).Seconds())
	if err != nil {
		return p.fail(ctx, logger, scan.ID, fmt.Errorf("detect labels: %w", err))
	}

	result := detection.Classify(labels)
	if err := p.repo.Finish(ctx, scan.ID, model.Completed{Result: result}); err != nil {
		if errors.Is(err, model.ErrTerminal) {
			return p.duplicate(logger, "")
		}
		return p.fail(ctx, logger, scan.ID, fmt.Errorf("store result: %w", err))
	}

	p.metrics.ObserveDetection(metrics.DetectionCompleted)
	if result.CatsFound {
		p.metrics.IncrementCatsFound()
	}
	logger.Info("scan completed",
		"cats_found", result.CatsFound,
		"cat_count", result.CatCount,
		"highest_confidence", result.HighestConfidence,
		"labels", len(result.Labels))
	return nil
}

func (p *Processor) duplicate(logger *slog.Logger, status model.Status) error {
	p.metrics.ObserveDetection(metrics.DetectionDuplicate)
	logger.Info("scan already finished, ignoring duplicate trigger", "status", string(status))
	return nil
}

// fail writes the FAILED record. The write uses a context detached from the
// invocation deadline so a timed-out detection still gets recorded.
func (p *Processor) fail(ctx context.Context, logger *slog.Logger, id string, cause error) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.failureTimeout)
	defer cancel()
	err := p.repo.Finish(wctx, id, model.Failed{Message: cause.Error()})
	switch {
	case err == nil:
		p.metrics.ObserveDetection(metrics.DetectionFailed)
		logger.Error("scan failed", "error", cause)
		return fmt.Errorf("%w: %v", ErrScanFailed, cause)
	case errors.Is(err, model.ErrTerminal):
		return p.duplicate(logger, "")
	default:
		p.metrics.ObserveDetection(metrics.DetectionRetry)
		logger.Error("could not record scan failure", "error", err, "cause", cause)
		return fmt.Errorf("record failure for scan %s: %w (cause: %v)", id, err, cause)
	}
}
