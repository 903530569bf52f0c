package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// DetectScanTask is scheduled once per scan, after the image is stored.
	DetectScanTask = "scan:detect"

	// EnqueueFailedMessage is recorded on scans whose trigger could not be
	// queued.
	EnqueueFailedMessage = "failed to queue scan for processing"
)

// DetectPayload is serialized into the task payload so the worker knows which
// record to update and which object to classify.
type DetectPayload struct {
	ScanID   string `json:"scan_id"`
	ImageRef string `json:"image_ref"`
}

// ParseDetectPayload decodes and validates a task payload.
func ParseDetectPayload(data []byte) (DetectPayload, error) {
	var p DetectPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	if p.ScanID == "" || p.ImageRef == "" {
		return p, errors.New("decode payload: scan_id and image_ref are required")
	}
	return p, nil
}

// PublisherOptions tune every enqueued task.
type PublisherOptions struct {
	MaxRetry  int
	Timeout   time.Duration
	Retention time.Duration
}

// Publisher enqueues detect tasks on asynq. The task ID is the scan ID, so a
// second enqueue for the same scan while the first is retained is a no-op.
type Publisher struct {
	client *asynq.Client
	opts   PublisherOptions
}

// NewPublisher wraps an asynq client.
func NewPublisher(client *asynq.Client, opts PublisherOptions) *Publisher {
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	return &Publisher{client: client, opts: opts}
}

// Enqueue schedules detection for one scan.
func (p *Publisher) Enqueue(ctx context.Context, payload DetectPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(DetectScanTask, data)
	opts := []asynq.Option{
		asynq.TaskID(payload.ScanID),
		asynq.MaxRetry(p.opts.MaxRetry),
		asynq.Retention(p.opts.Retention),
	}
	if p.opts.Timeout > 0 {
		opts = append(opts, asynq.Timeout(p.opts.Timeout))
	}
	if _, err := p.client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue detect task: %w", err)
	}
	return nil
}
