package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dharsanguruparan/catscan/internal/model"
	"github.com/dharsanguruparan/catscan/internal/queue"
)

// Enqueuer accepts detect triggers.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload queue.DetectPayload) error
}

// Lister lists stored object keys.
type Lister interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// BridgeRecords is the subset of the record store the bridge consults.
type BridgeRecords interface {
	Get(ctx context.Context, id string) (*model.Scan, error)
	Finish(ctx context.Context, id string, outcome model.Outcome) error
}

const (
	defaultEnqueueAttempts = 3
	defaultEnqueueBackoff  = 200 * time.Millisecond
)

// Bridge turns object-created notifications for presigned uploads into
// detect triggers. A trigger that cannot be queued after a few attempts
// marks its scan FAILED, and Sweep re-queues uploads whose notification
// never arrived.
type Bridge struct {
	queue   Enqueuer
	records BridgeRecords
	logger  *slog.Logger

	Attempts int
	Backoff  time.Duration
}

// NewBridge builds a Bridge with default retry settings.
func NewBridge(q Enqueuer, records BridgeRecords, logger *slog.Logger) *Bridge {
	return &Bridge{
		queue:    q,
		records:  records,
		logger:   logger.With("component", "upload-bridge"),
		Attempts: defaultEnqueueAttempts,
		Backoff:  defaultEnqueueBackoff,
	}
}

// Trigger handles one object-created notification. Keys that do not name a
// scan are ignored.
func (b *Bridge) Trigger(ctx context.Context, key string) {
	id, err := model.ScanIDFromKey(key)
	if err != nil {
		b.logger.Warn("ignoring object outside the scan layout", "key", key, "error", err)
		return
	}
	logger := b.logger.With("scan_id", id, "key", key)
	if err := b.enqueue(ctx, queue.DetectPayload{ScanID: id, ImageRef: key}); err != nil {
		logger.Error("enqueue detection for upload failed", "error", err)
		b.abandon(ctx, id)
		return
	}
	logger.Info("upload queued for detection")
}

func (b *Bridge) enqueue(ctx context.Context, payload queue.DetectPayload) error {
	attempts := b.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := b.Backoff
	var err error
	for i := 1; ; i++ {
		if err = b.queue.Enqueue(ctx, payload); err == nil {
			return nil
		}
		if i >= attempts {
			return err
		}
		b.logger.Warn("enqueue attempt failed, retrying", "scan_id", payload.ScanID, "attempt", i, "error", err)
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// abandon marks a PENDING scan FAILED. A scan that already moved on is left
// alone.
func (b *Bridge) abandon(ctx context.Context, id string) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := b.records.Finish(wctx, id, model.Failed{Message: queue.EnqueueFailedMessage})
	switch {
	case err == nil:
		b.logger.Warn("scan failed, trigger could not be queued", "scan_id", id)
	case errors.Is(err, model.ErrTerminal), errors.Is(err, model.ErrNotFound):
	default:
		b.logger.Error("could not mark unqueued scan failed", "scan_id", id, "error", err)
	}
}

// Sweep queues every upload under model.UploadPrefix whose scan is still
// PENDING. It returns how many triggers were queued.
func (b *Bridge) Sweep(ctx context.Context, objects Lister) (int, error) {
	keys, err := objects.ListKeys(ctx, model.UploadPrefix)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			return queued, ctx.Err()
		}
		id, err := model.ScanIDFromKey(key)
		if err != nil {
			continue
		}
		scan, err := b.records.Get(ctx, id)
		if err != nil {
			if !errors.Is(err, model.ErrNotFound) {
				b.logger.Warn("sweep lookup failed", "scan_id", id, "error", err)
			}
			continue
		}
		if scan.Status != model.StatusPending {
			continue
		}
		b.Trigger(ctx, key)
		queued++
	}
	return queued, nil
}

// RunSweeper sweeps once immediately and then every interval until ctx is
// cancelled.
func (b *Bridge) RunSweeper(ctx context.Context, objects Lister, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := b.Sweep(ctx, objects); err != nil && ctx.Err() == nil {
			b.logger.Warn("upload sweep failed", "error", err)
		} else if n > 0 {
			b.logger.Info("upload sweep queued pending scans", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
