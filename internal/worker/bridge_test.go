package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/catscan/internal/blobstore"
	"github.com/dharsanguruparan/catscan/internal/logging"
	"github.com/dharsanguruparan/catscan/internal/model"
	"github.com/dharsanguruparan/catscan/internal/queue"
	"github.com/dharsanguruparan/catscan/internal/signing"
	"github.com/dharsanguruparan/catscan/internal/storage"
)

type sliceQueue []queue.DetectPayload

func (s *sliceQueue) Enqueue(_ context.Context, p queue.DetectPayload) error {
	*s = append(*s, p)
	return nil
}

type failingQueue struct{ calls int }

func (f *failingQueue) Enqueue(context.Context, queue.DetectPayload) error {
	f.calls++
	return errors.New("redis unavailable")
}

func newTestBridge(q Enqueuer, records BridgeRecords) *Bridge {
	b := NewBridge(q, records, logging.NewNop())
	b.Backoff = time.Millisecond
	return b
}

func TestBridgeTrigger(t *testing.T) {
	var q sliceQueue
	bridge := newTestBridge(&q, storage.NewMemoryStore())

	bridge.Trigger(context.Background(), "uploads/5F1C6C1E-5A53-4C1E-9B0E-2A0D4B8F2C11.png")
	bridge.Trigger(context.Background(), "uploads/readme.txt")

	assert.Equal(t, sliceQueue{{
		ScanID:   "5f1c6c1e-5a53-4c1e-9b0e-2a0d4b8f2c11",
		ImageRef: "uploads/5F1C6C1E-5A53-4C1E-9B0E-2A0D4B8F2C11.png",
	}}, q)
}

func TestBridgeTriggerFailsScanWhenQueueIsDown(t *testing.T) {
	ctx := context.Background()
	records := storage.NewMemoryStore()
	id := "5f1c6c1e-5a53-4c1e-9b0e-2a0d4b8f2c11"
	key := "uploads/" + id + ".png"
	require.NoError(t, records.Create(ctx, model.NewScan(id, key, "image/png", "u1", time.Now())))

	q := &failingQueue{}
	newTestBridge(q, records).Trigger(ctx, key)

	assert.Equal(t, defaultEnqueueAttempts, q.calls)
	scan, err := records.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, scan.Status)
	assert.Equal(t, queue.EnqueueFailedMessage, scan.ErrorMessage)
}

func TestBridgeTriggerLeavesFinishedScanAlone(t *testing.T) {
	ctx := context.Background()
	records := storage.NewMemoryStore()
	id := "5f1c6c1e-5a53-4c1e-9b0e-2a0d4b8f2c11"
	key := "uploads/" + id + ".png"
	require.NoError(t, records.Create(ctx, model.NewScan(id, key, "image/png", "u1", time.Now())))
	require.NoError(t, records.MarkProcessing(ctx, id))
	require.NoError(t, records.Finish(ctx, id, model.Completed{Result: model.Result{CatLabels: []model.Label{}, Labels: []model.Label{}}}))

	newTestBridge(&failingQueue{}, records).Trigger(ctx, key)

	scan, err := records.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, scan.Status)
}

func TestBridgeSweepQueuesPendingUploads(t *testing.T) {
	ctx := context.Background()
	records := storage.NewMemoryStore()
	objects := blobstore.NewMemory(signing.NewSigner([]byte("s")), "")

	pending := "5f1c6c1e-5a53-4c1e-9b0e-2a0d4b8f2c11"
	processing := "6c1b8a1e-0f2d-4d39-9d8e-3b6c2a1f0e11"
	orphan := "7d2c9b2f-1a3e-4e4a-8e9f-4c7d3b2a1f22"
	for _, id := range []string{pending, processing} {
		key := "uploads/" + id + ".png"
		require.NoError(t, records.Create(ctx, model.NewScan(id, key, "image/png", "u1", time.Now())))
		require.NoError(t, objects.PutImage(ctx, key, []byte{1}, "image/png"))
	}
	require.NoError(t, records.MarkProcessing(ctx, processing))
	require.NoError(t, objects.PutImage(ctx, "uploads/"+orphan+".png", []byte{1}, "image/png"))
	require.NoError(t, objects.PutImage(ctx, "images/"+pending+".png", []byte{1}, "image/png"))

	var q sliceQueue
	n, err := newTestBridge(&q, records).Sweep(ctx, objects)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, sliceQueue{{ScanID: pending, ImageRef: "uploads/" + pending + ".png"}}, q)
}
