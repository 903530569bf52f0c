package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/catscan/internal/blobstore"
	"github.com/dharsanguruparan/catscan/internal/logging"
	"github.com/dharsanguruparan/catscan/internal/model"
	"github.com/dharsanguruparan/catscan/internal/queue"
	"github.com/dharsanguruparan/catscan/internal/signing"
	"github.com/dharsanguruparan/catscan/internal/storage"
)

type fakeDetector struct {
	labels []model.Label
	err    error
	calls  atomic.Int32
}

func (f *fakeDetector) DetectLabels(_ context.Context, image []byte) ([]model.Label, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.labels, nil
}

// flakyRecords fails Finish calls with the configured error.
type flakyRecords struct {
	*storage.MemoryStore
	finishErr error
}

func (f *flakyRecords) Finish(ctx context.Context, id string, outcome model.Outcome) error {
	if f.finishErr != nil {
		return f.finishErr
	}
	return f.MemoryStore.Finish(ctx, id, outcome)
}

type fixture struct {
	records *storage.MemoryStore
	images  *blobstore.Memory
	payload queue.DetectPayload
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	records := storage.NewMemoryStore()
	images := blobstore.NewMemory(signing.NewSigner([]byte("s")), "")
	id := "5f1c6c1e-5a53-4c1e-9b0e-2a0d4b8f2c11"
	key := "images/" + id + ".png"
	require.NoError(t, images.PutImage(ctx, key, []byte("\x89PNG\r\n\x1a\n"), "image/png"))
	require.NoError(t, records.Create(ctx, model.NewScan(id, key, "image/png", "", time.Now())))
	return fixture{records: records, images: images, payload: queue.DetectPayload{ScanID: id, ImageRef: key}}
}

func TestProcessCompletesScan(t *testing.T) {
	f := newFixture(t)
	det := &fakeDetector{labels: []model.Label{{Name: "Cat", Confidence: 95.5}, {Name: "Animal", Confidence: 99.0}}}
	p := NewProcessor(f.records, f.images, det, nil, logging.NewNop())

	require.NoError(t, p.Process(context.Background(), f.payload))

	scan, err := f.records.Get(context.Background(), f.payload.ScanID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, scan.Status)
	require.NotNil(t, scan.Result)
	assert.True(t, scan.Result.CatsFound)
	assert.Equal(t, 1, scan.Result.CatCount)
	assert.InDelta(t, 95.5, scan.Result.HighestConfidence, 0.0001)
	assert.Len(t, scan.Result.Labels, 2)
}

func TestProcessWithoutCat(t *testing.T) {
	f := newFixture(t)
	det := &fakeDetector{labels: []model.Label{{Name: "Dog", Confidence: 97}, {Name: "Cattle", Confidence: 91}}}
	p := NewProcessor(f.records, f.images, det, nil, logging.NewNop())

	require.NoError(t, p.Process(context.Background(), f.payload))
	scan, err := f.records.Get(context.Background(), f.payload.ScanID)
	require.NoError(t, err)
	require.NotNil(t, scan.Result)
	assert.False(t, scan.Result.CatsFound)
	assert.Zero(t, scan.Result.CatCount)
	assert.Zero(t, scan.Result.HighestConfidence)
}

func TestProcessIsIdempotent(t *testing.T) {
	f := newFixture(t)
	det := &fakeDetector{labels: []model.Label{{Name: "Kitten", Confidence: 88}}}
	p := NewProcessor(f.records, f.images, det, nil, logging.NewNop())
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, f.payload))
	first, err := f.records.Get(ctx, f.payload.ScanID)
	require.NoError(t, err)

	require.NoError(t, p.Process(ctx, f.payload))
	second, err := f.records.Get(ctx, f.payload.ScanID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), det.calls.Load(), "terminal scans are not re-detected")
}

func TestProcessConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	det := &fakeDetector{labels: []model.Label{{Name: "Bobcat", Confidence: 77.7}}}
	p := NewProcessor(f.records, f.images, det, nil, logging.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Process(context.Background(), f.payload))
		}()
	}
	wg.Wait()

	scan, err := f.records.Get(context.Background(), f.payload.ScanID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, scan.Status)
	assert.Equal(t, 1, scan.Result.CatCount)
	assert.InDelta(t, 77.7, scan.Result.HighestConfidence, 0.0001)
}

func TestProcessDetectorFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	det := &fakeDetector{err: errors.New("vision quota exceeded")}
	p := NewProcessor(f.records, f.images, det, nil, logging.NewNop())

	err := p.Process(context.Background(), f.payload)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScanFailed)
	assert.False(t, Retryable(err))

	scan, gerr := f.records.Get(context.Background(), f.payload.ScanID)
	require.NoError(t, gerr)
	assert.Equal(t, model.StatusFailed, scan.Status)
	assert.Contains(t, scan.ErrorMessage, "vision quota exceeded")
	assert.Nil(t, scan.Result)
}

func TestProcessMissingImageMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := "0b7e8d3a-41f2-4c4d-8d55-5b9a7d1d0c22"
	require.NoError(t, f.records.Create(ctx, model.NewScan(id, "images/"+id+".png", "image/png", "", time.Now())))
	p := NewProcessor(f.records, f.images, &fakeDetector{}, nil, logging.NewNop())

	err := p.Process(ctx, queue.DetectPayload{ScanID: id, ImageRef: "images/" + id + ".png"})
	assert.ErrorIs(t, err, ErrScanFailed)
	scan, gerr := f.records.Get(ctx, id)
	require.NoError(t, gerr)
	assert.Equal(t, model.StatusFailed, scan.Status)
	assert.Contains(t, scan.ErrorMessage, "load image")
}

func TestProcessUnrecordableFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	records := &flakyRecords{MemoryStore: f.records, finishErr: errors.New("connection reset")}
	p := NewProcessor(records, f.images, &fakeDetector{labels: []model.Label{{Name: "Cat", Confidence: 90}}}, nil, logging.NewNop())

	err := p.Process(context.Background(), f.payload)
	require.Error(t, err)
	assert.True(t, Retryable(err))

	scan, gerr := f.records.Get(context.Background(), f.payload.ScanID)
	require.NoError(t, gerr)
	assert.Equal(t, model.StatusProcessing, scan.Status)

	// The redelivery succeeds once the store recovers.
	records.finishErr = nil
	require.NoError(t, p.Process(context.Background(), f.payload))
	scan, gerr = f.records.Get(context.Background(), f.payload.ScanID)
	require.NoError(t, gerr)
	assert.Equal(t, model.StatusCompleted, scan.Status)
}

func TestProcessUnknownScan(t *testing.T) {
	f := newFixture(t)
	p := NewProcessor(f.records, f.images, &fakeDetector{}, nil, logging.NewNop())
	err := p.Process(context.Background(), queue.DetectPayload{ScanID: "nope", ImageRef: "images/nope.png"})
	assert.ErrorIs(t, err, ErrUnknownScan)
	assert.False(t, Retryable(err))
}

func TestHandleDetectSkipsRetryForHandledFailures(t *testing.T) {
	f := newFixture(t)
	p := NewProcessor(f.records, f.images, &fakeDetector{err: errors.New("boom")}, nil, logging.NewNop())

	err := p.handleDetect(context.Background(), asynq.NewTask(queue.DetectScanTask, []byte(`{"scan_id":"x"}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	payload := []byte(`{"scan_id":"` + f.payload.ScanID + `","image_ref":"` + f.payload.ImageRef + `"}`)
	err = p.handleDetect(context.Background(), asynq.NewTask(queue.DetectScanTask, payload))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, ErrScanFailed)
}

func TestProcessFailsWhenBytesDoNotMatchDeclaredType(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := "7d2c9b2f-1a3e-4e4a-8e9f-4c7d3b2a1f22"
	key := model.UploadPrefix + id + ".png"
	require.NoError(t, f.images.PutImage(ctx, key, []byte("GIF89a\x01\x00\x01\x00"), "image/png"))
	require.NoError(t, f.records.Create(ctx, model.NewScan(id, key, "image/png", "", time.Now())))
	det := &fakeDetector{labels: []model.Label{{Name: "Cat", Confidence: 99}}}
	p := NewProcessor(f.records, f.images, det, nil, logging.NewNop())

	err := p.Process(ctx, queue.DetectPayload{ScanID: id, ImageRef: key})
	assert.ErrorIs(t, err, ErrScanFailed)
	assert.Zero(t, det.calls.Load(), "detector must not see the object")

	scan, gerr := f.records.Get(ctx, id)
	require.NoError(t, gerr)
	assert.Equal(t, model.StatusFailed, scan.Status)
	assert.Contains(t, scan.ErrorMessage, "does not match declared type")
}
