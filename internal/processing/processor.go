// Package processing runs detect triggers on an in-process goroutine pool.
// It stands in for the asynq worker when CatScan runs as a single binary.
package processing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dharsanguruparan/catscan/internal/queue"
)

// ErrQueueFull is returned by Enqueue when the buffer has no room.
var ErrQueueFull = errors.New("processing queue full")

// Handler processes one trigger.
type Handler func(ctx context.Context, payload queue.DetectPayload) error

// Options tune the pool.
type Options struct {
	Workers     int
	MaxAttempts int
	RetryDelay  time.Duration
	// Timeout bounds a single attempt. Zero means no limit.
	Timeout time.Duration
	// Retryable decides whether a failed attempt is delivered again.
	Retryable func(error) bool
}

type job struct {
	payload queue.DetectPayload
}

// Pool consumes triggers with a fixed number of workers.
type Pool struct {
	handle Handler
	opts   Options
	queue  chan job
	logger *slog.Logger
	once   sync.Once
	wg     sync.WaitGroup
}

// New builds a Pool with queue capacity tied to worker count.
func New(handle Handler, opts Options, logger *slog.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Retryable == nil {
		opts.Retryable = func(err error) bool { return err != nil }
	}
	return &Pool{
		handle: handle,
		opts:   opts,
		queue:  make(chan job, opts.Workers*16),
		logger: logger.With("component", "processing"),
	}
}

// Start launches worker goroutines. They exit when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.once.Do(func() {
		for i := 0; i < p.opts.Workers; i++ {
			p.wg.Add(1)
			go p.worker(ctx)
		}
	})
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Enqueue queues a trigger without blocking the caller.
func (p *Pool) Enqueue(_ context.Context, payload queue.DetectPayload) error {
	select {
	case p.queue <- job{payload: payload}:
		return nil
	default:
		p.logger.Warn("processing queue full, rejecting trigger", "scan_id", payload.ScanID)
		return ErrQueueFull
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.queue:
			p.process(ctx, j)
		}
	}
}

// process delivers a trigger until it succeeds, becomes non-retryable or
// runs out of attempts.
func (p *Pool) process(ctx context.Context, j job) {
	for attempt := 1; ; attempt++ {
		err := p.attempt(ctx, j.payload)
		if err == nil {
			return
		}
		if !p.opts.Retryable(err) || attempt >= p.opts.MaxAttempts {
			p.logger.Error("trigger abandoned", "scan_id", j.payload.ScanID, "attempt", attempt, "error", err)
			return
		}
		p.logger.Warn("trigger failed, retrying", "scan_id", j.payload.ScanID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.opts.RetryDelay * time.Duration(attempt)):
		}
	}
}

func (p *Pool) attempt(ctx context.Context, payload queue.DetectPayload) error {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}
	return p.handle(ctx, payload)
}
