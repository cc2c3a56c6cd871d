// Package flush drains the durable queue to the ingestion API.
//
// Engine.Flush sends the queue front-to-back in batches of at most
// BatchSize events. A batch is removed from the queue only after the peer
// acknowledged it; when the retry policy is exhausted the batch stays at the
// front and the error is returned, so the next trigger resumes from the same
// point. At most one flush runs at a time: a call that finds another flush in
// progress returns nil immediately without waiting.
package flush

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/launchthat/openclaw-connector/agent/internal/delivery"
	"github.com/launchthat/openclaw-connector/agent/internal/metrics"
	"github.com/launchthat/openclaw-connector/pkg/types"
)

// BatchSize is the maximum number of events per ingest request.
const BatchSize = 100

// Queue is the subset of *queue.Queue the engine needs.
type Queue interface {
	Len() int
	PeekBatch(n int) []types.Event
	RemoveFront(ctx context.Context, n int) error
}

// Sender performs a single ingest attempt.
type Sender interface {
	SendBatch(ctx context.Context, events []types.Event) error
}

// Engine is the single-flight flush loop.
type Engine struct {
	queue  Queue
	sender Sender
	policy delivery.Policy

	sem      *semaphore.Weighted
	flushing atomic.Bool

	lastSuccess atomic.Int64 // unix millis of the last acknowledged batch

	shutdownOnce sync.Once
	idle         chan struct{}
}

// New creates an Engine.
func New(q Queue, s Sender, policy delivery.Policy) *Engine {
	return &Engine{
		queue:  q,
		sender: s,
		policy: policy,
		sem:    semaphore.NewWeighted(1),
	}
}

// InProgress reports whether a flush is currently running.
func (e *Engine) InProgress() bool {
	return e.flushing.Load()
}

// LastSuccess returns the time of the last acknowledged batch, or the zero
// time if none.
func (e *Engine) LastSuccess() time.Time {
	ms := e.lastSuccess.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Shutdown stops the engine: it takes the flush permit and never releases
// it, so later Flush calls return nil without sending. The returned channel
// is closed once no flush is running; it is already closed when the engine
// was idle. Shutdown does not wait.
func (e *Engine) Shutdown() <-chan struct{} {
	e.shutdownOnce.Do(func() {
		e.idle = make(chan struct{})
		if e.sem.TryAcquire(1) {
			close(e.idle)
			return
		}
		go func() {
			_ = e.sem.Acquire(context.Background(), 1)
			close(e.idle)
		}()
	})
	return e.idle
}

// Flush drains the queue. It returns nil when the queue is empty or another
// flush holds the permit, and the send or persistence error that stopped the
// loop otherwise.
func (e *Engine) Flush(ctx context.Context) error {
	if e.queue.Len() == 0 {
		return nil
	}
	if !e.sem.TryAcquire(1) {
		slog.Debug("flush: already in progress, skipping")
		return nil
	}
	e.flushing.Store(true)
	defer func() {
		e.flushing.Store(false)
		e.sem.Release(1)
	}()

	start := time.Now()
	defer func() { metrics.FlushDuration.Observe(time.Since(start).Seconds()) }()

	for e.queue.Len() > 0 {
		batch := e.queue.PeekBatch(BatchSize)
		if len(batch) == 0 {
			return nil
		}

		err := e.policy.Do(ctx, metrics.OpIngest, func(ctx context.Context) error {
			return e.sender.SendBatch(ctx, batch)
		})
		if err != nil {
			metrics.FlushFailures.Inc()
			slog.Error("flush: batch not delivered, leaving it queued",
				"batch_size", len(batch),
				"first_event", batch[0].EventID,
				"queue_depth", e.queue.Len(),
				"err", err)
			return err
		}

		if err := e.queue.RemoveFront(ctx, len(batch)); err != nil {
			return fmt.Errorf("flush: remove delivered batch: %w", err)
		}
		e.lastSuccess.Store(time.Now().UnixMilli())
		metrics.BatchesDelivered.Inc()
		metrics.EventsDelivered.Add(float64(len(batch)))
		slog.Info("flush: batch delivered",
			"batch_size", len(batch),
			"queue_depth", e.queue.Len())
	}
	return nil
}
