package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/launchthat/openclaw-connector/agent/internal/metrics"
	"github.com/launchthat/openclaw-connector/pkg/types"
)

// Queue is an ordered, append-only sequence of validated events mirrored to
// a Store after every mutation. It is safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	events   []types.Event
	store    Store
	restored bool
}

// New creates an empty Queue persisting to store.
func New(store Store) *Queue {
	if store == nil {
		store = NopStore{}
	}
	return &Queue{store: store}
}

// Restore replaces the in-memory contents with the persisted snapshot and
// returns the number of events loaded. Only the first call has any effect.
//
// Any load failure (missing file, unreadable file, invalid record) leaves the
// queue empty. The failure is logged, never returned: startup must not block
// on a corrupt snapshot.
func (q *Queue) Restore(ctx context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.restored {
		slog.Warn("queue: restore called more than once, ignoring")
		return len(q.events)
	}
	q.restored = true

	events, err := q.store.Load(ctx)
	if err != nil {
		slog.Info("queue: no usable snapshot, starting empty", "err", err)
		events = nil
	}
	q.events = events
	metrics.QueueDepth.Set(float64(len(q.events)))

	if len(q.events) > 0 {
		slog.Info("queue: restored snapshot", "events", len(q.events))
	}
	return len(q.events)
}

// Enqueue appends ev to the tail and persists the queue before returning.
//
// ev must already be validated. On a persistence failure the event stays
// queued in memory (it is written with the next successful Save) and the
// *PersistenceError is returned.
func (q *Queue) Enqueue(ctx context.Context, ev types.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append(q.events, ev)
	metrics.QueueDepth.Set(float64(len(q.events)))
	return q.saveLocked(ctx)
}

// PeekBatch returns a copy of up to n events from the front without removing
// them.
func (q *Queue) PeekBatch(n int) []types.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.events) {
		n = len(q.events)
	}
	if n <= 0 {
		return nil
	}
	out := make([]types.Event, n)
	copy(out, q.events[:n])
	return out
}

// RemoveFront drops exactly n events from the front and persists the result.
// Callers remove only events the peer has acknowledged.
func (q *Queue) RemoveFront(ctx context.Context, n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n < 0 || n > len(q.events) {
		return fmt.Errorf("queue: remove %d events from queue of %d", n, len(q.events))
	}
	// Copy the tail so the removed prefix can be garbage collected.
	rest := make([]types.Event, len(q.events)-n)
	copy(rest, q.events[n:])
	q.events = rest
	metrics.QueueDepth.Set(float64(len(q.events)))
	return q.saveLocked(ctx)
}

// Snapshot returns a copy of the queue contents in order.
func (q *Queue) Snapshot() []types.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]types.Event, len(q.events))
	copy(out, q.events)
	return out
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Persist writes the current contents to the store.
func (q *Queue) Persist(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.saveLocked(ctx)
}

// Close releases the underlying store.
func (q *Queue) Close() error {
	return q.store.Close()
}

// saveLocked must be called with q.mu held so disk order matches memory.
func (q *Queue) saveLocked(ctx context.Context) error {
	if err := q.store.Save(ctx, q.events); err != nil {
		metrics.PersistErrors.Inc()
		return err
	}
	return nil
}
