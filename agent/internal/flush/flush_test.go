package flush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchthat/openclaw-connector/agent/internal/delivery"
	"github.com/launchthat/openclaw-connector/agent/internal/event"
	"github.com/launchthat/openclaw-connector/agent/internal/queue"
	"github.com/launchthat/openclaw-connector/pkg/types"
)

// fakeSender records batches and fails according to failFn.
type fakeSender struct {
	mu      sync.Mutex
	batches [][]types.Event
	calls   int
	failFn  func(call int) error
}

func (f *fakeSender) SendBatch(_ context.Context, events []types.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFn != nil {
		if err := f.failFn(f.calls); err != nil {
			return err
		}
	}
	f.batches = append(f.batches, events)
	return nil
}

func (f *fakeSender) sizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.batches))
	for i, b := range f.batches {
		out[i] = len(b)
	}
	return out
}

func noSleepPolicy() delivery.Policy {
	p := delivery.DefaultPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func fill(t *testing.T, q *queue.Queue, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		ev, err := event.Normalize(types.Event{
			EventID:    fmt.Sprintf("evt-%03d", i),
			EventType:  types.EventAgentStatusChanged,
			OccurredAt: int64(i),
			Agent:      &types.AgentPayload{AgentID: "a-1", Name: "Ada", Status: types.AgentActive},
		})
		require.NoError(t, err)
		require.NoError(t, q.Enqueue(context.Background(), ev))
	}
}

func serverError() error {
	return &delivery.TransportError{Op: "ingest", StatusCode: http.StatusBadGateway}
}

func TestFlush_250EventsInThreeOrderedBatches(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.json")
	q := queue.New(queue.NewFileStore(path))
	q.Restore(ctx)
	fill(t, q, 250)

	sender := &fakeSender{}
	require.NoError(t, New(q, sender, noSleepPolicy()).Flush(ctx))

	assert.Equal(t, []int{100, 100, 50}, sender.sizes())
	assert.Equal(t, "evt-000", sender.batches[0][0].EventID)
	assert.Equal(t, "evt-100", sender.batches[1][0].EventID)
	assert.Equal(t, "evt-249", sender.batches[2][49].EventID)
	assert.Equal(t, 0, q.Len())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var snap types.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Empty(t, snap.Events)
}

func TestFlush_SucceedsAfterFourFailures(t *testing.T) {
	ctx := context.Background()
	q := queue.New(queue.NopStore{})
	fill(t, q, 3)

	sender := &fakeSender{failFn: func(call int) error {
		if call <= 4 {
			return serverError()
		}
		return nil
	}}
	eng := New(q, sender, noSleepPolicy())
	require.NoError(t, eng.Flush(ctx))

	assert.Equal(t, 5, sender.calls)
	assert.Equal(t, 0, q.Len())
	assert.False(t, eng.LastSuccess().IsZero())
}

func TestFlush_ExhaustedRetriesLeaveBatchQueued(t *testing.T) {
	ctx := context.Background()
	q := queue.New(queue.NopStore{})
	fill(t, q, 3)

	sender := &fakeSender{failFn: func(int) error { return serverError() }}
	eng := New(q, sender, noSleepPolicy())
	err := eng.Flush(ctx)

	var te *delivery.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 5, sender.calls)
	assert.Equal(t, 3, q.Len())
	assert.False(t, eng.InProgress(), "flag must be cleared on failure")

	// The next trigger resumes from the same point.
	sender.failFn = nil
	require.NoError(t, eng.Flush(ctx))
	assert.Equal(t, 0, q.Len())
}

func TestFlush_RemovesOnlyAcknowledgedBatches(t *testing.T) {
	ctx := context.Background()
	q := queue.New(queue.NopStore{})
	fill(t, q, 230)

	// First batch succeeds, every later attempt fails.
	sender := &fakeSender{failFn: func(call int) error {
		if call == 1 {
			return nil
		}
		return serverError()
	}}
	err := New(q, sender, noSleepPolicy()).Flush(ctx)
	require.Error(t, err)

	assert.Equal(t, 130, q.Len())
	assert.Equal(t, "evt-100", q.Snapshot()[0].EventID)
}

func TestFlush_EmptyQueueIsNoop(t *testing.T) {
	sender := &fakeSender{}
	require.NoError(t, New(queue.New(nil), sender, noSleepPolicy()).Flush(context.Background()))
	assert.Equal(t, 0, sender.calls)
}

// blockingSender parks every send until release is closed.
type blockingSender struct {
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int32
	entered     chan struct{}
	release     chan struct{}
}

func (b *blockingSender) SendBatch(context.Context, []types.Event) error {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		cur := b.maxInFlight.Load()
		if n <= cur || b.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if b.calls.Add(1) == 1 {
		close(b.entered)
	}
	<-b.release
	return nil
}

func TestFlush_AtMostOneInProgress(t *testing.T) {
	ctx := context.Background()
	q := queue.New(queue.NopStore{})
	fill(t, q, 150)

	sender := &blockingSender{entered: make(chan struct{}), release: make(chan struct{})}
	eng := New(q, sender, noSleepPolicy())

	first := make(chan error, 1)
	go func() { first <- eng.Flush(ctx) }()
	<-sender.entered
	assert.True(t, eng.InProgress())

	// Overlapping calls return immediately without waiting.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, eng.Flush(ctx))
		}()
	}
	waited := make(chan struct{})
	go func() { wg.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent Flush calls blocked behind the running flush")
	}

	close(sender.release)
	require.NoError(t, <-first)

	assert.Equal(t, int32(1), sender.maxInFlight.Load())
	assert.Equal(t, int32(2), sender.calls.Load())
	assert.Equal(t, 0, q.Len())
	assert.False(t, eng.InProgress())
}

func TestFlush_PermitReleasedAfterPanic(t *testing.T) {
	q := queue.New(queue.NopStore{})
	fill(t, q, 1)

	panicky := &fakeSender{failFn: func(int) error { panic(errors.New("sender exploded")) }}
	eng := New(q, panicky, noSleepPolicy())
	assert.Panics(t, func() { _ = eng.Flush(context.Background()) })
	assert.False(t, eng.InProgress())

	eng.sender = &fakeSender{}
	require.NoError(t, eng.Flush(context.Background()))
	assert.Equal(t, 0, q.Len())
}

func TestShutdown_IdleEngine(t *testing.T) {
	q := queue.New(queue.NopStore{})
	fill(t, q, 1)
	sender := &fakeSender{}
	eng := New(q, sender, noSleepPolicy())

	select {
	case <-eng.Shutdown():
	default:
		t.Fatal("idle engine must report idle immediately")
	}
	require.NoError(t, eng.Flush(context.Background()))
	assert.Equal(t, 0, sender.calls, "no flush after shutdown")
	assert.Equal(t, 1, q.Len())
}

func TestShutdown_WaitsForRunningFlush(t *testing.T) {
	q := queue.New(queue.NopStore{})
	fill(t, q, 1)
	sender := &blockingSender{entered: make(chan struct{}), release: make(chan struct{})}
	eng := New(q, sender, noSleepPolicy())

	done := make(chan error, 1)
	go func() { done <- eng.Flush(context.Background()) }()
	<-sender.entered

	idle := eng.Shutdown()
	select {
	case <-idle:
		t.Fatal("idle closed while a flush is running")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, idle, eng.Shutdown(), "Shutdown is idempotent")

	close(sender.release)
	require.NoError(t, <-done)
	select {
	case <-idle:
	case <-time.After(2 * time.Second):
		t.Fatal("idle not closed after the flush finished")
	}
	assert.Equal(t, 0, q.Len(), "the running flush completes its removal")
}
