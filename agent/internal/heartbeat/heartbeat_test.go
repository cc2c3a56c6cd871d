package heartbeat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchthat/openclaw-connector/agent/internal/delivery"
)

type countingBeater struct {
	calls  atomic.Int32
	failFn func(call int32) error
	beat   chan struct{}
}

func newCountingBeater() *countingBeater {
	return &countingBeater{beat: make(chan struct{}, 64)}
}

func (c *countingBeater) Heartbeat(context.Context) error {
	n := c.calls.Add(1)
	select {
	case c.beat <- struct{}{}:
	default:
	}
	if c.failFn != nil {
		return c.failFn(n)
	}
	return nil
}

func fastPolicy() delivery.Policy {
	p := delivery.DefaultPolicy()
	p.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return p
}

func waitBeat(t *testing.T, b *countingBeater) {
	t.Helper()
	select {
	case <-b.beat:
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat observed")
	}
}

func TestLoop_SendsImmediately(t *testing.T) {
	b := newCountingBeater()
	l := New(b, fastPolicy(), time.Hour)

	h := l.Start(context.Background())
	defer h.Stop()

	waitBeat(t, b)
	require.Eventually(t, func() bool { return !l.LastSuccess().IsZero() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestLoop_TicksOnInterval(t *testing.T) {
	b := newCountingBeater()
	l := New(b, fastPolicy(), 20*time.Millisecond)

	h := l.Start(context.Background())
	defer h.Stop()

	for i := 0; i < 3; i++ {
		waitBeat(t, b)
	}
	assert.GreaterOrEqual(t, b.calls.Load(), int32(3))
}

func TestLoop_FailedTickKeepsTimerRunning(t *testing.T) {
	b := newCountingBeater()
	// The first tick exhausts all five attempts.
	b.failFn = func(n int32) error {
		if n <= delivery.DefaultMaxAttempts {
			return errors.New("peer unavailable")
		}
		return nil
	}
	l := New(b, fastPolicy(), 20*time.Millisecond)

	h := l.Start(context.Background())
	defer h.Stop()

	require.Eventually(t, func() bool { return !l.LastSuccess().IsZero() }, 2*time.Second, 5*time.Millisecond)
	assert.Greater(t, b.calls.Load(), int32(delivery.DefaultMaxAttempts))
}

func TestLoop_StopWaitsForExit(t *testing.T) {
	b := newCountingBeater()
	l := New(b, fastPolicy(), 10*time.Millisecond)

	h := l.Start(context.Background())
	waitBeat(t, b)
	h.Stop()

	select {
	case <-h.Done():
	default:
		t.Fatal("Stop returned before the loop exited")
	}

	after := b.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, b.calls.Load(), "no heartbeats after Stop")

	h.Stop() // idempotent
}

func TestLoop_StartTwiceReturnsSameHandle(t *testing.T) {
	l := New(newCountingBeater(), fastPolicy(), time.Hour)

	h1 := l.Start(context.Background())
	h2 := l.Start(context.Background())
	assert.Same(t, h1, h2)

	h1.Stop()
	h3 := l.Start(context.Background())
	defer h3.Stop()
	assert.NotSame(t, h1, h3, "a stopped loop starts fresh")
}

func TestLoop_StopCancelsInFlightRetries(t *testing.T) {
	var mu sync.Mutex
	started := make(chan struct{})
	b := newCountingBeater()
	b.failFn = func(int32) error { return errors.New("down") }

	p := delivery.Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Hour,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			mu.Lock()
			select {
			case <-started:
			default:
				close(started)
			}
			mu.Unlock()
			<-ctx.Done()
			return ctx.Err()
		},
	}
	l := New(b, p, time.Hour)
	h := l.Start(context.Background())
	<-started

	done := make(chan struct{})
	go func() { h.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a pending retry delay")
	}
	assert.True(t, l.LastSuccess().IsZero())
}
