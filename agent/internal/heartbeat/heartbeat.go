package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/launchthat/openclaw-connector/agent/internal/delivery"
	"github.com/launchthat/openclaw-connector/agent/internal/metrics"
)

// Beater performs a single heartbeat attempt.
type Beater interface {
	Heartbeat(ctx context.Context) error
}

// Loop is the periodic heartbeat sender.
type Loop struct {
	beater   Beater
	policy   delivery.Policy
	interval time.Duration

	mu     sync.Mutex
	handle *Handle

	lastOK atomic.Int64 // unix millis
}

// New creates a Loop. interval must be positive.
func New(b Beater, policy delivery.Policy, interval time.Duration) *Loop {
	return &Loop{beater: b, policy: policy, interval: interval}
}

// Handle controls a running loop.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop cancels the timer and any in-flight heartbeat, then waits for the
// loop to exit. Safe to call more than once.
func (h *Handle) Stop() {
	h.once.Do(h.cancel)
	<-h.done
}

// Done is closed when the loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Start launches the loop. If the loop is already running the existing
// handle is returned.
func (l *Loop) Start(ctx context.Context) *Handle {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle != nil {
		select {
		case <-l.handle.done:
		default:
			return l.handle
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	l.handle = h

	go l.run(ctx, h)
	return h
}

// LastSuccess returns the time of the last acknowledged heartbeat, or the
// zero time if none.
func (l *Loop) LastSuccess() time.Time {
	ms := l.lastOK.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (l *Loop) run(ctx context.Context, h *Handle) {
	defer close(h.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	// Immediate beat, then one per tick.
	l.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick sends one heartbeat through the retry policy.
func (l *Loop) tick(ctx context.Context) {
	err := l.policy.Do(ctx, metrics.OpHeartbeat, l.beater.Heartbeat)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.Heartbeats.WithLabelValues(metrics.ResultError).Inc()
		slog.Error("heartbeat: failed after retries, waiting for next tick",
			"interval", l.interval, "err", err)
		return
	}

	now := time.Now()
	l.lastOK.Store(now.UnixMilli())
	metrics.Heartbeats.WithLabelValues(metrics.ResultOK).Inc()
	metrics.LastHeartbeat.Set(float64(now.Unix()))
	slog.Debug("heartbeat: acknowledged")
}
