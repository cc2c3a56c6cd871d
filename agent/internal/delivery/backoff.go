package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 500 * time.Millisecond
	backoffMultiplier  = 2
)

// Policy is the retry policy applied independently to each network send.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Sleep waits for d or until ctx is done. Injectable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns 5 attempts with a 500ms base delay.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Sleep:       sleepCtx,
	}
}

// Delays returns the waits between consecutive attempts: MaxAttempts-1
// values, base·2^(k-1) before attempt k+1.
func (p Policy) Delays() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	bo := newBackoff(p.BaseDelay)
	out := make([]time.Duration, 0, p.MaxAttempts-1)
	for i := 1; i < p.MaxAttempts; i++ {
		out = append(out, bo.next())
	}
	return out
}

// Do runs attempt until it succeeds or MaxAttempts is reached. The last
// attempt's error is returned wrapped; no delay follows the final failure.
// A done ctx aborts the wait between attempts.
func (p Policy) Do(ctx context.Context, op string, attempt func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	bo := newBackoff(p.BaseDelay)
	var err error
	for n := 1; n <= maxAttempts; n++ {
		if err = attempt(ctx); err == nil {
			return nil
		}
		if n == maxAttempts {
			break
		}

		wait := bo.next()
		slog.Warn("delivery: attempt failed, will retry",
			"op", op,
			"attempt", n,
			"max_attempts", maxAttempts,
			"err", err,
			"retry_in", wait)
		if serr := sleep(ctx, wait); serr != nil {
			return fmt.Errorf("delivery: %s: retry aborted after %d attempts: %w (last error: %v)", op, n, serr, err)
		}
	}
	return fmt.Errorf("delivery: %s failed after %d attempts: %w", op, maxAttempts, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff implements plain exponential backoff without jitter.
type backoff struct {
	current time.Duration
}

func newBackoff(base time.Duration) *backoff {
	return &backoff{current: base}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	b.current *= backoffMultiplier
	return d
}
