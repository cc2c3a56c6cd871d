// Package inbox turns a spool directory into an event producer.
//
// Every *.json file placed in the directory holds one event, a JSON array of
// events, or an {"events": [...]} envelope. Files already present at startup
// are processed first, in name order; later files are picked up through
// fsnotify once they have been quiet for the settle delay. Writers should
// create the file under another name and rename it into place.
//
// A file whose events were all persisted is removed. A file with an invalid
// event is moved to rejected/ (events before it stay queued). A file that
// hit a persistence error is left in place and retried on the next change
// or restart.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/launchthat/openclaw-connector/agent/internal/event"
	"github.com/launchthat/openclaw-connector/agent/internal/metrics"
	"github.com/launchthat/openclaw-connector/pkg/types"
)

const (
	// DefaultSettle is how long a file must go unmodified before it is read.
	DefaultSettle = 250 * time.Millisecond

	rejectedDir = "rejected"
	source      = "inbox"
)

// Outcome label values for metrics.InboxFiles.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Tracker persists events and triggers delivery.
type Tracker interface {
	Enqueue(ctx context.Context, source string, raw []byte) (types.Event, error)
	Flush(ctx context.Context) error
}

// Watcher processes files dropped into Dir.
type Watcher struct {
	Dir    string
	Settle time.Duration

	tracker Tracker

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a Watcher for dir.
func New(dir string, t Tracker) *Watcher {
	return &Watcher{
		Dir:     dir,
		Settle:  DefaultSettle,
		tracker: t,
		pending: make(map[string]*time.Timer),
	}
}

// Run creates Dir if needed, drains existing files and then processes new
// ones until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(w.Dir, rejectedDir), 0o700); err != nil {
		return fmt.Errorf("inbox: create dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.Dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", w.Dir, err)
	}
	slog.Info("inbox: watching for event files", "dir", w.Dir)

	if _, err := w.Drain(ctx); err != nil {
		slog.Error("inbox: initial scan failed", "dir", w.Dir, "err", err)
	}

	ready := make(chan string, 64)
	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isEventFile(ev.Name) || filepath.Dir(ev.Name) != filepath.Clean(w.Dir) {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.schedule(ctx, ev.Name, ready)
			}

		case path := <-ready:
			w.ProcessFile(ctx, path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("inbox: watcher error", "err", err)
		}
	}
}

// schedule (re)arms the settle timer for path.
func (w *Watcher) schedule(ctx context.Context, path string, ready chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.Settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

// Drain processes every event file currently in Dir in name order and
// returns how many were accepted.
func (w *Watcher) Drain(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return 0, fmt.Errorf("inbox: read dir: %w", err)
	}
	accepted := 0
	for _, e := range entries {
		if e.IsDir() || !isEventFile(e.Name()) {
			continue
		}
		if w.ProcessFile(ctx, filepath.Join(w.Dir, e.Name())) == OutcomeAccepted {
			accepted++
		}
	}
	return accepted, nil
}

// ProcessFile tracks the events in path and disposes of the file according
// to the outcome, which it returns.
func (w *Watcher) ProcessFile(ctx context.Context, path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Error("inbox: read failed", "file", path, "err", err)
		}
		return OutcomeFailed
	}

	outcome, queued := w.track(ctx, path, raw)
	metrics.InboxFiles.WithLabelValues(outcome).Inc()

	switch outcome {
	case OutcomeAccepted:
		if err := os.Remove(path); err != nil {
			slog.Error("inbox: remove processed file", "file", path, "err", err)
		}
	case OutcomeRejected:
		dst := filepath.Join(w.Dir, rejectedDir, filepath.Base(path))
		if err := os.Rename(path, dst); err != nil {
			slog.Error("inbox: move rejected file", "file", path, "err", err)
		}
	}

	// Records queued before a rejected one are delivered too.
	if queued > 0 {
		if err := w.tracker.Flush(ctx); err != nil {
			slog.Warn("inbox: flush failed, events stay queued", "err", err)
		}
	}
	return outcome
}

// track enqueues the records in raw and returns the outcome and how many
// records were queued.
func (w *Watcher) track(ctx context.Context, path string, raw []byte) (string, int) {
	records, err := event.Records(raw)
	if err != nil {
		slog.Warn("inbox: rejecting file", "file", path, "err", err)
		metrics.ValidationFailures.WithLabelValues(source).Inc()
		return OutcomeRejected, 0
	}

	for i, rec := range records {
		if _, err := w.tracker.Enqueue(ctx, source, rec); err != nil {
			if event.IsValidationError(err) {
				slog.Warn("inbox: rejecting file", "file", path, "record", i, "err", err)
				return OutcomeRejected, i
			}
			slog.Error("inbox: enqueue failed, leaving file for retry", "file", path, "record", i, "err", err)
			return OutcomeFailed, i
		}
	}
	slog.Info("inbox: file accepted", "file", filepath.Base(path), "events", len(records))
	return OutcomeAccepted, len(records)
}

func isEventFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, ".json") && !strings.HasPrefix(base, ".")
}
