package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/launchthat/openclaw-connector/agent/internal/event"
	"github.com/launchthat/openclaw-connector/pkg/types"
)

// Store persists full queue snapshots. Save replaces whatever was stored
// before; Load returns the last saved snapshot in order.
type Store interface {
	Load(ctx context.Context) ([]types.Event, error)
	Save(ctx context.Context, events []types.Event) error
	Close() error
}

// PersistenceError wraps a snapshot read or write failure.
type PersistenceError struct {
	Op   string // "load" | "save"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("queue: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NopStore discards every snapshot. Used when persistence is disabled.
type NopStore struct{}

func (NopStore) Load(context.Context) ([]types.Event, error) { return nil, nil }
func (NopStore) Save(context.Context, []types.Event) error    { return nil }
func (NopStore) Close() error                                 { return nil }

// decodeEvents validates every stored record. A single invalid record fails
// the whole snapshot; partial recovery is deliberately not attempted.
func decodeEvents(raws []json.RawMessage) ([]types.Event, error) {
	events := make([]types.Event, 0, len(raws))
	for i, raw := range raws {
		ev, err := event.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}
