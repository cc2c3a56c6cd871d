package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/launchthat/openclaw-connector/pkg/types"
)

const (
	dirMode  = 0o700
	fileMode = 0o600
)

// FileStore keeps the snapshot as a single JSON document on disk.
//
// Save writes to a temporary file in the same directory and renames it over
// the target, so a reader sees either the previous or the new snapshot.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore for path. The file and its parent
// directory are created on the first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the snapshot file location.
func (s *FileStore) Path() string { return s.path }

// Load reads and validates the snapshot.
func (s *FileStore) Load(_ context.Context) ([]types.Event, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
	}

	var doc struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &PersistenceError{Op: "load", Path: s.path, Err: fmt.Errorf("parse json: %w", err)}
	}

	events, err := decodeEvents(doc.Events)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
	}
	return events, nil
}

// Save overwrites the snapshot with events.
func (s *FileStore) Save(_ context.Context, events []types.Event) error {
	if events == nil {
		events = []types.Event{}
	}
	data, err := json.MarshalIndent(types.Snapshot{Events: events}, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	return nil
}

// Close is a no-op; FileStore holds no open handles between calls.
func (s *FileStore) Close() error { return nil }

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
