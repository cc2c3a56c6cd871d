package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/launchthat/openclaw-connector/pkg/types"
)

//go:embed migrations/001_queue.sql
var sqliteMigration string

// SQLiteStore keeps one row per queued event. Save replaces all rows inside a
// single transaction, so an interrupted write leaves the previous snapshot.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:" in
// tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
			return nil, &PersistenceError{Op: "open", Path: path, Err: err}
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &PersistenceError{Op: "open", Path: path, Err: err}
	}
	// One connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteMigration); err != nil {
		db.Close()
		return nil, &PersistenceError{Op: "migrate", Path: path, Err: err}
	}
	if path != ":memory:" {
		if err := os.Chmod(path, fileMode); err != nil {
			db.Close()
			return nil, &PersistenceError{Op: "open", Path: path, Err: err}
		}
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Load returns the stored events ordered by position.
func (s *SQLiteStore) Load(ctx context.Context) ([]types.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM queue_events ORDER BY seq`)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
	}
	defer rows.Close()

	var raws []json.RawMessage
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
		}
		raws = append(raws, json.RawMessage(payload))
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
	}

	events, err := decodeEvents(raws)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
	}
	return events, nil
}

// Save replaces the stored snapshot with events.
func (s *SQLiteStore) Save(ctx context.Context, events []types.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_events`); err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO queue_events (seq, payload) VALUES (?, ?)`)
	if err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	defer stmt.Close()

	for i, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return &PersistenceError{Op: "save", Path: s.path, Err: fmt.Errorf("events[%d]: %w", i, err)}
		}
		if _, err := stmt.ExecContext(ctx, i, string(payload)); err != nil {
			return &PersistenceError{Op: "save", Path: s.path, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
