package queue

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned by Lock when another process holds the queue.
var ErrLocked = errors.New("queue in use by another connector")

// LockedStore holds an exclusive lock on <path>.lock for as long as the
// wrapped Store is open. Two connectors never share a snapshot: each
// overwrites it wholesale.
type LockedStore struct {
	Store
	lock *flock.Flock
}

// Lock takes the lock for the snapshot at path without blocking and wraps s.
// A held lock is reported as a *PersistenceError wrapping ErrLocked.
func Lock(s Store, path string) (*LockedStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return nil, &PersistenceError{Op: "lock", Path: path, Err: err}
	}
	fl := flock.New(path + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, &PersistenceError{Op: "lock", Path: path, Err: err}
	}
	if !ok {
		return nil, &PersistenceError{Op: "lock", Path: path, Err: ErrLocked}
	}
	return &LockedStore{Store: s, lock: fl}, nil
}

// Close closes the wrapped store, then releases the lock.
func (s *LockedStore) Close() error {
	err := s.Store.Close()
	if uerr := s.lock.Unlock(); uerr != nil && err == nil {
		err = &PersistenceError{Op: "unlock", Path: s.lock.Path(), Err: uerr}
	}
	return err
}
