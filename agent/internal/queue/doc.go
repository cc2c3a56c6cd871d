// Package queue implements the durable, ordered event queue.
//
// Queue holds validated events in FIFO order and mirrors the full contents to
// a Store after every mutation: Enqueue persists before it returns, and
// RemoveFront (called by the flush engine only after the peer acknowledged a
// batch) persists the shortened queue. Restore loads the snapshot exactly once
// at startup; a missing, unreadable or invalid snapshot is logged and the
// queue starts empty.
//
// Stores:
//   - FileStore  : {"events": [...]} JSON file, 0600, replaced via rename
//   - SQLiteStore: one row per event, replaced in a single transaction
//   - NopStore   : persistence disabled; events live only in memory
package queue
