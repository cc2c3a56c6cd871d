// Package connector wires the event queue, flush engine and heartbeat loop
// into a single lifecycle: stopped → starting → running → stopping → stopped.
//
// New validates the configuration and opens the queue store. Start restores
// the persisted queue, checks the ingestion API certificate, starts the
// heartbeat and attempts an initial flush.
// TrackEvent validates, enqueues and persists an event, then blocks on a
// flush attempt; a delivery failure leaves the event queued and is not
// returned. Stop halts the heartbeat, persists the final queue and closes
// the store. A Connector is single-use.
package connector
