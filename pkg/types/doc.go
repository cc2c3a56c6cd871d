// Package types defines the event model shared by the connector and its
// producers. Event is the canonical in-memory and wire representation of a
// domain occurrence queued for delivery to the LaunchThat ingestion API;
// JSON field names match the request body of POST /api/openclaw/ingest/events.
package types
