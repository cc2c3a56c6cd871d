// Package event validates and normalizes incoming event records.
//
// Parse(raw) checks a raw JSON record against the embedded JSON Schema
// (event.schema.json, draft 2020-12): eventType must be one of the closed
// set, occurredAt an integer, typed payloads must match their sub-schema and
// metadata must be a flat string map. On success the idempotency key and the
// metadata map are defaulted and the decoded types.Event is returned. On
// failure a *ValidationError names the offending field as a JSON pointer; a
// record is never partially accepted.
//
// Records(raw) splits a producer payload that is either a single event, a
// JSON array of events or an {"events": [...]} envelope.
package event
