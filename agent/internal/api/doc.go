// Package api is the local producer API served by "lt-openclaw-connect run".
//
// Routes:
//
//	POST /api/v1/events  one event, a JSON array, or {"events": [...]}; 202 {accepted, queue_depth}
//	GET  /api/v1/status  connector status
//	POST /api/v1/flush   flush now; 200 when the queue drained, 502 otherwise
//	GET  /api/v1/health  {state}; 503 unless the connector is running
//	GET  /metrics        Prometheus exposition
//
// Events in one request are validated and persisted in order, then a single
// flush is attempted. A ValidationError stops the request with 422; events
// before it stay queued and are reported in "accepted". Delivery failures do
// not fail the request: the events stay queued for the next flush.
//
// WithAPIKey enforces a shared key header on every route except health;
// RequestID tags each request with an X-Request-ID.
package api
