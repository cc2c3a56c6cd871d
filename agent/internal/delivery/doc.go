// Package delivery talks to the LaunchThat ingestion API.
//
// Client performs single HTTP attempts against the three peer operations:
//
//	SendBatch      POST {base}/api/openclaw/ingest/events
//	Heartbeat      POST {base}/api/openclaw/instances/{instanceId}/heartbeat
//	StartAuthLink  POST {base}/api/openclaw/connect/start
//
// Authenticated requests carry "authorization: Bearer <token>", an
// x-request-id and, when a signing secret is configured, the signer headers.
// Any non-2xx status or transport failure is returned as a *TransportError.
//
// Policy.Do wraps an attempt in the retry policy shared by the flush engine
// and the heartbeat loop: up to 5 attempts with exponential backoff starting
// at 500ms (500, 1000, 2000, 4000). Every failure is treated as retryable;
// the error of the final attempt is returned to the caller. StartAuthLink is
// never retried.
package delivery
