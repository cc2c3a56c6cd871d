// Package security inspects the TLS certificate of the ingestion API. The
// connector checks it once at startup, logs a warning when it is expiring or
// expired, and reports it in Status.
package security
