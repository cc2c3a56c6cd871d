// Package config loads, validates and watches the connector configuration.
//
// Top-level types:
//   - Config: base_url, workspace_id, instance_id, ingest_token(+_env/_file),
//     signing_secret(+_env/_file), heartbeat_interval, request_timeout, and the
//     queue, api, inbox and log sections
//   - QueueConfig: persist, path, backend (file|sqlite)
//   - APIConfig / AuthConfig: local API listen address and apikey auth; Key()
//     resolves the expected key from the environment
//   - ConfigurationError{Field, Reason}: every Validate failure
//
// Load(path) reads YAML over Defaults() (30s heartbeat, persisted file queue
// at ~/.config/launchthat-openclaw/queue.json), resolves secrets that were
// not given literally, then validates. NewViper/FromViper layer the same
// fields with LT_OPENCLAW_* environment variables and CLI flags.
//
// Watch(ctx, path, onChange) uses fsnotify on the file's directory so atomic
// saves are picked up. The connector only applies log.level at runtime
// (ApplyLogLevel); every other field is fixed for the process lifetime.
package config
