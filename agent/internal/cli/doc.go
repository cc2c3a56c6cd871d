// Package cli implements the lt-openclaw-connect command tree.
//
//	run        start the connector daemon (heartbeat, flushes, local API, inbox)
//	auth-link  request an authorization link for a new instance
//	track      validate and queue events from a file or stdin, then flush once
//	queue show print the persisted queue
//	status     report on a running daemon through its local API
//	version    print the build version
//
// Configuration is layered with viper: defaults, then the YAML file given by
// --config, then LT_OPENCLAW_* environment variables, then flags.
package cli
