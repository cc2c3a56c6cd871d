package api

import "github.com/launchthat/openclaw-connector/agent/internal/connector"

// EventsResponse is the payload for POST /api/v1/events.
type EventsResponse struct {
	Accepted   int `json:"accepted"`
	QueueDepth int `json:"queue_depth"`
}

// FlushResponse is the payload for POST /api/v1/flush.
type FlushResponse struct {
	QueueDepth int    `json:"queue_depth"`
	Error      string `json:"error,omitempty"`
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State      connector.State `json:"state"`
	QueueDepth int             `json:"queue_depth"`
}

// errorResponse is the standard error body.
type errorResponse struct {
	Error    string `json:"error"`
	Field    string `json:"field,omitempty"`
	Accepted *int   `json:"accepted,omitempty"`
}
