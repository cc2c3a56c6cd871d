package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const eventsPath = "/api/v1/events"

// SubmitResult is the daemon's answer to a batch of events.
type SubmitResult struct {
	Accepted   int `json:"accepted"`
	QueueDepth int `json:"queue_depth"`
}

// SubmitError is a rejected submission. Accepted records were queued by the
// daemon before the failure.
type SubmitError struct {
	StatusCode int
	Message    string
	Field      string
	Accepted   int
}

func (e *SubmitError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("scraper: submit rejected (%d): %s: %s", e.StatusCode, e.Field, e.Message)
	}
	return fmt.Sprintf("scraper: submit rejected (%d): %s", e.StatusCode, e.Message)
}

// Submit posts records to the daemon's events endpoint, which queues them
// in order and attempts a flush.
func (s *Scraper) Submit(ctx context.Context, records []json.RawMessage) (*SubmitResult, error) {
	body, err := json.Marshal(struct {
		Events []json.RawMessage `json:"events"`
	}{Events: records})
	if err != nil {
		return nil, fmt.Errorf("scraper: encode events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+eventsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("scraper: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scraper: submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		var doc struct {
			Error    string `json:"error"`
			Field    string `json:"field"`
			Accepted int    `json:"accepted"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &doc) != nil || doc.Error == "" {
			doc.Error = strings.TrimSpace(string(raw))
		}
		return nil, &SubmitError{StatusCode: resp.StatusCode, Message: doc.Error, Field: doc.Field, Accepted: doc.Accepted}
	}

	var res SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("scraper: decode submit response: %w", err)
	}
	return &res, nil
}
