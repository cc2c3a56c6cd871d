package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/launchthat/openclaw-connector/agent/internal/metrics"
	"github.com/launchthat/openclaw-connector/agent/internal/signer"
	"github.com/launchthat/openclaw-connector/pkg/types"
)

const (
	ingestPath    = "/api/openclaw/ingest/events"
	heartbeatPath = "/api/openclaw/instances/%s/heartbeat"
	connectPath   = "/api/openclaw/connect/start"

	headerRequestID = "x-request-id"
	userAgent       = "lt-openclaw-connect"

	// maxErrorBody bounds how much of a failed response is kept for logs.
	maxErrorBody = 512
)

// TransportError is a non-2xx response or a network-level failure.
// StatusCode is 0 for network failures.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("%s failed (%d): %s", e.Op, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s failed (%d)", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client sends authenticated requests for one connector instance.
type Client struct {
	baseURL    string
	instanceID string
	signer     *signer.Signer
	client     *http.Client
}

// NewClient creates a Client. timeout bounds a single HTTP attempt; zero
// means no limit beyond the transport's own dial and TLS timeouts.
func NewClient(baseURL, instanceID, token string, sg *signer.Signer, timeout time.Duration) *Client {
	if sg == nil {
		sg = signer.New("")
	}
	return &Client{
		baseURL:    TrimBaseURL(baseURL),
		instanceID: instanceID,
		signer:     sg,
		client: &http.Client{
			Transport: &authRoundTripper{base: http.DefaultTransport, token: token},
			Timeout:   timeout,
		},
	}
}

// SetTransport replaces the underlying round tripper, keeping bearer
// authorization. Used by tests.
func (c *Client) SetTransport(rt http.RoundTripper) {
	if art, ok := c.client.Transport.(*authRoundTripper); ok {
		c.client.Transport = &authRoundTripper{base: rt, token: art.token}
	}
}

// InstanceID returns the instance the client reports for.
func (c *Client) InstanceID() string { return c.instanceID }

// EncodeBatch builds the ingest request body for events.
func EncodeBatch(instanceID string, events []types.Event) ([]byte, error) {
	if events == nil {
		events = []types.Event{}
	}
	body, err := json.Marshal(types.Batch{InstanceID: instanceID, Events: events})
	if err != nil {
		return nil, fmt.Errorf("delivery: encode batch: %w", err)
	}
	return body, nil
}

// SendBatch performs one ingest attempt for events.
func (c *Client) SendBatch(ctx context.Context, events []types.Event) error {
	body, err := EncodeBatch(c.instanceID, events)
	if err != nil {
		return err
	}
	return c.post(ctx, metrics.OpIngest, c.baseURL+ingestPath, body)
}

// Heartbeat performs one heartbeat attempt. The signed body is empty.
func (c *Client) Heartbeat(ctx context.Context) error {
	u := c.baseURL + fmt.Sprintf(heartbeatPath, url.PathEscape(c.instanceID))
	return c.post(ctx, metrics.OpHeartbeat, u, nil)
}

// post signs body with a fresh timestamp and sends it once.
func (c *Client) post(ctx context.Context, op, u string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, reader)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("build request: %w", err)}
	}
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	req.Header.Set(headerRequestID, uuid.NewString())
	for k, v := range c.signer.Sign(body) {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.SendAttempts.WithLabelValues(op, metrics.ResultError).Inc()
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.SendAttempts.WithLabelValues(op, metrics.ResultError).Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	metrics.SendAttempts.WithLabelValues(op, metrics.ResultOK).Inc()
	slog.Debug("delivery: request acknowledged",
		"op", op,
		"status", resp.StatusCode,
		"request_id", req.Header.Get(headerRequestID))
	return nil
}

// AuthLink is the response of the connect/start bootstrap call.
type AuthLink struct {
	AuthURL     string `json:"authUrl"`
	ChallengeID string `json:"challengeId"`
	ExpiresAt   int64  `json:"expiresAt"`
}

// StartAuthLink requests an authorization link for a new instance. It is a
// single unauthenticated exchange; failures are returned without retry.
// A nil hc uses http.DefaultClient.
func StartAuthLink(ctx context.Context, hc *http.Client, baseURL, workspaceID, instanceName string) (*AuthLink, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	body, err := json.Marshal(map[string]string{
		"workspaceId":  workspaceID,
		"instanceName": instanceName,
	})
	if err != nil {
		return nil, fmt.Errorf("delivery: encode connect request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, TrimBaseURL(baseURL)+connectPath, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "connect start", Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("user-agent", userAgent)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "connect start", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{
			Op:         "connect start",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	var link AuthLink
	if err := json.NewDecoder(resp.Body).Decode(&link); err != nil {
		return nil, fmt.Errorf("delivery: decode connect response: %w", err)
	}
	return &link, nil
}

// TrimBaseURL removes one trailing slash from base.
func TrimBaseURL(base string) string {
	return strings.TrimSuffix(base, "/")
}

// authRoundTripper injects bearer authorization, a user agent and a fresh
// request ID into every outgoing request.
type authRoundTripper struct {
	base  http.RoundTripper
	token string
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("authorization", "Bearer "+t.token)
	req.Header.Set("user-agent", userAgent)
	if req.Header.Get(headerRequestID) == "" {
		req.Header.Set(headerRequestID, uuid.NewString())
	}
	return t.base.RoundTrip(req)
}
