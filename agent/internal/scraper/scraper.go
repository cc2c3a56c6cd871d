package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/launchthat/openclaw-connector/agent/internal/config"
	"github.com/launchthat/openclaw-connector/agent/internal/connector"
)

const (
	defaultScrapeTimeout = 10 * time.Second

	statusPath  = "/api/v1/status"
	metricsPath = "/metrics"

	metricPrefix = "openclaw_connector_"
)

// Counter keys in Result.Counters.
const (
	EventsTracked      = "events_tracked"
	EventsDelivered    = "events_delivered"
	BatchesDelivered   = "batches_delivered"
	ValidationFailures = "validation_failures"
	PersistErrors      = "persist_errors"
	FlushFailures      = "flush_failures"
	SendErrors         = "send_errors"
	HeartbeatsOK       = "heartbeats_ok"
	HeartbeatsFailed   = "heartbeats_failed"
	InboxRejected      = "inbox_rejected"
)

// Result is one scrape of a connector's local API. Counter values are raw
// totals since the daemon started.
type Result struct {
	Endpoint  string             `json:"endpoint"`
	ScrapedAt time.Time          `json:"scraped_at"`
	Status    connector.Status   `json:"status"`
	Counters  map[string]float64 `json:"counters"`
}

// Scraper fetches status and metrics from one local API endpoint.
type Scraper struct {
	baseURL string
	client  *http.Client
}

// New returns a Scraper for the API at baseURL. auth supplies the API key
// header when the daemon runs in apikey mode.
func New(baseURL string, auth config.AuthConfig) *Scraper {
	return &Scraper{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Transport: &authRoundTripper{base: http.DefaultTransport, auth: auth},
			Timeout:   defaultScrapeTimeout,
		},
	}
}

// Scrape reads the status document and the metrics of the connector.
func (s *Scraper) Scrape(ctx context.Context) (*Result, error) {
	res := &Result{
		Endpoint:  s.baseURL,
		ScrapedAt: time.Now().UTC(),
		Counters:  make(map[string]float64),
	}

	if err := s.fetchStatus(ctx, &res.Status); err != nil {
		return nil, fmt.Errorf("scraper: status: %w", err)
	}

	mfs, err := s.fetchMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("scraper: metrics: %w", err)
	}
	collectCounters(mfs, res.Counters)
	return res, nil
}

func (s *Scraper) fetchStatus(ctx context.Context, st *connector.Status) error {
	resp, err := s.get(ctx, statusPath, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(st); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// fetchMetrics requests the delimited protobuf exposition and decodes every
// metric family in it.
func (s *Scraper) fetchMetrics(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	accept := string(expfmt.NewFormat(expfmt.TypeProtoDelim))
	resp, err := s.get(ctx, metricsPath, accept)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeMetrics(resp.Body, expfmt.ResponseFormat(resp.Header))
}

func (s *Scraper) get(ctx context.Context, path, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", accept)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp, nil
}

// decodeMetrics reads metric families until EOF.
func decodeMetrics(r io.Reader, format expfmt.Format) (map[string]*dto.MetricFamily, error) {
	dec := expfmt.NewDecoder(r, format)
	out := make(map[string]*dto.MetricFamily)
	for {
		mf := &dto.MetricFamily{}
		err := dec.Decode(mf)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode exposition: %w", err)
		}
		out[mf.GetName()] = mf
	}
}

// collectCounters maps connector metric families onto Result counter keys.
func collectCounters(mfs map[string]*dto.MetricFamily, dst map[string]float64) {
	fam := func(name string) *dto.MetricFamily { return mfs[metricPrefix+name] }

	dst[EventsTracked] = sumFamily(fam("events_tracked_total"), nil)
	dst[EventsDelivered] = sumFamily(fam("events_delivered_total"), nil)
	dst[BatchesDelivered] = sumFamily(fam("batches_delivered_total"), nil)
	dst[ValidationFailures] = sumFamily(fam("validation_failures_total"), nil)
	dst[PersistErrors] = sumFamily(fam("persist_errors_total"), nil)
	dst[FlushFailures] = sumFamily(fam("flush_failures_total"), nil)
	dst[SendErrors] = sumFamily(fam("send_attempts_total"), labelIs("result", "error"))
	dst[HeartbeatsOK] = sumFamily(fam("heartbeats_total"), labelIs("result", "ok"))
	dst[HeartbeatsFailed] = sumFamily(fam("heartbeats_total"), labelIs("result", "error"))
	dst[InboxRejected] = sumFamily(fam("inbox_files_total"), labelIs("outcome", "rejected"))
}

// labelIs matches metrics carrying name=value.
func labelIs(name, value string) func(*dto.Metric) bool {
	return func(m *dto.Metric) bool {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == name {
				return lp.GetValue() == value
			}
		}
		return false
	}
}

// sumFamily adds up the counter, gauge or untyped values in mf that match
// keep. A nil keep matches every metric. Returns 0 if mf is nil.
func sumFamily(mf *dto.MetricFamily, keep func(*dto.Metric) bool) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		if keep != nil && !keep(m) {
			continue
		}
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}

// authRoundTripper injects the local API key into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.auth.Mode == "apikey" {
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	}
	return t.base.RoundTrip(req)
}
