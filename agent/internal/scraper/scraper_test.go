package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/protobuf/proto"

	"github.com/launchthat/openclaw-connector/agent/internal/config"
	"github.com/launchthat/openclaw-connector/agent/internal/connector"
)

// fakeDaemon serves a status document and a registry shaped like the
// connector's collectors.
func fakeDaemon(t *testing.T, requireKey string) string {
	t.Helper()
	reg := prometheus.NewRegistry()

	tracked := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "openclaw_connector_events_tracked_total"}, []string{"source"})
	tracked.WithLabelValues("api").Add(7)
	tracked.WithLabelValues("inbox").Add(3)
	delivered := prometheus.NewCounter(prometheus.CounterOpts{Name: "openclaw_connector_events_delivered_total"})
	delivered.Add(8)
	sends := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "openclaw_connector_send_attempts_total"}, []string{"op", "result"})
	sends.WithLabelValues("ingest", "ok").Add(4)
	sends.WithLabelValues("ingest", "error").Add(2)
	sends.WithLabelValues("heartbeat", "error").Add(1)
	beats := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "openclaw_connector_heartbeats_total"}, []string{"result"})
	beats.WithLabelValues("ok").Add(12)
	beats.WithLabelValues("error").Add(1)
	reg.MustRegister(tracked, delivered, sends, beats)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(connector.Status{
			State:      connector.StateRunning,
			InstanceID: "inst-1",
			QueueDepth: 2,
			Persist:    true,
		})
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	var h http.Handler = mux
	if requireKey != "" {
		h = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != requireKey {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			mux.ServeHTTP(w, r)
		})
	}

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestScrape(t *testing.T) {
	base := fakeDaemon(t, "")

	res, err := New(base+"/", config.AuthConfig{Mode: "none"}).Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape() error: %v", err)
	}

	if res.Endpoint != base {
		t.Errorf("Endpoint = %q, want %q", res.Endpoint, base)
	}
	if res.Status.State != connector.StateRunning || res.Status.InstanceID != "inst-1" || res.Status.QueueDepth != 2 {
		t.Errorf("Status = %+v", res.Status)
	}

	want := map[string]float64{
		EventsTracked:    10,
		EventsDelivered:  8,
		SendErrors:       3,
		HeartbeatsOK:     12,
		HeartbeatsFailed: 1,
		PersistErrors:    0,
		InboxRejected:    0,
	}
	for k, v := range want {
		if got := res.Counters[k]; got != v {
			t.Errorf("Counters[%q] = %v, want %v", k, got, v)
		}
	}
}

func TestScrape_APIKey(t *testing.T) {
	t.Setenv("SCRAPER_TEST_KEY", "s3cret")
	base := fakeDaemon(t, "s3cret")

	auth := config.AuthConfig{Mode: "apikey", Header: "X-API-Key", KeyEnv: "SCRAPER_TEST_KEY"}
	if _, err := New(base, auth).Scrape(context.Background()); err != nil {
		t.Fatalf("Scrape() with key error: %v", err)
	}

	_, err := New(base, config.AuthConfig{Mode: "none"}).Scrape(context.Background())
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("Scrape() without key error = %v, want status 401", err)
	}
}

func TestScrape_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	if _, err := New(base, config.AuthConfig{}).Scrape(context.Background()); err == nil {
		t.Fatal("Scrape() error = nil, want connection failure")
	}
}

func TestSumFamily(t *testing.T) {
	if got := sumFamily(nil, nil); got != 0 {
		t.Errorf("sumFamily(nil) = %v, want 0", got)
	}

	mf := &dto.MetricFamily{
		Name: proto.String("x"),
		Metric: []*dto.Metric{
			{Label: []*dto.LabelPair{{Name: proto.String("result"), Value: proto.String("ok")}}, Counter: &dto.Counter{Value: proto.Float64(2)}},
			{Label: []*dto.LabelPair{{Name: proto.String("result"), Value: proto.String("error")}}, Counter: &dto.Counter{Value: proto.Float64(5)}},
			{Gauge: &dto.Gauge{Value: proto.Float64(1)}},
		},
	}
	if got := sumFamily(mf, nil); got != 8 {
		t.Errorf("sumFamily(all) = %v, want 8", got)
	}
	if got := sumFamily(mf, labelIs("result", "error")); got != 5 {
		t.Errorf("sumFamily(result=error) = %v, want 5", got)
	}
}

func TestSubmit(t *testing.T) {
	var got struct {
		Events []json.RawMessage `json:"events"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/events" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"accepted":2,"queue_depth":5}`))
	}))
	defer srv.Close()

	records := []json.RawMessage{json.RawMessage(`{"eventId":"a"}`), json.RawMessage(`{"eventId":"b"}`)}
	res, err := New(srv.URL, config.AuthConfig{}).Submit(context.Background(), records)
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if res.Accepted != 2 || res.QueueDepth != 5 {
		t.Errorf("Submit() = %+v, want accepted 2 depth 5", res)
	}
	if len(got.Events) != 2 {
		t.Errorf("daemon received %d events, want 2", len(got.Events))
	}
}

func TestSubmit_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"bad type","field":"/eventType","accepted":1}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, config.AuthConfig{}).Submit(context.Background(), []json.RawMessage{json.RawMessage(`{}`)})
	var se *SubmitError
	if !errors.As(err, &se) {
		t.Fatalf("Submit() error = %v, want *SubmitError", err)
	}
	if se.StatusCode != http.StatusUnprocessableEntity || se.Field != "/eventType" || se.Accepted != 1 {
		t.Errorf("SubmitError = %+v", se)
	}
}
