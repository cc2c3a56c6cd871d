package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCheck_PlainHTTPReturnsNil(t *testing.T) {
	if cs := Check(context.Background(), "http://localhost:3000"); cs != nil {
		t.Errorf("Check(http) = %+v, want nil", cs)
	}
	if cs := Check(context.Background(), "::not a url"); cs != nil {
		t.Errorf("Check(invalid) = %+v, want nil", cs)
	}
}

func TestCheck_TLSServer(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	cs := Check(context.Background(), srv.URL)
	if cs == nil {
		t.Fatal("Check() = nil, want status")
	}
	if cs.Status != StatusValid {
		t.Errorf("Status = %q, want %q (days left %d)", cs.Status, StatusValid, cs.DaysLeft)
	}
	if cs.NotAfter.IsZero() {
		t.Error("NotAfter not set")
	}

	// Evaluated far in the future the same certificate is expired.
	late := checkAt(context.Background(), srv.URL, cs.NotAfter.Add(time.Hour))
	if late.Status != StatusExpired {
		t.Errorf("Status after NotAfter = %q, want %q", late.Status, StatusExpired)
	}
	if late.DaysLeft >= 0 {
		t.Errorf("DaysLeft = %d, want negative", late.DaysLeft)
	}
}

func TestCheck_Unreachable(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cs := Check(context.Background(), url)
	if cs == nil || cs.Status != StatusUnreachable {
		t.Errorf("Check() = %+v, want unreachable", cs)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		left time.Duration
		want string
	}{
		{-time.Hour, StatusExpired},
		{0, StatusExpired},
		{10 * 24 * time.Hour, StatusExpiring},
		{ExpiringWithin, StatusExpiring},
		{ExpiringWithin + time.Hour, StatusValid},
	}
	for _, tc := range tests {
		if got := classify(tc.left); got != tc.want {
			t.Errorf("classify(%v) = %q, want %q", tc.left, got, tc.want)
		}
	}
}
