package capacity_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npbooking/bookingengine/internal/capacity"
	"github.com/npbooking/bookingengine/internal/domain"
	"github.com/npbooking/bookingengine/internal/httpclient"
)

const gridHTML = `
<html><body>
<table>
<tr><th>Date</th><th>Quota</th></tr>
<tr><td>2025-09-30</td><td>5</td></tr>
<tr><td>2025-10-01</td><td>0</td></tr>
</table>
</body></html>`

func newSession(t *testing.T, baseURL string) *httpclient.Session {
	t.Helper()
	f := httpclient.NewFactory(5*time.Second, 10, 10, 10, "")
	client, err := f.New()
	if err != nil {
		t.Fatal(err)
	}
	return &httpclient.Session{Client: client, Headers: httpclient.BrowserHeaders(), BaseURL: baseURL}
}

func TestCheck_FindsAvailableDate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(gridHTML)) //nolint:errcheck
	}))
	defer srv.Close()

	p := capacity.New(srv.URL, 4, 8)
	s := newSession(t, srv.URL)

	row, err := p.Check(context.Background(), s, domain.SiteBromo, time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if row == nil {
		t.Fatal("expected a row")
	}
	if !row.Available || row.Quota != 5 {
		t.Errorf("row = %+v", row)
	}
}

func TestCheck_ZeroQuotaIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(gridHTML)) //nolint:errcheck
	}))
	defer srv.Close()

	p := capacity.New(srv.URL, 4, 8)
	s := newSession(t, srv.URL)

	row, err := p.Check(context.Background(), s, domain.SiteBromo, time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if row == nil || row.Available {
		t.Errorf("row = %+v, want unavailable", row)
	}
}

func TestCheck_NetworkErrorIsNonFatal(t *testing.T) {
	p := capacity.New("http://127.0.0.1:1", 4, 8)
	s := newSession(t, "http://127.0.0.1:1")

	row, err := p.Check(context.Background(), s, domain.SiteBromo, time.Now())
	if err != nil {
		t.Fatalf("expected nil error for network failure, got %v", err)
	}
	if row != nil {
		t.Errorf("expected nil row, got %+v", row)
	}
}

func TestCheck_UnknownSite(t *testing.T) {
	p := capacity.New("http://example.test", 4, 8)
	s := newSession(t, "http://example.test")
	if _, err := p.Check(context.Background(), s, domain.Site("unknown"), time.Now()); err == nil {
		t.Error("expected error for unknown site")
	}
}
