package orchestrator_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/npbooking/bookingengine/internal/capacity"
	"github.com/npbooking/bookingengine/internal/clock"
	"github.com/npbooking/bookingengine/internal/config"
	"github.com/npbooking/bookingengine/internal/domain"
	"github.com/npbooking/bookingengine/internal/httpclient"
	"github.com/npbooking/bookingengine/internal/metrics"
	"github.com/npbooking/bookingengine/internal/netpool"
	"github.com/npbooking/bookingengine/internal/orchestrator"
	"github.com/npbooking/bookingengine/internal/protocol"
	"github.com/npbooking/bookingengine/internal/status"
	"github.com/npbooking/bookingengine/internal/store"
)

const gridHTML = `<html><body><table><tr><th>Date</th><th>Quota</th></tr><tr><td>DATE</td><td>QUOTA</td></tr></table></body></html>`

const bookingPageHTML = `<html><body><div class="cnt-page">{"secret":"sec-1","form_hash":"hash-1"}</div></body></html>`

// testBookingDate is the fixed calendar date every test job books. It is
// independent of the fake clock driving exec_at, mirroring how a real
// booking date and the wall-clock instant a job fires are unrelated.
var testBookingDate = time.Date(2030, 1, 15, 0, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingSink) Notify(_ context.Context, chatID, text string, _ status.Format, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingSink) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.texts))
	copy(out, r.texts)
	return out
}

type testHarness struct {
	t     *testing.T
	srv   *httptest.Server
	mu    sync.Mutex
	quota int // guarded by mu, read/written via setQuota
	sink  *recordingSink
	orch  *orchestrator.Orchestrator
	fake  clockwork.FakeClock
	cfg   *config.Config
	store *store.Store
}

func (h *testHarness) setQuota(q int) {
	h.mu.Lock()
	h.quota = q
	h.mu.Unlock()
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{t: t, sink: &recordingSink{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/website/home/get_view", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		q := h.quota
		h.mu.Unlock()
		body := gridHTML
		body = replaceAll(body, "DATE", testBookingDate.Format("2006-01-02"))
		body = replaceAll(body, "QUOTA", itoa(q))
		w.Write([]byte(body)) //nolint:errcheck
	})
	mux.HandleFunc("/booking/site/bromo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(bookingPageHTML)) //nolint:errcheck
	})
	mux.HandleFunc("/website/booking/action", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm() //nolint:errcheck
		switch r.FormValue("action") {
		case "update_hash", "validate_booking":
			json.NewEncoder(w).Encode(map[string]any{"status": true}) //nolint:errcheck
		case "do_booking":
			json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
				"status": true, "message": "ok", "code": "BRM-TEST",
			})
		default:
			t.Fatalf("unexpected action %q", r.FormValue("action"))
		}
	})
	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "jobs.json"))
	if err != nil {
		t.Fatal(err)
	}
	h.store = st

	pool := netpool.New(4)
	pool.Start()
	t.Cleanup(pool.Stop)

	h.fake = clockwork.NewFakeClock()
	w := clock.New(h.fake, pool, time.UTC)

	factory := httpclient.NewFactory(5*time.Second, 10, 10, 10, "")
	prober := capacity.New(h.srv.URL, 4, 8)
	sites := map[domain.Site]protocol.SiteEndpoints{
		domain.SiteBromo: {BookingPath: "/booking/site/bromo", IDSite: 4, Sector: 1},
	}
	driver := protocol.New(h.srv.URL, prober, sites)

	cfg := config.DefaultConfig()
	cfg.BaseURL = h.srv.URL
	cfg.RetryAttempts = 1
	cfg.PollInterval = time.Second
	cfg.PollMaxDuration = 10 * time.Second
	cfg.PollNotifyEvery = 2
	// Prewarm and the view track are opt-in per test (set on h.cfg before
	// Arm) so the main-track tests stay deterministic: exactly one timer
	// family is live unless a test asks for more.
	cfg.PrewarmBefore = 0
	cfg.ViewBefore = 0
	cfg.ViewAfter = 0
	cfg.ViewJitterBase = time.Second
	cfg.ViewJitterCap = time.Second
	h.cfg = cfg

	h.orch = orchestrator.New(w, st, factory, driver, cfg, h.sink, metrics.New(), sites, time.UTC)
	return h
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func replaceAll(s, old, new string) string {
	out := ""
	for {
		idx := indexOf(s, old)
		if idx < 0 {
			return out + s
		}
		out += s[:idx] + new
		s = s[idx+len(old):]
	}
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func testJob(execAt time.Time) domain.Job {
	return domain.Job{
		Site:        domain.SiteBromo,
		BookingDate: testBookingDate,
		ExecAt:      execAt,
		Bromo: &domain.BromoProfile{
			Leader: domain.Leader{Name: "Budi"},
			Gate:   1, Vehicle: 1, VehicleCount: 1,
		},
		ChatID:    "chat-1",
		CreatedAt: execAt.Add(-time.Hour),
	}
}

func TestArm_FiresMainAndSucceeds(t *testing.T) {
	h := newHarness(t)
	h.setQuota(5)

	job := testJob(h.fake.Now().Add(5 * time.Second))
	name, err := h.orch.Arm("user1", job)
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if name == "" {
		t.Fatal("expected non-empty job name")
	}

	h.fake.BlockUntil(1)
	h.fake.Advance(6 * time.Second)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(h.sink.snapshot()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	texts := h.sink.snapshot()
	if len(texts) == 0 {
		t.Fatal("expected a terminal notification")
	}
}

func TestArm_QuotaUnavailableFallsBackToPoll(t *testing.T) {
	h := newHarness(t)
	h.setQuota(0)

	job := testJob(h.fake.Now().Add(2 * time.Second))
	_, err := h.orch.Arm("user2", job)
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}

	h.fake.BlockUntil(1)
	h.fake.Advance(3 * time.Second)
	time.Sleep(50 * time.Millisecond)

	h.setQuota(5)
	h.fake.BlockUntil(1)
	h.fake.Advance(2 * time.Second)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(h.sink.snapshot()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(h.sink.snapshot()) == 0 {
		t.Fatal("expected the poll track to eventually notify success")
	}
}

func TestViewTrack_FiresOnCapacityChange(t *testing.T) {
	h := newHarness(t)
	h.setQuota(0)
	h.cfg.ViewBefore = 30 * time.Second
	h.cfg.ViewAfter = 30 * time.Second

	// exec_at far enough out that the main track cannot fire during this
	// test's advances; only the view track should be able to trigger the
	// attempt once capacity opens.
	job := testJob(h.fake.Now().Add(20 * time.Second))
	_, err := h.orch.Arm("user-view", job)
	if err != nil {
		t.Fatalf("Arm: %v", err)
	}

	h.fake.BlockUntil(2) // main + view
	h.fake.Advance(2 * time.Second)
	time.Sleep(50 * time.Millisecond)

	h.setQuota(5)
	h.fake.Advance(2 * time.Second)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(h.sink.snapshot()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(h.sink.snapshot()) == 0 {
		t.Fatal("expected the view track to fire once capacity opened, well before exec_at")
	}
}

func TestDisarm_RemovesTimers(t *testing.T) {
	h := newHarness(t)
	job := testJob(h.fake.Now().Add(30 * time.Second))
	name, err := h.orch.Arm("user3", job)
	if err != nil {
		t.Fatal(err)
	}
	h.orch.Disarm(name)
	// Re-arming under the same derived name should succeed now that the
	// old timers are gone.
	if _, err := h.orch.Arm("user3", job); err != nil {
		t.Fatalf("expected re-Arm after Disarm to succeed, got %v", err)
	}
}

func TestReschedule_RearmsUnderNewName(t *testing.T) {
	h := newHarness(t)
	job := testJob(h.fake.Now().Add(30 * time.Second))
	oldName, err := h.orch.Arm("user4", job)
	if err != nil {
		t.Fatal(err)
	}

	job.ExecAt = job.ExecAt.Add(time.Hour)
	newName, err := h.orch.Reschedule("user4", oldName, job)
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if newName == oldName {
		t.Error("expected a different derived job name after moving exec_at")
	}
	if _, ok := h.store.GetJob("user4", oldName); ok {
		t.Error("expected old job name to be removed from the store")
	}
	if _, ok := h.store.GetJob("user4", newName); !ok {
		t.Error("expected new job name to be present in the store")
	}
}

func TestRehydrate_RearmsFutureJobs(t *testing.T) {
	h := newHarness(t)
	job := testJob(h.fake.Now().Add(10 * time.Second))
	name, err := h.orch.Arm("user5", job)
	if err != nil {
		t.Fatal(err)
	}
	h.orch.Disarm(name) // simulate a restart: timers gone, store still has it

	if err := h.orch.Rehydrate(context.Background()); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	h.setQuota(5)
	h.fake.BlockUntil(1)
	h.fake.Advance(11 * time.Second)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(h.sink.snapshot()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(h.sink.snapshot()) == 0 {
		t.Fatal("expected rehydrated job to fire")
	}
}
