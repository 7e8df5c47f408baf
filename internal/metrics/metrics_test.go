package metrics_test

import (
	"sync"
	"testing"

	"github.com/npbooking/bookingengine/internal/metrics"
)

func TestMetrics_ConcurrentIncrements(t *testing.T) {
	m := metrics.New()
	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			m.IncrementAttempts()
			m.IncrementPolls()
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.Attempts != n {
		t.Errorf("Attempts = %d, want %d", snap.Attempts, n)
	}
	if snap.Polls != n {
		t.Errorf("Polls = %d, want %d", snap.Polls, n)
	}
}

func TestMetrics_Snapshot(t *testing.T) {
	m := metrics.New()
	m.IncrementAttempts()
	m.IncrementSuccesses()
	m.IncrementQuotaMisses()
	m.IncrementFailures()

	snap := m.Snapshot()
	if snap.Attempts != 1 || snap.Successes != 1 || snap.QuotaMisses != 1 || snap.Failures != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestMetrics_AttemptsPerSecond_NoDivideByZero(t *testing.T) {
	m := metrics.New()
	m.IncrementAttempts()
	if rate := m.AttemptsPerSecond(); rate < 0 {
		t.Errorf("AttemptsPerSecond = %f, want >= 0", rate)
	}
}
