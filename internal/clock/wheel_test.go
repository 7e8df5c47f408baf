package clock_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/npbooking/bookingengine/internal/clock"
	"github.com/npbooking/bookingengine/internal/netpool"
)

func newWheel(t *testing.T) (*clock.Wheel, clockwork.FakeClock) {
	t.Helper()
	pool := netpool.New(4)
	pool.Start()
	t.Cleanup(pool.Stop)

	fake := clockwork.NewFakeClock()
	w := clock.New(fake, pool, time.UTC)
	return w, fake
}

func TestScheduleOnce_FiresAfterDelay(t *testing.T) {
	w, fake := newWheel(t)

	fired := make(chan string, 1)
	err := w.ScheduleOnce("main-job1", fake.Now().Add(5*time.Second), "payload", func(h *clock.Handle, payload any) {
		fired <- payload.(string)
	})
	if err != nil {
		t.Fatalf("ScheduleOnce: %v", err)
	}

	fake.BlockUntil(1)
	fake.Advance(5 * time.Second)

	select {
	case got := <-fired:
		if got != "payload" {
			t.Errorf("payload = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}

	if names := w.ListNames(); len(names) != 0 {
		t.Errorf("one-shot timer should unregister itself, got %v", names)
	}
}

func TestScheduleOnce_RejectsPastDeadline(t *testing.T) {
	w, fake := newWheel(t)
	err := w.ScheduleOnce("main-job1", fake.Now().Add(-time.Second), nil, func(*clock.Handle, any) {})
	if err == nil {
		t.Fatal("expected ErrPastDeadline")
	}
}

func TestScheduleOnce_RejectsDuplicateName(t *testing.T) {
	w, fake := newWheel(t)
	cb := func(*clock.Handle, any) {}
	if err := w.ScheduleOnce("main-job1", fake.Now().Add(time.Second), nil, cb); err != nil {
		t.Fatal(err)
	}
	if err := w.ScheduleOnce("main-job1", fake.Now().Add(time.Second), nil, cb); err == nil {
		t.Fatal("expected ErrAlreadyScheduled")
	}
}

func TestScheduleRepeating_TicksDoNotOverlap(t *testing.T) {
	w, fake := newWheel(t)

	var running int32
	var overlapped int32
	var ticks int32

	err := w.ScheduleRepeating("poll-job1", fake.Now().Add(time.Second), time.Second, nil, func(h *clock.Handle, _ any) {
		if !atomic.CompareAndSwapInt32(&running, 0, 1) {
			atomic.StoreInt32(&overlapped, 1)
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&ticks, 1)
		atomic.StoreInt32(&running, 0)
		if atomic.LoadInt32(&ticks) >= 3 {
			h.Cancel()
		}
	})
	if err != nil {
		t.Fatalf("ScheduleRepeating: %v", err)
	}

	fake.BlockUntil(1)
	for i := 0; i < 3; i++ {
		fake.Advance(time.Second)
		time.Sleep(20 * time.Millisecond)
	}

	if atomic.LoadInt32(&overlapped) != 0 {
		t.Error("repeating timer ticks overlapped")
	}
	if atomic.LoadInt32(&ticks) < 3 {
		t.Errorf("ticks = %d, want >= 3", atomic.LoadInt32(&ticks))
	}
}

func TestHandle_SetNextInterval(t *testing.T) {
	w, fake := newWheel(t)

	var mu sync.Mutex
	var fireTimes []time.Time

	err := w.ScheduleRepeating("view-job1", fake.Now().Add(time.Second), time.Second, nil, func(h *clock.Handle, _ any) {
		mu.Lock()
		fireTimes = append(fireTimes, fake.Now())
		n := len(fireTimes)
		mu.Unlock()
		h.SetNextInterval(3 * time.Second)
		if n >= 2 {
			h.Cancel()
		}
	})
	if err != nil {
		t.Fatalf("ScheduleRepeating: %v", err)
	}

	fake.BlockUntil(1)
	fake.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	fake.Advance(3 * time.Second)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(fireTimes) != 2 {
		t.Fatalf("fired %d times, want 2", len(fireTimes))
	}
}

func TestRemoveByName_UnknownTimer(t *testing.T) {
	w, _ := newWheel(t)
	if err := w.RemoveByName("nope"); err == nil {
		t.Fatal("expected ErrUnknownTimer")
	}
}

func TestRemoveByName_StopsFutureFires(t *testing.T) {
	w, fake := newWheel(t)
	fired := make(chan struct{}, 1)
	err := w.ScheduleOnce("rem-job1", fake.Now().Add(5*time.Second), nil, func(*clock.Handle, any) {
		fired <- struct{}{}
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.RemoveByName("rem-job1"); err != nil {
		t.Fatal(err)
	}
	fake.Advance(10 * time.Second)
	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}
