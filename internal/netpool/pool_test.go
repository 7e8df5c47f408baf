package netpool_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/npbooking/bookingengine/internal/netpool"
)

func TestPool_RunsAllSubmittedJobs(t *testing.T) {
	p := netpool.New(4)
	p.Start()

	var count int64
	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		p.Submit(func() {
			atomic.AddInt64(&count, 1)
			wg.Done()
		})
	}
	wg.Wait()
	p.Stop()

	if got := atomic.LoadInt64(&count); got != n {
		t.Errorf("executed %d jobs, want %d", got, n)
	}
}

func TestPool_ZeroWorkersDefaultsToOne(t *testing.T) {
	p := netpool.New(0)
	p.Start()
	done := make(chan struct{})
	p.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
	p.Stop()
}

func TestPool_StopWaitsForInFlightJobs(t *testing.T) {
	p := netpool.New(2)
	p.Start()
	var finished int32
	p.Submit(func() {
		time.Sleep(20 * time.Millisecond)
		atomic.StoreInt32(&finished, 1)
	})
	// Give the worker a moment to pick up the job before Stop races it.
	time.Sleep(5 * time.Millisecond)
	p.Stop()
	if atomic.LoadInt32(&finished) != 1 {
		t.Error("Stop returned before in-flight job finished")
	}
}
