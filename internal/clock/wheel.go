// Package clock implements the scheduling primitive at the center of the
// booking engine: named one-shot and repeating timers evaluated against a
// wall clock located in Asia/Jakarta, with callbacks handed off to a
// bounded worker pool so a slow callback never stalls the wheel's
// bookkeeping goroutines. It generalizes the teacher's token-refresh and
// heartbeat tickers (token/refresh.go, token/heartbeat.go) from a pair of
// fixed-purpose loops into a general named-timer registry.
package clock

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/npbooking/bookingengine/internal/netpool"
)

// ErrPastDeadline is returned by ScheduleOnce/ScheduleRepeating when the
// requested first-fire time is not after the wheel's current clock time.
var ErrPastDeadline = errors.New("clock: requested time is not after now")

// ErrAlreadyScheduled is returned when name is already armed.
var ErrAlreadyScheduled = errors.New("clock: name already scheduled")

// ErrUnknownTimer is returned by RemoveByName for a name that isn't armed.
var ErrUnknownTimer = errors.New("clock: unknown timer name")

// Handle is passed to every fired callback. It lets the callback cancel
// its own timer or, for repeating timers, mutate the interval used for
// the *next* tick (used by the view-track decorrelated-jitter walk).
type Handle struct {
	name  string
	wheel *Wheel
	// nextInterval, if set by SetNextInterval during this callback's
	// invocation, overrides the repeating timer's interval for the next
	// tick only.
	nextInterval *time.Duration
}

// Name returns the timer's name.
func (h *Handle) Name() string { return h.name }

// Cancel removes this timer so it will not fire again. Safe to call from
// within the callback it names.
func (h *Handle) Cancel() {
	h.wheel.RemoveByName(h.name)
}

// SetNextInterval overrides the interval used to schedule the next tick
// of a repeating timer. Has no effect on one-shot timers or once the
// callback invocation that called it returns.
func (h *Handle) SetNextInterval(d time.Duration) {
	h.nextInterval = &d
}

// Callback is invoked when a timer fires. payload is whatever value was
// passed to ScheduleOnce/ScheduleRepeating.
type Callback func(h *Handle, payload any)

type timer struct {
	name     string
	callback Callback
	payload  any
	repeat   bool
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Wheel owns a registry of named timers. Timer goroutines call clock.Now
// and clock.After/NewTimer through the injected clockwork.Clock so tests
// can drive time deterministically instead of sleeping.
type Wheel struct {
	clock clockwork.Clock
	pool  *netpool.Pool
	loc   *time.Location

	mu     sync.Mutex
	timers map[string]*timer
}

// New creates a Wheel that schedules against clk and submits callbacks to
// pool. loc is the timezone all "when"/"first" arguments are interpreted
// relative to for logging/derivation purposes (the clockwork.Clock itself
// is location-agnostic; callers pass already-located time.Time values).
func New(clk clockwork.Clock, pool *netpool.Pool, loc *time.Location) *Wheel {
	return &Wheel{
		clock:  clk,
		pool:   pool,
		loc:    loc,
		timers: make(map[string]*timer),
	}
}

// Now returns the wheel's current time in its configured location.
func (w *Wheel) Now() time.Time {
	return w.clock.Now().In(w.loc)
}

// ScheduleOnce arms a one-shot timer named name to fire at when, invoking
// callback(handle, payload) on the worker pool. Returns ErrAlreadyScheduled
// if name is already armed, ErrPastDeadline if when is not after Now().
func (w *Wheel) ScheduleOnce(name string, when time.Time, payload any, callback Callback) error {
	if !when.After(w.Now()) {
		return fmt.Errorf("%w: %s at %s", ErrPastDeadline, name, when)
	}
	t := &timer{name: name, callback: callback, payload: payload, stopCh: make(chan struct{})}
	if err := w.register(t); err != nil {
		return err
	}
	d := when.Sub(w.Now())
	go w.runOnce(t, d)
	return nil
}

// ScheduleRepeating arms a repeating timer named name, firing first at
// first and every interval thereafter until removed. Returns
// ErrAlreadyScheduled if name is already armed, ErrPastDeadline if first
// is not after Now().
func (w *Wheel) ScheduleRepeating(name string, first time.Time, interval time.Duration, payload any, callback Callback) error {
	if !first.After(w.Now()) {
		return fmt.Errorf("%w: %s at %s", ErrPastDeadline, name, first)
	}
	t := &timer{name: name, callback: callback, payload: payload, repeat: true, interval: interval, stopCh: make(chan struct{})}
	if err := w.register(t); err != nil {
		return err
	}
	d := first.Sub(w.Now())
	go w.runRepeating(t, d)
	return nil
}

func (w *Wheel) register(t *timer) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.timers[t.name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyScheduled, t.name)
	}
	w.timers[t.name] = t
	return nil
}

func (w *Wheel) unregister(name string) {
	w.mu.Lock()
	delete(w.timers, name)
	w.mu.Unlock()
}

// RemoveByName cancels the named timer. Returns ErrUnknownTimer if no
// such timer is armed.
func (w *Wheel) RemoveByName(name string) error {
	w.mu.Lock()
	t, ok := w.timers[name]
	if !ok {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTimer, name)
	}
	delete(w.timers, name)
	w.mu.Unlock()

	t.stopOnce.Do(func() { close(t.stopCh) })
	return nil
}

// ListNames returns the names of all currently armed timers.
func (w *Wheel) ListNames() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, 0, len(w.timers))
	for name := range w.timers {
		names = append(names, name)
	}
	return names
}

func (w *Wheel) runOnce(t *timer, d time.Duration) {
	select {
	case <-t.stopCh:
		return
	case <-w.clock.After(d):
	}
	w.unregister(t.name)
	w.invoke(t)
}

func (w *Wheel) runRepeating(t *timer, firstDelay time.Duration) {
	timerObj := w.clock.NewTimer(firstDelay)
	defer timerObj.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-timerObj.Chan():
		}

		// Invoke synchronously with respect to this goroutine so tick
		// N+1 is never armed until tick N's callback has returned — the
		// wheel submits the callback to the pool but waits for it here,
		// which is what guarantees non-overlap for a single timer name
		// without a dedicated per-name mutex.
		interval := w.invokeRepeating(t)

		select {
		case <-t.stopCh:
			return
		default:
		}
		timerObj.Reset(interval)
	}
}

func (w *Wheel) invoke(t *timer) {
	h := &Handle{name: t.name, wheel: w}
	done := make(chan struct{})
	w.pool.Submit(func() {
		defer close(done)
		t.callback(h, t.payload)
	})
	<-done
}

// invokeRepeating runs t's callback and returns the interval to use for
// the next tick (the timer's configured interval, unless the callback
// called h.SetNextInterval).
func (w *Wheel) invokeRepeating(t *timer) time.Duration {
	h := &Handle{name: t.name, wheel: w}
	done := make(chan struct{})
	w.pool.Submit(func() {
		defer close(done)
		t.callback(h, t.payload)
	})
	<-done
	if h.nextInterval != nil {
		return *h.nextInterval
	}
	return t.interval
}
