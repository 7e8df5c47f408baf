// Package orchestrator composes the clock wheel, the job store, the HTTP
// client factory, the capacity prober, and the protocol driver into the
// five-timer-family scheduling behavior a booking job goes through:
// prewarm, reminder, main attempt, capacity-change view track, and
// fallback polling. It is the generalization of the teacher's Scheduler
// (scheduler/scheduler.go), which only knew how to fan a single jobFn out
// across a flat session pool; here each job owns its own named timers
// and its own decision tree for what "fire" means.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/npbooking/bookingengine/internal/clock"
	"github.com/npbooking/bookingengine/internal/config"
	"github.com/npbooking/bookingengine/internal/domain"
	"github.com/npbooking/bookingengine/internal/httpclient"
	"github.com/npbooking/bookingengine/internal/metrics"
	"github.com/npbooking/bookingengine/internal/protocol"
	"github.com/npbooking/bookingengine/internal/retry"
	"github.com/npbooking/bookingengine/internal/status"
	"github.com/npbooking/bookingengine/internal/store"
)

// timerNames bundles the five timer names derived from one job name, so
// arming and tearing down a job never risks naming one family and
// forgetting another.
type timerNames struct {
	prewarm, reminder, main, view, poll string
}

func namesFor(jobName string) timerNames {
	return timerNames{
		prewarm:  "prewarm-" + jobName,
		reminder: "rem-" + jobName,
		main:     "main-" + jobName,
		view:     "view-" + jobName,
		poll:     "poll-" + jobName,
	}
}

// run tracks the at-most-once submission guarantee and view-track state
// for one armed job. Its fields are touched only from timer callbacks,
// which the wheel already serializes per timer name; claimed is the one
// field read/written across different timer names (main, view, poll all
// race to fire), so it alone needs an atomic.
type run struct {
	claimed       atomic.Bool
	lastAvailable bool
	lastSeenQuota int
}

// Orchestrator owns the wheel and arms/disarms a job's full timer family.
type Orchestrator struct {
	Wheel   *clock.Wheel
	Store   *store.Store
	Factory *httpclient.Factory
	Driver  *protocol.Driver
	Cfg     *config.Config
	Sink    status.Sink
	Metrics *metrics.Metrics
	Sites   map[domain.Site]protocol.SiteEndpoints

	loc *time.Location

	mu             sync.Mutex
	sessions       map[string]*httpclient.Session // keyed by cache key, see sessionKey
	jobSessionKeys map[string]string              // jobName -> the sessionKey cached for it, so Disarm can evict correctly under promotion
	runs           map[string]*run
}

// New builds an Orchestrator. loc is the timezone Job.ExecAt values are
// interpreted in (normally cfg.Location()).
func New(w *clock.Wheel, st *store.Store, f *httpclient.Factory, d *protocol.Driver, cfg *config.Config, sink status.Sink, m *metrics.Metrics, sites map[domain.Site]protocol.SiteEndpoints, loc *time.Location) *Orchestrator {
	return &Orchestrator{
		Wheel:          w,
		Store:          st,
		Factory:        f,
		Driver:         d,
		Cfg:            cfg,
		Sink:           sink,
		Metrics:        m,
		Sites:          sites,
		loc:            loc,
		sessions:       make(map[string]*httpclient.Session),
		jobSessionKeys: make(map[string]string),
		runs:           make(map[string]*run),
	}
}

// sessionKey returns the cache key a prewarmed session is stored under.
// With promotion disabled, every job gets its own isolated session. With
// promotion enabled, jobs sharing the same user and effective ci_session
// reuse one warmed session instead of each paying a cold TLS handshake.
func (o *Orchestrator) sessionKey(jobName, userID string, job domain.Job) string {
	if !o.Cfg.EnablePromotion {
		return jobName
	}
	ci := job.Cookies.CISession
	return userID + "|" + ci
}

// Arm persists job under userID, derives its job_name, and schedules the
// prewarm, reminder, main and view timers relative to job.ExecAt; the
// poll timer is armed later, only after a quota miss. Returns the derived
// name.
func (o *Orchestrator) Arm(userID string, job domain.Job) (string, error) {
	jobName := domain.BuildJobName(userID, &job)
	if err := o.Store.PutJob(userID, jobName, job); err != nil {
		return "", fmt.Errorf("orchestrator: persist job: %w", err)
	}
	if err := o.armTimers(userID, jobName, job); err != nil {
		return "", err
	}
	return jobName, nil
}

// armTimers schedules the timer family for an already-persisted job.
// Split out from Arm so Rehydrate can re-arm without re-persisting.
func (o *Orchestrator) armTimers(userID, jobName string, job domain.Job) error {
	now := o.Wheel.Now()
	names := namesFor(jobName)

	o.mu.Lock()
	o.runs[jobName] = &run{}
	o.jobSessionKeys[jobName] = o.sessionKey(jobName, userID, job)
	o.mu.Unlock()

	if t := job.ExecAt.Add(-o.Cfg.PrewarmBefore); o.Cfg.PrewarmBefore > 0 && t.After(now) {
		if err := o.Wheel.ScheduleOnce(names.prewarm, t, nil, o.prewarmCallback(userID, jobName, job)); err != nil && !errors.Is(err, clock.ErrAlreadyScheduled) {
			return fmt.Errorf("orchestrator: arm prewarm: %w", err)
		}
	}

	if job.ReminderMinutes != nil {
		t := job.ExecAt.Add(-time.Duration(*job.ReminderMinutes) * time.Minute)
		if t.After(now) {
			if err := o.Wheel.ScheduleOnce(names.reminder, t, nil, o.reminderCallback(userID, jobName, job)); err != nil && !errors.Is(err, clock.ErrAlreadyScheduled) {
				return fmt.Errorf("orchestrator: arm reminder: %w", err)
			}
		}
	}

	if job.ExecAt.After(now) {
		if err := o.Wheel.ScheduleOnce(names.main, job.ExecAt, nil, o.mainCallback(userID, jobName, job)); err != nil && !errors.Is(err, clock.ErrAlreadyScheduled) {
			return fmt.Errorf("orchestrator: arm main: %w", err)
		}
	}

	viewStart := job.ExecAt.Add(-o.Cfg.ViewBefore)
	if viewStart.Before(now) {
		viewStart = now.Add(time.Second)
	}
	viewEnd := job.ExecAt.Add(o.Cfg.ViewAfter)
	if viewStart.Before(viewEnd) {
		if err := o.Wheel.ScheduleRepeating(names.view, viewStart, o.Cfg.ViewJitterBase, nil, o.viewCallback(userID, jobName, job, viewEnd)); err != nil && !errors.Is(err, clock.ErrAlreadyScheduled) {
			return fmt.Errorf("orchestrator: arm view: %w", err)
		}
	}

	return nil
}

// Disarm removes every timer family for jobName. Errors from individual
// RemoveByName calls are ignored: a timer that already fired and
// unregistered itself (a one-shot main/prewarm/reminder) is not a
// failure to disarm.
func (o *Orchestrator) Disarm(jobName string) {
	names := namesFor(jobName)
	for _, n := range []string{names.prewarm, names.reminder, names.main, names.view, names.poll} {
		_ = o.Wheel.RemoveByName(n)
	}
	o.mu.Lock()
	delete(o.runs, jobName)
	if key, ok := o.jobSessionKeys[jobName]; ok {
		delete(o.sessions, key)
		delete(o.jobSessionKeys, jobName)
	} else {
		delete(o.sessions, jobName)
	}
	o.mu.Unlock()
}

// Reschedule disarms oldJobName, rewrites the store under the job's new
// derived name, and re-arms from scratch. Used when a user edits a job's
// exec time, profile, or leader name — all of which change job_name.
func (o *Orchestrator) Reschedule(userID, oldJobName string, job domain.Job) (string, error) {
	o.Disarm(oldJobName)
	if err := o.Store.RemoveJob(userID, oldJobName); err != nil {
		return "", fmt.Errorf("orchestrator: remove old job: %w", err)
	}
	return o.Arm(userID, job)
}

// Rehydrate re-arms every job the store knows about whose ExecAt is
// still in the future, for use at process startup.
func (o *Orchestrator) Rehydrate(ctx context.Context) error {
	entries := o.Store.Rehydrate(ctx, o.Wheel.Now())
	for e := range entries {
		if err := o.armTimers(e.UserID, e.JobName, e.Job); err != nil {
			return fmt.Errorf("orchestrator: rehydrate %s: %w", e.JobName, err)
		}
	}
	return nil
}

// getOrBuildSession returns the cached session for jobName/userID if one
// was prewarmed, otherwise builds a cold one.
func (o *Orchestrator) getOrBuildSession(userID, jobName string, job domain.Job) (*httpclient.Session, error) {
	key := o.sessionKey(jobName, userID, job)

	o.mu.Lock()
	s, ok := o.sessions[key]
	o.mu.Unlock()
	if ok {
		return s, nil
	}

	ci, _ := o.Store.GetCI(userID)
	s, err := o.Factory.NewSession(o.Cfg.BaseURL, &job, ci)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// prewarmCallback builds (or reuses, under promotion) a warm session and
// caches it for the main/view/poll callbacks to consume.
func (o *Orchestrator) prewarmCallback(userID, jobName string, job domain.Job) clock.Callback {
	return func(h *clock.Handle, _ any) {
		key := o.sessionKey(jobName, userID, job)

		ci, _ := o.Store.GetCI(userID)
		s, err := o.Factory.NewSession(o.Cfg.BaseURL, &job, ci)
		if err != nil {
			return
		}

		ep, ok := o.Sites[job.Site]
		if ok {
			ctx, cancel := context.WithTimeout(context.Background(), o.Cfg.RequestTimeout)
			_ = httpclient.Prewarm(ctx, s, ep.BookingPath)
			cancel()
		}

		o.mu.Lock()
		o.sessions[key] = s
		o.mu.Unlock()
	}
}

// reminderCallback notifies the user with masked cookie tails so they
// can verify their session is still fresh before the booking window
// opens.
func (o *Orchestrator) reminderCallback(userID, jobName string, job domain.Job) clock.Callback {
	return func(h *clock.Handle, _ any) {
		ci, _ := o.Store.GetCI(userID)
		effective := job.Cookies.CISession
		if effective == "" {
			effective = ci
		}
		text := fmt.Sprintf("Reminder: %s fires soon. ci_session=%s", jobName, status.MaskCookie(effective))
		if o.Sink != nil {
			ctx, cancel := context.WithTimeout(context.Background(), o.Cfg.RequestTimeout)
			_ = o.Sink.Notify(ctx, job.ChatID, text, status.FormatPlain, true)
			cancel()
		}
	}
}

// mainCallback runs at exec_at: attempt the booking immediately. If
// quota is unavailable the orchestrator falls back to the poll track
// instead of reporting failure.
func (o *Orchestrator) mainCallback(userID, jobName string, job domain.Job) clock.Callback {
	return func(h *clock.Handle, _ any) {
		outcome, err := o.attempt(userID, jobName, job)
		if errors.Is(err, protocol.ErrQuotaUnavailable) {
			if o.Metrics != nil {
				o.Metrics.IncrementQuotaMisses()
			}
			o.armPoll(userID, jobName, job)
			return
		}
		o.finish(jobName, job, outcome, err)
	}
}

// viewCallback implements the capacity-change view track: it re-probes
// capacity every tick (interval walked by decorrelated jitter between
// ViewJitterBase and ViewJitterCap) and fires the booking attempt the
// first time availability transitions from unavailable/unknown to
// available, rather than waiting for exec_at. It self-cancels (and
// cancels the main track) once it fires or once end has passed.
func (o *Orchestrator) viewCallback(userID, jobName string, job domain.Job, end time.Time) clock.Callback {
	jitter := retry.NewDecorrelatedJitter(o.Cfg.ViewJitterBase, o.Cfg.ViewJitterCap)
	return func(h *clock.Handle, _ any) {
		if o.Wheel.Now().After(end) {
			h.Cancel()
			return
		}
		h.SetNextInterval(jitter.Next())

		s, err := o.getOrBuildSession(userID, jobName, job)
		if err != nil {
			return
		}
		if _, ok := o.Sites[job.Site]; !ok {
			return
		}
		row, err := o.Driver.Prober.Check(context.Background(), s, job.Site, job.BookingDate)
		if err != nil || row == nil {
			return
		}

		o.mu.Lock()
		r := o.runs[jobName]
		o.mu.Unlock()
		if r == nil {
			return
		}
		changed := row.Available && (!r.lastAvailable || row.Quota != r.lastSeenQuota)
		r.lastAvailable = row.Available
		r.lastSeenQuota = row.Quota
		if !changed {
			return
		}

		h.Cancel()
		names := namesFor(jobName)
		_ = o.Wheel.RemoveByName(names.main)

		outcome, err := o.attempt(userID, jobName, job)
		if errors.Is(err, protocol.ErrQuotaUnavailable) {
			if o.Metrics != nil {
				o.Metrics.IncrementQuotaMisses()
			}
			o.armPoll(userID, jobName, job)
			return
		}
		o.finish(jobName, job, outcome, err)
	}
}

// armPoll arms the fallback polling track: re-check capacity every
// PollInterval for up to PollMaxDuration, notifying every PollNotifyEvery
// ticks, firing the booking attempt the moment capacity opens.
func (o *Orchestrator) armPoll(userID, jobName string, job domain.Job) {
	names := namesFor(jobName)
	deadline := o.Wheel.Now().Add(o.Cfg.PollMaxDuration)
	first := o.Wheel.Now().Add(o.Cfg.PollInterval)
	if !first.After(o.Wheel.Now()) {
		return
	}

	tick := 0
	_ = o.Wheel.ScheduleRepeating(names.poll, first, o.Cfg.PollInterval, nil, func(h *clock.Handle, _ any) {
		tick++
		if o.Wheel.Now().After(deadline) {
			h.Cancel()
			if o.Sink != nil {
				ctx, cancel := context.WithTimeout(context.Background(), o.Cfg.RequestTimeout)
				_ = o.Sink.Notify(ctx, job.ChatID, fmt.Sprintf("%s: polling window exhausted, no quota opened.", jobName), status.FormatPlain, true)
				cancel()
			}
			return
		}

		if o.Metrics != nil {
			o.Metrics.IncrementPolls()
		}
		if o.Sink != nil && tick%o.Cfg.PollNotifyEvery == 0 {
			ctx, cancel := context.WithTimeout(context.Background(), o.Cfg.RequestTimeout)
			_ = o.Sink.Notify(ctx, job.ChatID, fmt.Sprintf("%s: still polling for quota (tick %d).", jobName, tick), status.FormatPlain, true)
			cancel()
		}

		s, err := o.getOrBuildSession(userID, jobName, job)
		if err != nil {
			return
		}
		row, err := o.Driver.Prober.Check(context.Background(), s, job.Site, job.BookingDate)
		if err != nil || row == nil || !row.Available {
			return
		}

		h.Cancel()
		outcome, err := o.attempt(userID, jobName, job)
		o.finish(jobName, job, outcome, err)
	})
}

// attempt claims the job's at-most-once flag and, if this caller won
// the claim, runs the protocol driver wrapped in the aggressive retry
// envelope (RetryAttempts tries, decorrelated jitter between
// RetryJitterBase and RetryJitterCap, retried only on transient network
// failures). A claim whose attempt ends in ErrQuotaUnavailable is
// released, since nothing was submitted, so the poll track can claim it.
func (o *Orchestrator) attempt(userID, jobName string, job domain.Job) (protocol.Outcome, error) {
	o.mu.Lock()
	r := o.runs[jobName]
	o.mu.Unlock()
	if r == nil || !r.claimed.CompareAndSwap(false, true) {
		return protocol.Outcome{}, errClaimed
	}

	if o.Metrics != nil {
		o.Metrics.IncrementAttempts()
	}

	s, err := o.getOrBuildSession(userID, jobName, job)
	if err != nil {
		return protocol.Outcome{}, err
	}

	var outcome protocol.Outcome
	ctx, cancel := context.WithTimeout(context.Background(), o.Cfg.SubmissionTimeout)
	defer cancel()

	err = retry.Do(ctx, o.Cfg.RetryAttempts, o.Cfg.RetryJitterBase, o.Cfg.RetryJitterCap,
		func(e error) bool { return errors.Is(e, protocol.ErrNetworkTransient) },
		func() error {
			var bookErr error
			outcome, bookErr = o.Driver.Book(ctx, job.Site, job.BookingDate, job.Profile(), s)
			return bookErr
		},
	)
	if errors.Is(err, protocol.ErrQuotaUnavailable) {
		r.claimed.Store(false)
	}
	return outcome, err
}

// errClaimed signals another timer family already claimed this job's
// single submission attempt; it is not surfaced to the user.
var errClaimed = errors.New("orchestrator: job already claimed")

// finish records the outcome, notifies the user, and tears down the
// job's remaining timers (it always ran to completion or gave up).
func (o *Orchestrator) finish(jobName string, job domain.Job, outcome protocol.Outcome, err error) {
	if errors.Is(err, errClaimed) {
		return
	}

	if o.Metrics != nil {
		if err == nil && outcome.Success {
			o.Metrics.IncrementSuccesses()
		} else {
			o.Metrics.IncrementFailures()
		}
	}

	if o.Sink != nil {
		text := resultText(jobName, outcome, err)
		ctx, cancel := context.WithTimeout(context.Background(), o.Cfg.RequestTimeout)
		_ = o.Sink.Notify(ctx, job.ChatID, text, status.FormatPlain, outcome.Link == "")
		cancel()
	}

	o.Disarm(jobName)
}

// resultText renders the terminal notification: elapsed time, and the
// booking code/link when available.
func resultText(jobName string, outcome protocol.Outcome, err error) string {
	if err != nil {
		return fmt.Sprintf("%s failed after %dms: %v", jobName, outcome.ElapsedMS, err)
	}
	if outcome.Success {
		if outcome.Link != "" {
			return fmt.Sprintf("%s booked in %dms. code=%s link=%s", jobName, outcome.ElapsedMS, outcome.Code, outcome.Link)
		}
		return fmt.Sprintf("%s booked in %dms. code=%s", jobName, outcome.ElapsedMS, outcome.Code)
	}
	return fmt.Sprintf("%s did not complete in %dms: %s", jobName, outcome.ElapsedMS, outcome.Message)
}
