// Package store persists the booking engine's job records across
// restarts: a single JSON document holding every user's ci_session token
// and job map, rewritten atomically on every mutation. It generalizes the
// teacher's in-memory SessionManager (session/manager.go) from a warm
// fleet of live *http.Client sessions into an on-disk registry of
// scheduled bookings.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/npbooking/bookingengine/internal/domain"
)

// document is the on-disk shape: user id -> UserRecord.
type document map[string]*domain.UserRecord

// Store is the job registry. It loads its document fully into memory at
// Open and keeps it there; every mutation rewrites the whole document to
// disk via renameio (write-temp-in-same-dir, fsync, rename).
type Store struct {
	path string

	// docMu guards the in-memory document and serializes on-disk
	// rewrites so two different users' writes never interleave their
	// renameio calls.
	docMu sync.RWMutex
	doc   document

	// userLocks serializes mutations against a single user's record
	// (spec: "store writes are serialized per user record"), independent
	// of the broader docMu which only needs to be held for the span of
	// reading/rewriting the document itself.
	userLocksMu sync.Mutex
	userLocks   map[string]*sync.Mutex
}

// Open loads the document at path, creating an empty one if path does
// not yet exist.
func Open(path string) (*Store, error) {
	s := &Store{
		path:      path,
		doc:       make(document),
		userLocks: make(map[string]*sync.Mutex),
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is operator-configured store location
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("store: read %q: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("store: decode %q: %w", path, err)
	}
	return s, nil
}

func (s *Store) lockFor(userID string) *sync.Mutex {
	s.userLocksMu.Lock()
	defer s.userLocksMu.Unlock()
	l, ok := s.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[userID] = l
	}
	return l
}

// persist rewrites the entire document to disk. Caller must hold docMu
// for writing.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("store: write %q: %w", s.path, err)
	}
	return nil
}

// PutJob upserts job under userID keyed by its derived job name, and
// persists the document.
func (s *Store) PutJob(userID, jobName string, job domain.Job) error {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	s.docMu.Lock()
	defer s.docMu.Unlock()

	rec, ok := s.doc[userID]
	if !ok {
		rec = &domain.UserRecord{Jobs: make(map[string]domain.Job)}
		s.doc[userID] = rec
	}
	if rec.Jobs == nil {
		rec.Jobs = make(map[string]domain.Job)
	}
	rec.Jobs[jobName] = job
	return s.persist()
}

// GetJob returns the named job for userID. ok is false if the user or
// job doesn't exist.
func (s *Store) GetJob(userID, jobName string) (job domain.Job, ok bool) {
	s.docMu.RLock()
	defer s.docMu.RUnlock()

	rec, exists := s.doc[userID]
	if !exists {
		return domain.Job{}, false
	}
	job, ok = rec.Jobs[jobName]
	return job, ok
}

// RemoveJob deletes the named job for userID and persists the document.
// No-op (not an error) if the job doesn't exist.
func (s *Store) RemoveJob(userID, jobName string) error {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	s.docMu.Lock()
	defer s.docMu.Unlock()

	rec, exists := s.doc[userID]
	if !exists {
		return nil
	}
	if _, ok := rec.Jobs[jobName]; !ok {
		return nil
	}
	delete(rec.Jobs, jobName)
	return s.persist()
}

// ListJobsByUser returns a copy of every job currently stored for userID,
// keyed by job name.
func (s *Store) ListJobsByUser(userID string) map[string]domain.Job {
	s.docMu.RLock()
	defer s.docMu.RUnlock()

	rec, exists := s.doc[userID]
	if !exists {
		return nil
	}
	out := make(map[string]domain.Job, len(rec.Jobs))
	for name, j := range rec.Jobs {
		out[name] = j
	}
	return out
}

// GetCI returns the user-global ci_session token, if any.
func (s *Store) GetCI(userID string) (string, bool) {
	s.docMu.RLock()
	defer s.docMu.RUnlock()

	rec, exists := s.doc[userID]
	if !exists || rec.CISession == "" {
		return "", false
	}
	return rec.CISession, true
}

// SetCI sets the user-global ci_session token and persists the document.
func (s *Store) SetCI(userID, ci string) error {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	s.docMu.Lock()
	defer s.docMu.Unlock()

	rec, ok := s.doc[userID]
	if !ok {
		rec = &domain.UserRecord{Jobs: make(map[string]domain.Job)}
		s.doc[userID] = rec
	}
	rec.CISession = ci
	return s.persist()
}

// RehydrationEntry pairs a stored job with the user id that owns it, for
// the orchestrator to re-arm timers against at boot.
type RehydrationEntry struct {
	UserID  string
	JobName string
	Job     domain.Job
}

// Rehydrate emits every stored job whose ExecAt is still in the future
// relative to now, for the caller to re-arm. The channel is closed after
// all entries are sent or ctx is cancelled.
func (s *Store) Rehydrate(ctx context.Context, now time.Time) <-chan RehydrationEntry {
	out := make(chan RehydrationEntry)

	s.docMu.RLock()
	entries := make([]RehydrationEntry, 0)
	for userID, rec := range s.doc {
		for name, job := range rec.Jobs {
			if job.ExecAt.After(now) {
				entries = append(entries, RehydrationEntry{UserID: userID, JobName: name, Job: job})
			}
		}
	}
	s.docMu.RUnlock()

	go func() {
		defer close(out)
		for _, e := range entries {
			select {
			case <-ctx.Done():
				return
			case out <- e:
			}
		}
	}()

	return out
}
