// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/heavenlysubs/submux/internal/log"
	"github.com/heavenlysubs/submux/internal/metrics"
)

// ErrExists is returned by Create when the principal already owns a session.
var ErrExists = errors.New("session already exists")

// ErrNotFound is returned when no session exists for the principal.
var ErrNotFound = errors.New("no active session")

type entry struct {
	mu sync.Mutex
	s  *Session
}

// Store maps principals to sessions. Locks are strictly per-key and short;
// the store itself only guards the map.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*entry
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[int64]*entry),
		now:      time.Now,
	}
}

// Create inserts a fresh session for the principal. A principal owns at most
// one active session.
func (st *Store) Create(principal int64, stage Stage) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.sessions[principal]; ok {
		return nil, ErrExists
	}
	now := st.now()
	s := &Session{
		Principal:    principal,
		Stage:        stage,
		Meta:         make(map[MetaKey]string),
		CreatedAt:    now,
		LastActivity: now,
	}
	st.sessions[principal] = &entry{s: s}
	metrics.SessionsActive.Set(float64(len(st.sessions)))
	return s, nil
}

func (st *Store) lookup(principal int64) (*entry, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.sessions[principal]
	return e, ok
}

// Exists reports whether the principal has an active session.
func (st *Store) Exists(principal int64) bool {
	_, ok := st.lookup(principal)
	return ok
}

// Mutate runs fn on the principal's session under its per-key lock. The
// session pointer must not escape fn.
func (st *Store) Mutate(principal int64, fn func(*Session) error) error {
	e, ok := st.lookup(principal)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s == nil {
		return ErrNotFound
	}
	e.s.Touch(st.now())
	return fn(e.s)
}

// View runs fn on a read-only snapshot under the per-key lock, without
// refreshing the idle clock.
func (st *Store) View(principal int64, fn func(*Session)) error {
	e, ok := st.lookup(principal)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s == nil {
		return ErrNotFound
	}
	fn(e.s)
	return nil
}

// Terminate releases the session's temp files and removes the entry in the
// same critical section. Invoking it on an absent principal is a no-op, so
// cleanup is idempotent. cleanup, when non-nil, runs before the temp files
// are unlinked (final surface edits, subprocess cancellation).
func (st *Store) Terminate(principal int64, outcome string, cleanup func(*Session)) {
	e, ok := st.lookup(principal)
	if !ok {
		return
	}

	e.mu.Lock()
	s := e.s
	if s == nil {
		e.mu.Unlock()
		return
	}
	e.s = nil

	if s.Cancel != nil {
		s.Cancel()
	}
	if cleanup != nil {
		cleanup(s)
	}
	logger := log.WithPrincipal("session", principal)
	for _, path := range s.TempFiles {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Str("path", path).Msg("failed to remove temp file")
		}
	}

	st.mu.Lock()
	delete(st.sessions, principal)
	metrics.SessionsActive.Set(float64(len(st.sessions)))
	st.mu.Unlock()
	e.mu.Unlock()

	metrics.SessionsTerminated.WithLabelValues(outcome).Inc()
	logger.Info().Str("outcome", outcome).Msg("session terminated")
}

// Principals returns the ids of all live sessions.
func (st *Store) Principals() []int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]int64, 0, len(st.sessions))
	for id := range st.sessions {
		out = append(out, id)
	}
	return out
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Reap runs until ctx is done, terminating sessions idle longer than
// horizon. expire is invoked outside any store lock for each victim so the
// caller can run its cancellation path.
func (st *Store) Reap(ctx context.Context, horizon, interval time.Duration, expire func(principal int64)) {
	logger := log.WithComponent("session")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := st.now().Add(-horizon)
			for _, id := range st.Principals() {
				var idle bool
				_ = st.View(id, func(s *Session) {
					idle = s.LastActivity.Before(cutoff)
				})
				if idle {
					logger.Info().Int64("principal", id).Msg("idle session expired")
					expire(id)
				}
			}
		}
	}
}
