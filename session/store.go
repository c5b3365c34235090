package session

import (
	"log/slog"
	"sync"

	"github.com/rephi/rephi-go/rbac"
)

// Session is an immutable snapshot of the authentication state.
type Session struct {
	User  *rbac.User `json:"user"`
	Token string     `json:"token"`
}

// Authenticated reports whether the snapshot carries both a user and a
// token. It is derived, never stored independently.
func (s Session) Authenticated() bool {
	return s.User != nil && s.Token != ""
}

// Persister stores one session snapshot durably.
type Persister interface {
	Save(s Session) error
	Load() (Session, bool, error)
	Clear() error
}

// Store owns the process-wide session. All mutation goes through SetAuth
// and Logout; reads return copies of the snapshot.
type Store struct {
	mu       sync.Mutex
	current  Session
	persist  Persister
	watchers map[int]func(Session)
	nextID   int
	logger   *slog.Logger
}

// NewStore creates a Store, rehydrating from the persister when one is
// given. A snapshot that fails to load or violates the authenticated
// invariant is treated as corrupt: the store starts empty and the
// persisted state is cleared.
func NewStore(p Persister, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	st := &Store{
		persist:  p,
		watchers: make(map[int]func(Session)),
		logger:   logger,
	}
	if p == nil {
		return st
	}

	snap, ok, err := p.Load()
	if err != nil {
		logger.Warn("session rehydration failed, clearing", "error", err)
		_ = p.Clear()
		return st
	}
	if !ok {
		return st
	}
	if !snap.Authenticated() {
		// Partial snapshot (user without token or vice versa) is corrupt.
		logger.Warn("persisted session incomplete, clearing")
		_ = p.Clear()
		return st
	}
	st.current = snap
	return st
}

// SetAuth replaces the session atomically and persists it. The user is
// replaced wholesale; the store performs no validation of user or token
// shape. Watchers observe the new snapshot after the lock is released.
func (s *Store) SetAuth(user *rbac.User, token string) error {
	s.mu.Lock()
	s.current = Session{User: user, Token: token}
	snap := s.current
	err := s.saveLocked(snap)
	fns := s.watcherListLocked()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
	return err
}

// Logout clears the session atomically and removes the persisted state,
// including the token mirror. Safe to call when already logged out.
func (s *Store) Logout() error {
	s.mu.Lock()
	s.current = Session{}
	snap := s.current
	var err error
	if s.persist != nil {
		err = s.persist.Clear()
	}
	fns := s.watcherListLocked()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
	return err
}

// Current returns the current snapshot.
func (s *Store) Current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Authenticated reports whether a user is currently signed in.
func (s *Store) Authenticated() bool {
	return s.Current().Authenticated()
}

// Token returns the current bearer token, empty when logged out. This is
// the subscription-free accessor used by the socket manager.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Token
}

// User returns the current user, nil when logged out.
func (s *Store) User() *rbac.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.User
}

// Watch registers fn to run after every mutation with the new snapshot.
// The returned cancel func removes the registration and is idempotent.
func (s *Store) Watch(fn func(Session)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *Store) saveLocked(snap Session) error {
	if s.persist == nil {
		return nil
	}
	if err := s.persist.Save(snap); err != nil {
		s.logger.Warn("session persist failed", "error", err)
		return err
	}
	return nil
}

func (s *Store) watcherListLocked() []func(Session) {
	if len(s.watchers) == 0 {
		return nil
	}
	fns := make([]func(Session), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	return fns
}
