package session

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when no live session exists for a user id.
	ErrNotFound = errors.New("session: not found")
	// ErrExpired is returned when a session existed but idled past its TTL.
	ErrExpired = errors.New("session: expired")
)

// Store is a keyed, TTL-governed holder of sessions. All access goes through
// the store lock so per-user state is never mutated concurrently. Expired and
// terminal sessions are dropped lazily on lookup and by a background sweep.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewStore creates a store whose sessions expire after ttl of inactivity.
// A background sweeper runs until Close is called.
func NewStore(ttl time.Duration) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Close stops the background sweeper.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Start creates a fresh session in AWAITING_CONFIG for the user, replacing
// any existing one. It returns a snapshot of the new session.
func (s *Store) Start(userID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess := &Session{
		UserID:       userID,
		State:        StateAwaitingConfig,
		LastActivity: now,
		CreatedAt:    now,
	}
	s.sessions[userID] = sess
	return sess.clone()
}

// Get returns a snapshot of the user's session. ErrExpired is reported once
// for a session that idled out; ErrNotFound otherwise.
func (s *Store) Get(userID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.live(userID)
	if err != nil {
		return nil, err
	}
	return sess.clone(), nil
}

// Mutate runs fn against the user's session under the store lock and stamps
// LastActivity on success. fn sees the real session and may change any field;
// returning an error leaves LastActivity untouched.
func (s *Store) Mutate(userID string, fn func(*Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.live(userID)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		return err
	}
	sess.LastActivity = s.now()
	return nil
}

// Delete removes the user's session if present.
func (s *Store) Delete(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// Len reports the number of live sessions, evicting stale ones as a side
// effect. Used for the active-sessions gauge.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, sess := range s.sessions {
		if s.stale(sess, now) {
			delete(s.sessions, id)
		}
	}
	return len(s.sessions)
}

// live returns the session for userID after lazy eviction. Caller holds the
// lock.
func (s *Store) live(userID string) (*Session, error) {
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.State.Terminal() {
		delete(s.sessions, userID)
		return nil, ErrNotFound
	}
	if s.expired(sess, s.now()) {
		delete(s.sessions, userID)
		return nil, ErrExpired
	}
	return sess, nil
}

func (s *Store) expired(sess *Session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.LastActivity) > s.ttl
}

func (s *Store) stale(sess *Session, now time.Time) bool {
	return sess.State.Terminal() || s.expired(sess, now)
}

func (s *Store) sweep() {
	interval := s.ttl
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Len()
		}
	}
}
