// Package session keeps live presentation sessions and drives the per-session
// event loop that connects the browser client to the decision engine.
package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/pitchcoach/internal/analysis"
	"github.com/MrWong99/pitchcoach/internal/conversation"
	"github.com/MrWong99/pitchcoach/internal/observe"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session: not found")

// Result is the outcome of analysing a session.
type Result struct {
	Transcript string
	Duration   time.Duration
	Report     *analysis.Report
	Script     string
	AnalyzedAt time.Time
}

// Session is one presentation. The conversation is owned by the session's
// event loop; the remaining accessors are safe for concurrent use.
type Session struct {
	ID        string
	CreatedAt time.Time

	conv *conversation.Conversation

	mu           sync.RWMutex
	attached     bool
	greetingSent bool
	result       *Result
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		CreatedAt: now,
		conv:      conversation.New(),
	}
}

// Conversation returns the session's conversation.
func (s *Session) Conversation() *conversation.Conversation {
	return s.conv
}

// TryAttach claims the session for one live connection. It returns false
// while another connection holds the claim. Release it with [Session.Detach].
func (s *Session) TryAttach() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached {
		return false
	}
	s.attached = true
	return true
}

// Detach releases the claim taken by [Session.TryAttach].
func (s *Session) Detach() {
	s.mu.Lock()
	s.attached = false
	s.mu.Unlock()
}

// GreetingSent reports whether the customer avatar has greeted the presenter.
func (s *Session) GreetingSent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.greetingSent
}

func (s *Session) markGreetingSent() {
	s.mu.Lock()
	s.greetingSent = true
	s.mu.Unlock()
}

// SetResult stores the latest analysis, replacing any earlier one.
func (s *Session) SetResult(r Result) {
	s.mu.Lock()
	s.result = &r
	s.mu.Unlock()
}

// Result returns the latest analysis. ok is false until one was stored.
func (s *Session) Result() (r Result, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result == nil {
		return Result{}, false
	}
	return *s.result, true
}

// Store holds live sessions in memory. All methods are safe for concurrent
// use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  *observe.Metrics
	now      func() time.Time
}

// StoreOption configures a [Store].
type StoreOption func(*Store)

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) StoreOption {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithClock overrides the time source for session timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore returns an empty Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Create registers a new session with a random UUID.
func (s *Store) Create(ctx context.Context) *Session {
	sess := newSession(uuid.NewString(), s.now().UTC())

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session created", "session_id", sess.ID)
	return sess
}

// Get returns the session with id or [ErrNotFound].
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Delete removes the session with id. It reports whether it existed.
func (s *Store) Delete(ctx context.Context, id string) bool {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		s.metrics.ActiveSessions.Add(ctx, -1)
		slog.Info("session deleted", "session_id", id)
	}
	return ok
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// List returns all live sessions, oldest first.
func (s *Store) List() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
