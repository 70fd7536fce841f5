// Package session owns the table of live tool-call sessions. Each session
// carries its own context, its own per-session resources and a one-slot
// semaphore that serializes the calls made within it.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrNotFound = errors.New("session not found or expired")
	ErrLimit    = errors.New("session limit reached")
	ErrClosed   = errors.New("session closed")
)

// Close reasons reported to hooks.
const (
	ReasonClient   = "client"
	ReasonIdle     = "idle"
	ReasonShutdown = "shutdown"
)

// State is the per-session resource bundle released on close.
type State interface {
	Close() error
}

// Session is one client conversation.
type Session struct {
	ID        string
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	sem    chan struct{}
	state  State
	calls  atomic.Int64

	mu         sync.Mutex
	lastAccess time.Time
	inflight   int
	closed     bool
}

// ShortID is the loggable prefix of a token. Full tokens never reach logs.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// State returns the per-session resources.
func (s *Session) State() State { return s.state }

// LastAccess is the time of the most recent request.
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// Calls is the number of calls admitted so far.
func (s *Session) Calls() int64 { return s.calls.Load() }

// Acquire waits for the session's call slot. The returned release must be
// called exactly once. Acquire fails if ctx ends or the session closes first.
func (s *Session) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, ErrClosed
	}
	if s.ctx.Err() != nil {
		<-s.sem
		return nil, ErrClosed
	}
	s.calls.Add(1)
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.inflight--
			s.mu.Unlock()
			<-s.sem
		})
	}, nil
}

// checkout touches the session on behalf of a new request. A session past
// timeout is marked closed instead and reported as expired so the caller
// tears it down. ok is false for closed and expired sessions.
func (s *Session) checkout(now time.Time, timeout time.Duration) (ok, expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	if s.inflight == 0 && now.Sub(s.lastAccess) > timeout {
		s.closed = true
		return false, true
	}
	s.lastAccess = now
	return true, false
}

// idle reports whether the session exceeded timeout with no call running.
func (s *Session) idle(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight == 0 && now.Sub(s.lastAccess) > timeout
}

// expire marks the session closed only if it is still idle. A request that
// touched it after the sweeper picked it keeps it alive.
func (s *Session) expire(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.inflight > 0 || now.Sub(s.lastAccess) <= timeout {
		return false
	}
	s.closed = true
	return true
}

func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

type ctxKey struct{}

// WithSession binds s to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session bound to ctx.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok
}
