package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Options configures a Manager.
type Options struct {
	IdleTimeout time.Duration
	MaxSessions int
	// NewState builds per-session resources; nil leaves State empty.
	NewState func(s *Session) State
	// OnOpen and OnClose observe lifecycle transitions.
	OnOpen  func(s *Session)
	OnClose func(s *Session, reason string)
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Manager is the session table.
type Manager struct {
	opts Options
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty session table.
func NewManager(opts Options) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		opts:     opts,
		now:      now,
		sessions: make(map[string]*Session),
	}
}

// Create mints a new session with a fresh unguessable token. Its state is
// built before the session becomes visible in the table.
func (m *Manager) Create() (*Session, error) {
	now := m.now()
	ctx, cancel := context.WithCancelCause(context.Background())
	s := &Session{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		ctx:        ctx,
		cancel:     cancel,
		sem:        make(chan struct{}, 1),
		lastAccess: now,
	}
	if m.opts.NewState != nil {
		s.state = m.opts.NewState(s)
	}

	m.mu.Lock()
	if m.opts.MaxSessions > 0 && len(m.sessions) >= m.opts.MaxSessions {
		m.mu.Unlock()
		s.markClosed()
		cancel(ErrLimit)
		if s.state != nil {
			_ = s.state.Close()
		}
		return nil, ErrLimit
	}
	m.sessions[s.ID] = s
	m.mu.Unlock()

	log.Printf("AUDIT: session opened id=%s", ShortID(s.ID))
	if m.opts.OnOpen != nil {
		m.opts.OnOpen(s)
	}
	return s, nil
}

// Get resolves id and touches its last access. Sessions past the idle
// timeout are closed here rather than returned.
func (m *Manager) Get(id string) (*Session, error) {
	now := m.now()
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	ok, expired := s.checkout(now, m.opts.IdleTimeout)
	if expired {
		m.teardown(s, ReasonIdle)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Close tears down the session named by id.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if !m.close(s, ReasonClient) {
		return ErrNotFound
	}
	return nil
}

func (m *Manager) close(s *Session, reason string) bool {
	if !s.markClosed() {
		return false
	}
	m.teardown(s, reason)
	return true
}

// teardown cancels a session already marked closed, releases its state and
// only then drops the table entry. Get ignores the session meanwhile.
func (m *Manager) teardown(s *Session, reason string) {
	s.cancel(ErrClosed)
	if s.state != nil {
		if err := s.state.Close(); err != nil {
			log.Printf("session %s: release resources: %v", ShortID(s.ID), err)
		}
	}

	m.mu.Lock()
	if m.sessions[s.ID] == s {
		delete(m.sessions, s.ID)
	}
	m.mu.Unlock()

	log.Printf("AUDIT: session closed id=%s reason=%s calls=%d", ShortID(s.ID), reason, s.Calls())
	if m.opts.OnClose != nil {
		m.opts.OnClose(s, reason)
	}
}

// Sweep closes every idle session and returns how many it closed.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	var expired []*Session
	for _, s := range m.sessions {
		if s.idle(now, m.opts.IdleTimeout) {
			expired = append(expired, s)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, s := range expired {
		if s.expire(now, m.opts.IdleTimeout) {
			m.teardown(s, ReasonIdle)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx ends, then closes all sessions.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return nil
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				log.Printf("session sweep closed %d idle sessions", n)
			}
		}
	}
}

// CloseAll closes every live session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()
	for _, s := range all {
		m.close(s, ReasonShutdown)
	}
}

// Len is the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
