package mcpapi

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Session tracks a single MCP Streamable HTTP client by its
// Mcp-Session-Id. Unlike the teacher's MCPSession, there is no
// entity-attachment state here; a session is purely a liveness and
// identity record for the duration it stays open.
type Session struct {
	ID         string
	CallerKey  string
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// SessionManager owns the session table, enforcing the hard concurrent
// session cap and evicting sessions idle past IdleTimeout. Grounded on
// session_old_ref.go's mutex-guarded map plus ticker-driven sweep, with
// the attachment CRUD dropped and a counted admission gate added.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	count       atomic.Int32
	MaxSessions int32

	IdleTimeout time.Duration
	ScanEvery   time.Duration

	now func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// ErrSessionLimitReached is returned by Create once MaxSessions concurrent
// sessions are already open.
type ErrSessionLimitReached struct{}

func (ErrSessionLimitReached) Error() string { return "maximum concurrent MCP sessions reached" }

// NewSessionManager builds a manager and starts its background sweep.
func NewSessionManager(maxSessions int, idleTimeout, scanEvery time.Duration) *SessionManager {
	m := &SessionManager{
		sessions:    make(map[string]*Session),
		MaxSessions: int32(maxSessions),
		IdleTimeout: idleTimeout,
		ScanEvery:   scanEvery,
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Create allocates a new session for callerKey, rejecting the request once
// MaxSessions are already open.
func (m *SessionManager) Create(callerKey string) (*Session, error) {
	if m.MaxSessions > 0 {
		for {
			cur := m.count.Load()
			if cur >= m.MaxSessions {
				return nil, ErrSessionLimitReached{}
			}
			if m.count.CompareAndSwap(cur, cur+1) {
				break
			}
		}
	}

	now := m.now()
	s := &Session{
		ID:         uuid.NewString(),
		CallerKey:  callerKey,
		CreatedAt:  now,
		LastSeenAt: now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s, nil
}

// Get returns the session and touches its last-seen time, or reports it
// missing (never created, expired, or explicitly deleted).
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	s.LastSeenAt = m.now()
	return s, true
}

// Delete removes a session immediately, releasing its slot.
func (m *SessionManager) Delete(id string) bool {
	m.mu.Lock()
	_, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if ok {
		m.count.Add(-1)
	}
	return ok
}

// Len reports the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *SessionManager) sweepLoop() {
	ticker := time.NewTicker(m.ScanEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepExpired()
		case <-m.stopCh:
			return
		}
	}
}

func (m *SessionManager) sweepExpired() {
	now := m.now()
	var expired []string

	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastSeenAt) > m.IdleTimeout {
			expired = append(expired, id)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	if len(expired) > 0 {
		m.count.Add(-int32(len(expired)))
		log.Info().Int("count", len(expired)).Msg("mcp sessions expired on idle sweep")
	}
}

// Stop halts the background sweep. Safe to call more than once.
func (m *SessionManager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// WithClock overrides the manager's time source for deterministic tests.
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	m.now = now
	return m
}
