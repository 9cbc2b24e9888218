package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/sage-x-project/securestream/internal/metrics"
)

// Manager tracks a process's live Sessions (a relay holds two, a leader
// holds one per group member) and runs a cleanup sweep that reaps any
// session that has reached Closed or Failed.
type Manager struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	nonceCache    *NonceCache // replay guard for handshake-level request IDs
}

// NewManager creates a Manager and starts its background cleanup sweep.
func NewManager() *Manager {
	m := &Manager{
		sessions:    make(map[string]*Session),
		stopCleanup: make(chan struct{}),
		nonceCache:  NewNonceCache(10 * time.Minute),
	}
	m.cleanupTicker = time.NewTicker(30 * time.Second)
	go m.runCleanup()
	return m
}

// Add registers a constructed Session under its ID. Returns an error if a
// live session with the same ID already exists.
func (m *Manager) Add(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[s.GetID()]; ok && existing.State() != StateClosed && existing.State() != StateFailed {
		return fmt.Errorf("session %s already exists", s.GetID())
	}
	m.sessions[s.GetID()] = s
	metrics.SessionsCreated.WithLabelValues("success").Inc()
	metrics.SessionsActive.Inc()
	return nil
}

// GetSession retrieves a session by ID, pruning it first if it has reached
// a terminal state.
func (m *Manager) GetSession(sessionID string) (*Session, bool) {
	m.mu.RLock()
	sess, exists := m.sessions[sessionID]
	m.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if sess.State() == StateClosed || sess.State() == StateFailed {
		m.RemoveSession(sessionID)
		return nil, false
	}
	return sess, true
}

// RemoveSession closes (if needed) and drops a session from the table.
func (m *Manager) RemoveSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.sessions[sessionID]
	if !exists {
		return
	}
	if sess.State() != StateClosed && sess.State() != StateFailed {
		_ = sess.Close()
	}
	delete(m.sessions, sessionID)
	metrics.SessionsActive.Dec()
	if sess.State() == StateFailed {
		metrics.SessionsExpired.Inc()
	} else {
		metrics.SessionsClosed.Inc()
	}
}

// ListSessions returns all tracked session IDs.
func (m *Manager) ListSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// GetSessionCount returns the number of tracked sessions.
func (m *Manager) GetSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetSessionStats summarizes tracked sessions by state.
func (m *Manager) GetSessionStats() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Status{TotalSessions: len(m.sessions)}
	for _, sess := range m.sessions {
		switch sess.State() {
		case StateClosed, StateFailed:
			stats.ExpiredSessions++
		default:
			stats.ActiveSessions++
		}
	}
	return stats
}

// ReplayGuardSeenOnce reports whether (keyid, nonce) was already observed,
// used by handshake request de-duplication. Returns true on replay.
func (m *Manager) ReplayGuardSeenOnce(keyid, nonce string) bool {
	if m.nonceCache == nil {
		return false
	}
	return m.nonceCache.Seen(keyid, nonce)
}

// Close stops the manager's cleanup sweep and closes every tracked session.
func (m *Manager) Close() error {
	close(m.stopCleanup)
	if m.cleanupTicker != nil {
		m.cleanupTicker.Stop()
	}
	if m.nonceCache != nil {
		m.nonceCache.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range m.sessions {
		_ = sess.Close()
	}
	m.sessions = make(map[string]*Session)
	return nil
}

func (m *Manager) runCleanup() {
	for {
		select {
		case <-m.cleanupTicker.C:
			m.cleanupTerminalSessions()
		case <-m.stopCleanup:
			return
		}
	}
}

func (m *Manager) cleanupTerminalSessions() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var terminal []string
	for id, sess := range m.sessions {
		if sess.State() == StateClosed || sess.State() == StateFailed {
			terminal = append(terminal, id)
		}
	}
	for _, id := range terminal {
		delete(m.sessions, id)
		metrics.SessionsActive.Dec()
	}
}
