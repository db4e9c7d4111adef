package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session: not found")

	// ErrTooManySessions is returned by Create when the limit is reached.
	ErrTooManySessions = errors.New("session: too many open sessions")
)

// Manager owns the open sessions of a process. All methods are safe for
// concurrent use.
type Manager struct {
	cfg         Config
	maxSessions int

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a Manager that builds every session from cfg. A
// maxSessions of zero means unlimited.
func NewManager(cfg Config, maxSessions int) *Manager {
	return &Manager{
		cfg:         cfg,
		maxSessions: maxSessions,
		sessions:    make(map[string]*Session),
	}
}

// Create opens a new session with a random id.
func (m *Manager) Create() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return nil, fmt.Errorf("%w (limit %d)", ErrTooManySessions, m.maxSessions)
	}
	s, err := New(uuid.NewString(), m.cfg)
	if err != nil {
		return nil, err
	}
	m.sessions[s.ID()] = s
	return s, nil
}

// Reconfigure applies update to the configuration of sessions created from
// now on and replaces the session limit. Open sessions are unaffected.
func (m *Manager) Reconfigure(maxSessions int, update func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxSessions = maxSessions
	if update != nil {
		update(&m.cfg)
	}
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Close closes and forgets the session with id.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.Close()
	return nil
}

// List returns snapshots of all open sessions ordered by id.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(all))
	for _, s := range all {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CloseAll closes every session. Used during shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}
