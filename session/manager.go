// Package session – Manager manages the lifecycle of all sessions.
package session

import (
	"fmt"
	"sync"

	"github.com/firasghr/GoHTTPEngine/engine"
	"github.com/firasghr/GoHTTPEngine/proxy"
)

// Manager owns a set of sessions sharing one engine.
//
// Concurrency model: a sync.RWMutex protects the sessions map.  Reads
// (Get, Count) use RLock so they never block each other; writes (Create,
// CloseAll) take the full lock.
type Manager struct {
	sessions map[int]*Session
	mutex    sync.RWMutex
	eng      *engine.Engine
}

// NewManager creates an empty Manager backed by eng.
func NewManager(eng *engine.Engine) *Manager {
	return &Manager{
		sessions: make(map[int]*Session),
		eng:      eng,
	}
}

// Create instantiates count sessions, assigning each the next proxy from
// pm (nil pm means all sessions follow the engine default).  Existing
// sessions are kept; IDs continue from the current count.
func (m *Manager) Create(count int, pm *proxy.Manager) error {
	if count < 1 {
		return fmt.Errorf("session: create count must be >= 1, got %d", count)
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	base := len(m.sessions)
	for i := 0; i < count; i++ {
		id := base + i
		var prx *proxy.Proxy
		if pm != nil {
			prx = pm.Next()
		}
		s, err := New(id, m.eng, prx)
		if err != nil {
			return err
		}
		m.sessions[id] = s
	}
	return nil
}

// Get returns the session with the given ID.
func (m *Manager) Get(id int) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count returns the number of managed sessions.
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// Each calls fn for every session.  fn must not call back into the
// Manager's write methods.
func (m *Manager) Each(fn func(s *Session)) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, s := range m.sessions {
		fn(s)
	}
}

// CloseAll marks every session closed and drops expired cookies from
// their jars.  Session cookies are kept so a later restart can persist
// them if the caller chooses to.
func (m *Manager) CloseAll() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, s := range m.sessions {
		s.SetState("closed")
		s.Jar.Expire(false)
	}
}
