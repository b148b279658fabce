package render

import "sync"

// Manager holds the active interactive session. Replacing or closing it
// disposes the previous session.
type Manager struct {
	mu      sync.Mutex
	current *Session
}

// Replace installs s and closes the session it replaces.
func (m *Manager) Replace(s *Session) {
	m.mu.Lock()
	prev := m.current
	m.current = s
	m.mu.Unlock()
	if prev != nil && prev != s {
		prev.Close()
	}
}

// Current returns the active session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close disposes the active session.
func (m *Manager) Close() {
	m.Replace(nil)
}
