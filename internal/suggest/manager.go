package suggest

import (
	"errors"
	"strings"
	"sync"
)

var (
	errMissingViewID = errors.New("suggest: missing view id")
	errManagerClosed = errors.New("suggest: manager closed")
)

// Manager owns one Engine per conversation view without serializing
// unrelated views against each other. Engines are created on demand and torn
// down explicitly when the view goes away.
type Manager struct {
	newEngine func(viewID string) (*Engine, error)

	mu      sync.Mutex
	engines map[string]*Engine
	closed  bool
}

func NewManager(newEngine func(viewID string) (*Engine, error)) *Manager {
	return &Manager{
		newEngine: newEngine,
		engines:   make(map[string]*Engine),
	}
}

// Get returns the engine for a view, creating it on first use.
func (m *Manager) Get(viewID string) (*Engine, error) {
	viewID = strings.TrimSpace(viewID)
	if viewID == "" {
		return nil, errMissingViewID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errManagerClosed
	}
	if e := m.engines[viewID]; e != nil {
		return e, nil
	}
	e, err := m.newEngine(viewID)
	if err != nil {
		return nil, err
	}
	m.engines[viewID] = e
	return e, nil
}

// Remove tears down the engine for a view, if any.
func (m *Manager) Remove(viewID string) {
	m.mu.Lock()
	e := m.engines[viewID]
	delete(m.engines, viewID)
	m.mu.Unlock()
	if e != nil {
		e.Close()
	}
}

// Close stops every engine.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.engines = make(map[string]*Engine)
	m.mu.Unlock()

	for _, e := range engines {
		e.Close()
	}
}
