package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/zenmesh/transport/pkg/errors"
	"github.com/zenmesh/transport/pkg/logger"
	"github.com/zenmesh/transport/pkg/types"
)

// Manager is the keyed registry from session id to Router. Session ids are
// uniformly random (UUIDv4) and never reused.
type Manager struct {
	log logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Router
}

// NewManager constructs an empty session registry.
func NewManager(log logger.Logger) *Manager {
	return &Manager{log: log, sessions: make(map[string]*Router)}
}

// CreateSession constructs a pipeline runner from the manifest via the given
// factory, builds its Router, starts the output driver, and returns the new
// session id.
func (m *Manager) CreateSession(manifest Manifest, factory RunnerFactory, peers PeerSource) (string, error) {
	runner, err := factory(manifest)
	if err != nil {
		return "", errors.NewEncodingError("pipeline runner construction failed", err)
	}

	id := uuid.New().String()
	router := NewRouter(id, manifest, runner, peers, m.log)
	router.Start()

	m.mu.Lock()
	m.sessions[id] = router
	m.mu.Unlock()

	m.log.Info("session created", logger.String("session_id", id))
	return id, nil
}

// GetSession looks up a session's router by id.
func (m *Manager) GetSession(id string) (*Router, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	router, ok := m.sessions[id]
	if !ok {
		return nil, errors.NewTransportSessionNotFoundError(id)
	}
	return router, nil
}

// TerminateSession stops the router, closes the pipeline handle, and removes
// the session from the registry. Participating peers are not removed from
// the transport — only from this session's routing tables.
func (m *Manager) TerminateSession(id string) error {
	m.mu.Lock()
	router, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return errors.NewTransportSessionNotFoundError(id)
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	m.log.Info("terminating session", logger.String("session_id", id))
	return router.Close()
}

// RemovePeerFromSession removes one peer from a session's routing tables,
// without affecting the peer's underlying transport connection.
func (m *Manager) RemovePeerFromSession(peerID types.PeerID, sessionID string) error {
	router, err := m.GetSession(sessionID)
	if err != nil {
		return err
	}
	router.RemovePeer(peerID)
	return nil
}

// ListSessions returns every live session id.
func (m *Manager) ListSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown terminates every session, used by Transport.shutdown.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	routers := make([]*Router, 0, len(m.sessions))
	for id, router := range m.sessions {
		routers = append(routers, router)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, router := range routers {
		if err := router.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
