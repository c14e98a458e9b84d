package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SocketRegistry tracks the open WebSocket of each live session. A session
// has at most one socket; a new one replaces the old.
type SocketRegistry struct {
	mu     sync.Mutex
	active map[string]*websocket.Conn
}

// NewSocketRegistry creates an empty registry.
func NewSocketRegistry() *SocketRegistry {
	return &SocketRegistry{active: make(map[string]*websocket.Conn)}
}

// Register records conn for sessionID, closing any previous socket.
func (m *SocketRegistry) Register(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[sessionID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusPolicyViolation, "session opened elsewhere")
	}
	m.active[sessionID] = conn
}

// Unregister forgets conn if it is still the socket of sessionID.
func (m *SocketRegistry) Unregister(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[sessionID]; ok && current == conn {
		delete(m.active, sessionID)
	}
}

// Close terminates the socket of sessionID, if any.
func (m *SocketRegistry) Close(sessionID string) {
	m.mu.Lock()
	conn, ok := m.active[sessionID]
	delete(m.active, sessionID)
	m.mu.Unlock()

	if !ok {
		return
	}
	_ = conn.Close(websocket.StatusGoingAway, "session closed")
	slog.Info("Onboarding socket closed by server", "session_id", sessionID)
}

// Len returns the number of open sockets.
func (m *SocketRegistry) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
