// Package live serves check-in conversations over a WebSocket.
package live

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SessionManager tracks the live connection of each check-in. One employee may
// have several check-ins open, but each check-in has at most one socket.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Count returns the number of live connections.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// Register adds a connection, closing any older one for the same check-in.
func (m *SessionManager) Register(employeeID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[employeeID]; !exists {
		m.active[employeeID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[employeeID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusPolicyViolation, "replaced by a newer connection")
	}

	m.active[employeeID][sessionID] = conn
	slog.Info("Live check-in registered", "employee_id", employeeID, "session_id", sessionID)
}

// Unregister removes a connection if it is still the current one.
func (m *SessionManager) Unregister(employeeID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[employeeID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, employeeID)
			}
			slog.Info("Live check-in unregistered", "employee_id", employeeID, "session_id", sessionID)
		}
	}
}

// CloseAll terminates every live connection, used on shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for employeeID, sessions := range m.active {
		for sid, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			slog.Info("Live check-in closed", "employee_id", employeeID, "session_id", sid)
		}
	}
	m.active = make(map[string]map[string]*websocket.Conn)
}
