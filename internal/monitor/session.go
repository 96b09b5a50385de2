// ABOUTME: Represents a single live telemetry channel from an agent.
// ABOUTME: Exists exactly while the underlying transport is open; tracks last activity.

package monitor

import (
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Conn is the subset of the websocket connection a session needs. Tests
// substitute a fake; production code passes *websocket.Conn.
type Conn interface {
	Close(code websocket.StatusCode, reason string) error
}

// Session is the in-memory record of one live agent connection. It is
// created when a valid CLIENT_ONLINE arrives and destroyed on disconnect;
// it is never persisted.
type Session struct {
	AgentName string
	Address   string

	conn     Conn
	mu       sync.Mutex
	lastSeen time.Time
}

// NewSession creates a session for an agent whose transport just opened.
func NewSession(name, address string, conn Conn) *Session {
	return &Session{
		AgentName: name,
		Address:   address,
		conn:      conn,
		lastSeen:  time.Now().UTC(),
	}
}

// Touch records activity on the channel.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now().UTC()
}

// LastSeen returns the time of the last frame received on this channel.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Close tears down the underlying transport. Safe to call more than once;
// the websocket layer treats repeat closes as no-ops errors which we drop.
func (s *Session) Close(code websocket.StatusCode, reason string) {
	_ = s.conn.Close(code, reason)
}
