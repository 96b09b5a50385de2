// ABOUTME: Manages live agent sessions and translates channel lifecycle into online/offline state.
// ABOUTME: Central fan-in point persisting identity transitions and telemetry samples.

package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/overwatch-io/overwatch/internal/protocol"
	"github.com/overwatch-io/overwatch/internal/store"
)

// Manager owns the set of live agent sessions. The invariant it maintains:
// an agent's persisted online flag is true iff a session currently exists
// for that agent name. There is no heartbeat timeout; transport closure is
// the sole offline signal.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store  store.Store
	logger *slog.Logger
}

// NewManager creates a Manager persisting into the given store.
func NewManager(st store.Store, logger *slog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		store:    st,
		logger:   logger.With("component", "connection-manager"),
	}
}

// Register records a new live session and flips the agent online. The
// online transition is persisted first; a session only enters the map once
// the store write succeeded, so a failed Register leaves no session behind.
// A second connection for the same name supersedes the first: the old
// transport is closed and its deferred cleanup will find itself no longer
// current.
func (m *Manager) Register(ctx context.Context, sess *Session) error {
	agent := protocol.Agent{Name: sess.AgentName, Address: sess.Address, Online: true}
	if err := m.store.UpsertAgent(ctx, agent); err != nil {
		return fmt.Errorf("persisting online transition for %s: %w", sess.AgentName, err)
	}

	m.mu.Lock()
	if old, exists := m.sessions[sess.AgentName]; exists {
		old.Close(websocket.StatusPolicyViolation, "superseded by new connection")
		m.logger.Warn("session superseded", "agent", sess.AgentName)
	}
	m.sessions[sess.AgentName] = sess
	total := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("agent online",
		"agent", sess.AgentName,
		"address", sess.Address,
		"total_sessions", total,
	)
	return nil
}

// Unregister destroys a session and flips the agent offline, keeping it
// visible as known-but-offline. Idempotent: only the session that currently
// holds the name takes it offline, so double-closes and superseded
// connections are no-ops.
func (m *Manager) Unregister(ctx context.Context, sess *Session) {
	m.mu.Lock()
	current, exists := m.sessions[sess.AgentName]
	if !exists || current != sess {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, sess.AgentName)
	total := len(m.sessions)
	m.mu.Unlock()

	if err := m.store.SetAgentOnline(ctx, sess.AgentName, false); err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logger.Error("persisting offline transition", "agent", sess.AgentName, "error", err)
	}

	m.logger.Info("agent offline",
		"agent", sess.AgentName,
		"total_sessions", total,
	)
}

// HandleReport validates and appends one telemetry sample. Fire-and-forget
// from the agent's perspective: the caller logs failures and keeps reading.
func (m *Manager) HandleReport(ctx context.Context, report *protocol.Report) error {
	if err := report.Validate(); err != nil {
		return fmt.Errorf("invalid report: %w", err)
	}
	if report.Timestamp.IsZero() {
		report.Timestamp = protocol.Now()
	}
	if err := m.store.AppendReport(ctx, report); err != nil {
		return fmt.Errorf("storing report: %w", err)
	}
	return nil
}

// Online reports whether a live session currently exists for the agent.
func (m *Manager) Online(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[name]
	return ok
}

// SessionInfo is a point-in-time view of one live session.
type SessionInfo struct {
	AgentName string
	Address   string
	LastSeen  time.Time
}

// Sessions returns a snapshot of all live sessions.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, SessionInfo{
			AgentName: s.AgentName,
			Address:   s.Address,
			LastSeen:  s.LastSeen(),
		})
	}
	return infos
}

// DeleteAgent removes an agent entirely. A currently online agent is forced
// offline first: its transport is closed and the session record dropped, so
// the delete only ever acts on an offline agent.
func (m *Manager) DeleteAgent(ctx context.Context, name string) error {
	m.mu.Lock()
	if sess, exists := m.sessions[name]; exists {
		sess.Close(websocket.StatusGoingAway, "agent deleted")
		delete(m.sessions, name)
		m.logger.Info("forced live agent offline for delete", "agent", name)
	}
	m.mu.Unlock()

	if err := m.store.DeleteAgent(ctx, name); err != nil {
		return fmt.Errorf("deleting agent %s: %w", name, err)
	}

	m.logger.Info("agent deleted", "agent", name)
	return nil
}
