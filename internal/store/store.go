// ABOUTME: Store interface and data types for overwatch persistence.
// ABOUTME: Defines AgentRecord, ReportRecord and the Store interface for database operations.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/overwatch-io/overwatch/internal/protocol"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// AgentRecord is the persisted identity of an agent, kept after the agent
// goes offline so the fleet view shows known-but-offline hosts.
type AgentRecord struct {
	Name      string
	Address   string
	Online    bool
	CreatedAt time.Time
	LastSeen  time.Time
}

// ReportRecord is one persisted telemetry sample. ID reflects insertion
// order and breaks timestamp ties (last write wins).
type ReportRecord struct {
	ID     int64
	Report protocol.Report
}

// Store defines the interface for agent directory and report persistence.
// Implementations must tolerate concurrent writers and must not reject
// out-of-order report timestamps; ordering is applied only on read.
type Store interface {
	// Agents
	UpsertAgent(ctx context.Context, agent protocol.Agent) error
	SetAgentOnline(ctx context.Context, name string, online bool) error
	GetAgent(ctx context.Context, name string) (*AgentRecord, error)
	ListAgents(ctx context.Context) ([]*AgentRecord, error)
	ListOnlineAgents(ctx context.Context) ([]*AgentRecord, error)
	ListOfflineAgents(ctx context.Context) ([]*AgentRecord, error)
	DeleteAgent(ctx context.Context, name string) error

	// Reports
	AppendReport(ctx context.Context, report *protocol.Report) error
	ReportsByAgent(ctx context.Context, name string, start, end time.Time) ([]*ReportRecord, error)
	LatestReports(ctx context.Context) ([]*ReportRecord, error)

	// Close releases any resources held by the store.
	Close() error
}
