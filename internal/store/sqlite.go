// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite.
// ABOUTME: Provides agent directory and report persistence with automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/overwatch-io/overwatch/internal/protocol"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Serialize writers at the driver level; the telemetry fan-in writes
	// concurrently from many sessions.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			name       TEXT PRIMARY KEY,
			address    TEXT NOT NULL,
			online     INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			last_seen  DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_agents_online ON agents(online);

		CREATE TABLE IF NOT EXISTS reports (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_name     TEXT NOT NULL,
			os             TEXT NOT NULL,
			load           REAL NOT NULL,
			cpus           INTEGER NOT NULL,
			memory_total   REAL,
			memory_used    REAL,
			memory_percent REAL,
			disk_total     REAL,
			disk_used      REAL,
			disk_percent   REAL,
			timestamp      DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_reports_agent_timestamp
			ON reports(agent_name, timestamp);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertAgent inserts or refreshes an agent identity, bumping last_seen.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, agent protocol.Agent) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (name, address, online, created_at, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			address = excluded.address,
			online = excluded.online,
			last_seen = excluded.last_seen
	`, agent.Name, agent.Address, agent.Online, now, now)
	if err != nil {
		return fmt.Errorf("upserting agent %s: %w", agent.Name, err)
	}
	return nil
}

// SetAgentOnline flips the online flag of a known agent. Unknown agents
// return ErrNotFound.
func (s *SQLiteStore) SetAgentOnline(ctx context.Context, name string, online bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET online = ?, last_seen = ? WHERE name = ?`,
		online, time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("updating agent %s online state: %w", name, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update of agent %s: %w", name, err)
	}
	if rows == 0 {
		return fmt.Errorf("agent %s: %w", name, ErrNotFound)
	}
	return nil
}

// GetAgent retrieves a single agent by name.
func (s *SQLiteStore) GetAgent(ctx context.Context, name string) (*AgentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, address, online, created_at, last_seen FROM agents WHERE name = ?`, name)

	var rec AgentRecord
	err := row.Scan(&rec.Name, &rec.Address, &rec.Online, &rec.CreatedAt, &rec.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting agent %s: %w", name, err)
	}
	return &rec, nil
}

// ListAgents returns all known agents, online or not, ordered by name.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*AgentRecord, error) {
	return s.queryAgents(ctx,
		`SELECT name, address, online, created_at, last_seen FROM agents ORDER BY name`)
}

// ListOnlineAgents returns only the agents currently marked online.
func (s *SQLiteStore) ListOnlineAgents(ctx context.Context) ([]*AgentRecord, error) {
	return s.queryAgents(ctx,
		`SELECT name, address, online, created_at, last_seen FROM agents WHERE online = 1 ORDER BY name`)
}

// ListOfflineAgents returns the known-but-offline agents, the set an
// operator wants alerted on.
func (s *SQLiteStore) ListOfflineAgents(ctx context.Context) ([]*AgentRecord, error) {
	return s.queryAgents(ctx,
		`SELECT name, address, online, created_at, last_seen FROM agents WHERE online = 0 ORDER BY name`)
}

func (s *SQLiteStore) queryAgents(ctx context.Context, query string) ([]*AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var agents []*AgentRecord
	for rows.Next() {
		var rec AgentRecord
		if err := rows.Scan(&rec.Name, &rec.Address, &rec.Online, &rec.CreatedAt, &rec.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		agents = append(agents, &rec)
	}
	return agents, rows.Err()
}

// DeleteAgent removes an agent and its reports. Unknown agents return ErrNotFound.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting delete of agent %s: %w", name, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting agent %s: %w", name, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete of agent %s: %w", name, err)
	}
	if rows == 0 {
		return fmt.Errorf("agent %s: %w", name, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE agent_name = ?`, name); err != nil {
		return fmt.Errorf("deleting reports of agent %s: %w", name, err)
	}

	return tx.Commit()
}

// AppendReport persists one telemetry sample. Samples are accepted in any
// timestamp order; reads sort for presentation.
func (s *SQLiteStore) AppendReport(ctx context.Context, report *protocol.Report) error {
	ts := report.Timestamp.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (
			agent_name, os, load, cpus,
			memory_total, memory_used, memory_percent,
			disk_total, disk_used, disk_percent,
			timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, report.Name, report.OS, report.Load, report.CPUs,
		report.MemoryTotal, report.MemoryUsed, report.MemoryPercent,
		report.DiskTotal, report.DiskUsed, report.DiskPercent,
		ts.UTC())
	if err != nil {
		return fmt.Errorf("appending report for %s: %w", report.Name, err)
	}
	return nil
}

// ReportsByAgent returns the samples for one agent within [start, end],
// ascending by timestamp with insertion order breaking ties.
func (s *SQLiteStore) ReportsByAgent(ctx context.Context, name string, start, end time.Time) ([]*ReportRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_name, os, load, cpus,
			memory_total, memory_used, memory_percent,
			disk_total, disk_used, disk_percent,
			timestamp
		FROM reports
		WHERE agent_name = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, id ASC
	`, name, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying reports for %s: %w", name, err)
	}
	defer rows.Close()

	return scanReports(rows)
}

// LatestReports returns the most recent sample per agent. Ties on timestamp
// resolve to the highest id, i.e. the last write wins.
func (s *SQLiteStore) LatestReports(ctx context.Context) ([]*ReportRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.agent_name, r.os, r.load, r.cpus,
			r.memory_total, r.memory_used, r.memory_percent,
			r.disk_total, r.disk_used, r.disk_percent,
			r.timestamp
		FROM reports r
		JOIN (
			SELECT agent_name, MAX(id) AS max_id
			FROM reports r2
			WHERE timestamp = (
				SELECT MAX(timestamp) FROM reports r3 WHERE r3.agent_name = r2.agent_name
			)
			GROUP BY agent_name
		) latest ON latest.max_id = r.id
		ORDER BY r.agent_name
	`)
	if err != nil {
		return nil, fmt.Errorf("querying latest reports: %w", err)
	}
	defer rows.Close()

	return scanReports(rows)
}

func scanReports(rows *sql.Rows) ([]*ReportRecord, error) {
	var records []*ReportRecord
	for rows.Next() {
		var rec ReportRecord
		var ts time.Time
		err := rows.Scan(&rec.ID, &rec.Report.Name, &rec.Report.OS, &rec.Report.Load, &rec.Report.CPUs,
			&rec.Report.MemoryTotal, &rec.Report.MemoryUsed, &rec.Report.MemoryPercent,
			&rec.Report.DiskTotal, &rec.Report.DiskUsed, &rec.Report.DiskPercent,
			&ts)
		if err != nil {
			return nil, fmt.Errorf("scanning report row: %w", err)
		}
		rec.Report.Timestamp = protocol.FromTime(ts.UTC())
		records = append(records, &rec)
	}
	return records, rows.Err()
}
