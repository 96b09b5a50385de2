// Package store provides persistent storage for agent identities and
// telemetry reports using SQLite.
//
// # Interface
//
// Store is the single interface; SQLiteStore is the only implementation.
// Agents are keyed by name and survive disconnects as known-but-offline
// rows. Reports are append-only and are deleted only together with their
// agent.
//
// # SQLite configuration
//
// WAL mode with a busy timeout, so a streaming writer and API readers can
// share the file:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Use NewSQLiteStore(":memory:") in tests that do not need a file.
//
// # Errors
//
// ErrNotFound is returned when the named agent does not exist. All methods
// accept context.Context.
package store
