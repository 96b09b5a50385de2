// ABOUTME: Tests for the connection manager's session lifecycle invariants.
// ABOUTME: Covers online/offline transitions, idempotency, superseding, and deletes.

package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overwatch-io/overwatch/internal/protocol"
	"github.com/overwatch-io/overwatch/internal/store"
)

// fakeConn records close calls so tests can assert forced teardowns.
type fakeConn struct {
	closes atomic.Int64
}

func (f *fakeConn) Close(code websocket.StatusCode, reason string) error {
	f.closes.Add(1)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewManager(st, discardLogger()), st
}

// failingStore wraps a real store and injects errors per method.
type failingStore struct {
	store.Store
	upsertErr error
}

func (f *failingStore) UpsertAgent(ctx context.Context, agent protocol.Agent) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	return f.Store.UpsertAgent(ctx, agent)
}

func TestManagerRegisterStoreFailureLeavesNoSession(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	failing := &failingStore{Store: st, upsertErr: errors.New("disk full")}
	m := NewManager(failing, discardLogger())

	sess := NewSession("AG1", "10.0.0.1", &fakeConn{})
	require.Error(t, m.Register(ctx, sess))

	// A failed Register must not leave a session behind: the caller closes
	// the transport and never arms its cleanup path.
	assert.False(t, m.Online("AG1"))
	assert.Empty(t, m.Sessions())

	// The store recovers; the same agent can register cleanly.
	failing.upsertErr = nil
	require.NoError(t, m.Register(ctx, sess))
	assert.True(t, m.Online("AG1"))
}

func TestManagerOnlineMatchesSessionSet(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	sess := NewSession("AG1", "10.0.0.1", &fakeConn{})
	require.NoError(t, m.Register(ctx, sess))

	assert.True(t, m.Online("AG1"))
	rec, err := st.GetAgent(ctx, "AG1")
	require.NoError(t, err)
	assert.True(t, rec.Online)

	m.Unregister(ctx, sess)

	assert.False(t, m.Online("AG1"))
	rec, err = st.GetAgent(ctx, "AG1")
	require.NoError(t, err)
	assert.False(t, rec.Online, "agent stays known but offline after disconnect")
}

func TestManagerUnregisterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	first := NewSession("AG1", "10.0.0.1", &fakeConn{})
	require.NoError(t, m.Register(ctx, first))
	m.Unregister(ctx, first)

	// Agent reconnects; the stale session's second unregister must not
	// touch the new one.
	second := NewSession("AG1", "10.0.0.1", &fakeConn{})
	require.NoError(t, m.Register(ctx, second))
	m.Unregister(ctx, first)

	assert.True(t, m.Online("AG1"))
	rec, err := st.GetAgent(ctx, "AG1")
	require.NoError(t, err)
	assert.True(t, rec.Online)
}

func TestManagerDuplicateConnectionSupersedes(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	oldConn := &fakeConn{}
	old := NewSession("AG1", "10.0.0.1", oldConn)
	require.NoError(t, m.Register(ctx, old))

	replacement := NewSession("AG1", "10.0.0.2", &fakeConn{})
	require.NoError(t, m.Register(ctx, replacement))

	assert.Equal(t, int64(1), oldConn.closes.Load(), "superseded transport must be closed")
	assert.True(t, m.Online("AG1"))

	// The superseded handler's deferred cleanup is a no-op.
	m.Unregister(ctx, old)
	assert.True(t, m.Online("AG1"))

	m.Unregister(ctx, replacement)
	assert.False(t, m.Online("AG1"))
	rec, err := st.GetAgent(ctx, "AG1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", rec.Address, "address follows the most recent connection")
}

func TestManagerHandleReport(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	err := m.HandleReport(ctx, &protocol.Report{Name: "", Load: 0.1, CPUs: 4})
	assert.Error(t, err, "report without an agent name is rejected")

	err = m.HandleReport(ctx, &protocol.Report{Name: "AG1", OS: "x86_64Linux6.1.0", Load: 0.1, CPUs: 4})
	require.NoError(t, err)

	records, err := st.LatestReports(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "AG1", records[0].Report.Name)
	assert.False(t, records[0].Report.Timestamp.IsZero(), "missing timestamp is stamped on arrival")
}

func TestManagerDeleteAgentForcesOffline(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	conn := &fakeConn{}
	sess := NewSession("AG1", "10.0.0.1", conn)
	require.NoError(t, m.Register(ctx, sess))
	require.NoError(t, m.HandleReport(ctx, &protocol.Report{Name: "AG1", Load: 0.2, CPUs: 2}))

	require.NoError(t, m.DeleteAgent(ctx, "AG1"))

	assert.Equal(t, int64(1), conn.closes.Load())
	assert.False(t, m.Online("AG1"))
	_, err := st.GetAgent(ctx, "AG1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	records, err := st.LatestReports(ctx)
	require.NoError(t, err)
	assert.Empty(t, records, "delete removes the agent's samples too")

	assert.ErrorIs(t, m.DeleteAgent(ctx, "AG1"), store.ErrNotFound)
}

func TestManagerSessionsSnapshot(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	require.NoError(t, m.Register(ctx, NewSession("AG1", "10.0.0.1", &fakeConn{})))
	require.NoError(t, m.Register(ctx, NewSession("AG2", "10.0.0.2", &fakeConn{})))

	infos := m.Sessions()
	require.Len(t, infos, 2)
	names := map[string]bool{}
	for _, info := range infos {
		names[info.AgentName] = true
		assert.False(t, info.LastSeen.IsZero())
	}
	assert.True(t, names["AG1"] && names["AG2"])
}
