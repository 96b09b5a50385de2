// ABOUTME: End-to-end test running register service, monitor server, and agent
// ABOUTME: together over real websockets with a real SQLite report store.

package agent_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overwatch-io/overwatch/internal/agent"
	"github.com/overwatch-io/overwatch/internal/config"
	"github.com/overwatch-io/overwatch/internal/monitor"
	"github.com/overwatch-io/overwatch/internal/register"
	"github.com/overwatch-io/overwatch/internal/store"
)

func TestFullSessionLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("end-to-end test")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "e2e.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	// Register service.
	regSvc := register.NewService("127.0.0.1:0", logger)
	regHTTP := httptest.NewServer(regSvc.Handler())
	t.Cleanup(regHTTP.Close)
	regWS := "ws" + strings.TrimPrefix(regHTTP.URL, "http") + "/ws"

	// Monitor server, announced to the register.
	monSrv := monitor.NewServer(&config.MonitorConfig{
		ListenAddr:    "127.0.0.1:0",
		RegisterURL:   regWS,
		AdvertiseAddr: "unset",
	}, st, logger)
	monHTTP := httptest.NewServer(monSrv.Handler())
	t.Cleanup(monHTTP.Close)
	monAddr := strings.TrimPrefix(monHTTP.URL, "http://")
	require.NoError(t, monitor.Announce(ctx, regWS, monAddr))

	// Agent with a fast cadence so the test observes several samples.
	interval := 50 * time.Millisecond
	a := agent.New(&config.AgentConfig{
		RegisterURL:    regWS,
		Address:        "127.0.0.1",
		ReportInterval: interval,
		RetryDelay:     100 * time.Millisecond,
	}, logger)
	name := a.Identity().Name

	agentCtx, stopAgent := context.WithCancel(ctx)
	agentDone := make(chan struct{})
	go func() {
		defer close(agentDone)
		a.Run(agentCtx)
	}()

	// Discovery and CLIENT_ONLINE flip the agent online.
	require.Eventually(t, func() bool {
		rec, err := st.GetAgent(ctx, name)
		return err == nil && rec.Online
	}, 5*time.Second, 10*time.Millisecond, "agent never came online")

	// Samples accumulate at the report cadence.
	require.Eventually(t, func() bool {
		records, err := st.ReportsByAgent(ctx, name, time.Unix(0, 0), time.Now().Add(time.Hour))
		return err == nil && len(records) >= 3
	}, 5*time.Second, 10*time.Millisecond, "reports never accumulated")

	records, err := st.LatestReports(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, name, records[0].Report.Name)
	assert.Greater(t, records[0].Report.CPUs, 0)

	// Stopping the agent closes the channel; the monitor flips it offline
	// and the sample history survives.
	stopAgent()
	<-agentDone

	require.Eventually(t, func() bool {
		rec, err := st.GetAgent(ctx, name)
		return err == nil && !rec.Online
	}, 5*time.Second, 10*time.Millisecond, "agent never went offline")

	after, err := st.ReportsByAgent(ctx, name, time.Unix(0, 0), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.NotEmpty(t, after)

	// No samples arrive once the channel is down.
	count := len(after)
	time.Sleep(5 * interval)
	final, err := st.ReportsByAgent(ctx, name, time.Unix(0, 0), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, final, count, "no reports may arrive after the agent stopped")
}
