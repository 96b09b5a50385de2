// ABOUTME: Tests for the register service: discovery handoff, error replies, directory API.
// ABOUTME: Runs a real websocket endpoint via httptest and dials it as an agent would.

package register

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overwatch-io/overwatch/internal/protocol"
)

func newTestService(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()
	svc := NewService("127.0.0.1:0", slog.Default())
	ts := httptest.NewServer(svc.Handler())
	t.Cleanup(ts.Close)
	return svc, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func sendCommand(t *testing.T, conn *websocket.Conn, cmd *protocol.Command) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, cmd))
}

func TestClientRegistReceivesKnownMonitor(t *testing.T) {
	_, ts := newTestService(t)

	// Monitor announces itself first
	monitorConn := dialWS(t, ts)
	online, err := protocol.NewServerOnline("10.0.0.5:10641")
	require.NoError(t, err)
	sendCommand(t, monitorConn, online)
	monitorConn.Close(websocket.StatusNormalClosure, "")

	// Agent registers and must get exactly that monitor back
	agentConn := dialWS(t, ts)
	regist, err := protocol.NewClientRegist(protocol.Agent{Name: "AGENT001", Address: "127.0.0.1", Online: true})
	require.NoError(t, err)
	sendCommand(t, agentConn, regist)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var node protocol.MonitorNode
	require.NoError(t, wsjson.Read(ctx, agentConn, &node))
	assert.Equal(t, "10.0.0.5:10641", node.Address)
}

func TestClientRegistNoMonitorNoReply(t *testing.T) {
	svc, ts := newTestService(t)

	agentConn := dialWS(t, ts)
	regist, err := protocol.NewClientRegist(protocol.Agent{Name: "AGENT001", Address: "127.0.0.1", Online: true})
	require.NoError(t, err)
	sendCommand(t, agentConn, regist)

	// The agent entry is recorded even though no reply goes out
	require.Eventually(t, func() bool {
		_, ok := svc.Directory().GetAgent("AGENT001")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// No frame arrives within the wait window
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	var node protocol.MonitorNode
	err = wsjson.Read(ctx, agentConn, &node)
	assert.Error(t, err, "expected no reply when no monitor is known")
}

func TestClientOnlineUpsertsWithoutReply(t *testing.T) {
	svc, ts := newTestService(t)

	conn := dialWS(t, ts)
	online, err := protocol.NewClientOnline(protocol.Agent{Name: "AGENT002", Address: "127.0.0.1", Online: true})
	require.NoError(t, err)
	sendCommand(t, conn, online)

	require.Eventually(t, func() bool {
		agent, ok := svc.Directory().GetAgent("AGENT002")
		return ok && agent.Online
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedCommandKeepsChannelOpen(t *testing.T) {
	_, ts := newTestService(t)
	conn := dialWS(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// CLIENT_REGIST without contents is a protocol error
	require.NoError(t, wsjson.Write(ctx, conn, &protocol.Command{
		Type:     protocol.TypeClientRegist,
		Contents: map[string]json.RawMessage{},
	}))

	var reply protocol.ErrorReply
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	assert.NotEmpty(t, reply.Error)

	// The channel must still work after the error
	online, err := protocol.NewServerOnline("10.0.0.6:10641")
	require.NoError(t, err)
	sendCommand(t, conn, online)

	regist, err := protocol.NewClientRegist(protocol.Agent{Name: "AGENT003", Address: "127.0.0.1", Online: true})
	require.NoError(t, err)
	sendCommand(t, conn, regist)

	var node protocol.MonitorNode
	require.NoError(t, wsjson.Read(ctx, conn, &node))
	assert.Equal(t, "10.0.0.6:10641", node.Address)
}

func TestUnknownCommandIgnored(t *testing.T) {
	_, ts := newTestService(t)
	conn := dialWS(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, conn, &protocol.Command{Type: "FUTURE_TAG"}))

	// No error reply, channel still serves the next command
	online, err := protocol.NewServerOnline("10.0.0.7:10641")
	require.NoError(t, err)
	sendCommand(t, conn, online)

	regist, err := protocol.NewClientRegist(protocol.Agent{Name: "AGENT004", Address: "127.0.0.1", Online: true})
	require.NoError(t, err)
	sendCommand(t, conn, regist)

	var node protocol.MonitorNode
	require.NoError(t, wsjson.Read(ctx, conn, &node))
	assert.Equal(t, "10.0.0.7:10641", node.Address)
}

func TestDirectoryEndpoints(t *testing.T) {
	svc, ts := newTestService(t)
	svc.Directory().UpsertAgent(protocol.Agent{Name: "AGENT005", Address: "127.0.0.1", Online: true})
	svc.Directory().UpsertMonitor(protocol.MonitorNode{Address: "10.0.0.8:10641"})

	t.Run("root", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("clients", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/clients")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body struct {
			Clients []protocol.Agent `json:"clients"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body.Clients, 1)
		assert.Equal(t, "AGENT005", body.Clients[0].Name)
	})

	t.Run("servers", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/servers")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body struct {
			Servers []protocol.MonitorNode `json:"servers"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body.Servers, 1)
		assert.Equal(t, "10.0.0.8:10641", body.Servers[0].Address)
	})

	t.Run("client by name", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/client/AGENT005")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var agent protocol.Agent
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&agent))
		assert.Equal(t, "AGENT005", agent.Name)
	})

	t.Run("unknown client", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/client/NOPE")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestPickMonitorEmpty(t *testing.T) {
	d := NewDirectory()
	_, ok := d.PickMonitor()
	assert.False(t, ok)

	d.UpsertMonitor(protocol.MonitorNode{Address: "m1:10641"})
	node, ok := d.PickMonitor()
	assert.True(t, ok)
	assert.Equal(t, "m1:10641", node.Address)
}
