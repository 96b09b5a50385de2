// ABOUTME: Monitor server: terminates telemetry channels and wires the connection manager.
// ABOUTME: Serves /ws for agents plus the query API consumed by the dashboard layer.

package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/overwatch-io/overwatch/internal/config"
	"github.com/overwatch-io/overwatch/internal/protocol"
	"github.com/overwatch-io/overwatch/internal/store"
)

// maxFrameSize bounds a single telemetry frame.
const maxFrameSize = 1 << 20

// Server is the monitor server. It owns the connection manager and the
// report store, and announces itself to the register service at startup.
type Server struct {
	cfg     *config.MonitorConfig
	manager *Manager
	store   store.Store
	logger  *slog.Logger

	httpServer *http.Server
}

// NewServer creates a monitor Server from configuration.
func NewServer(cfg *config.MonitorConfig, st store.Store, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		manager: NewManager(st, logger),
		store:   st,
		logger:  logger.With("component", "monitor"),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Manager exposes the connection manager, mainly for tests.
func (s *Server) Manager() *Manager {
	return s.manager
}

// Handler returns the HTTP handler serving the telemetry endpoint and the
// query API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("GET /health", s.handleHealth)
	s.registerAPIRoutes(mux)
	return mux
}

// Run starts the server, announces it to the register service, and blocks
// until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	// Startup must not block on the register service being up; the
	// announcer retries in the background.
	go s.announceLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("monitor server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("monitor server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// handleWS terminates one telemetry channel.
// Protocol flow:
//  1. Agent sends CLIENT_ONLINE (anything else closes the channel)
//  2. Agent streams CLIENT_REPORT frames, no acknowledgements
//  3. Transport closure from either side flips the agent offline
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameSize)

	ctx := r.Context()

	agent, err := s.awaitClientOnline(ctx, conn)
	if err != nil {
		s.logger.Warn("telemetry channel rejected", "error", err, "remote", r.RemoteAddr)
		conn.Close(websocket.StatusPolicyViolation, "first message must be CLIENT_ONLINE")
		return
	}

	sess := NewSession(agent.Name, agent.Address, conn)
	if err := s.manager.Register(ctx, sess); err != nil {
		s.logger.Error("registering session", "agent", agent.Name, "error", err)
		conn.Close(websocket.StatusInternalError, "registration failed")
		return
	}

	// The sole offline path: when this handler returns, for any reason,
	// the session is destroyed and the agent flips offline exactly once.
	defer s.manager.Unregister(context.WithoutCancel(ctx), sess)

	s.readLoop(ctx, conn, sess)
}

// awaitClientOnline reads the first frame, which must be a valid CLIENT_ONLINE.
func (s *Server) awaitClientOnline(ctx context.Context, conn *websocket.Conn) (*protocol.Agent, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading first frame: %w", err)
	}

	var cmd protocol.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("decoding first frame: %w", err)
	}
	if cmd.Type != protocol.TypeClientOnline {
		return nil, fmt.Errorf("expected %s, got %s", protocol.TypeClientOnline, cmd.Type)
	}
	return cmd.Client()
}

// readLoop drains the telemetry stream until the transport closes. Protocol
// errors on this long-lived channel are logged and the frame dropped; the
// channel stays open. Only transport errors end the session.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *Session) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.logger.Info("agent closed telemetry channel", "agent", sess.AgentName)
			} else {
				s.logger.Info("telemetry channel ended", "agent", sess.AgentName, "error", err)
			}
			return
		}
		sess.Touch()

		var cmd protocol.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.logger.Warn("dropping malformed frame", "agent", sess.AgentName, "error", err)
			continue
		}

		switch cmd.Type {
		case protocol.TypeClientReport:
			report, err := cmd.Report()
			if err != nil {
				s.logger.Warn("dropping bad report", "agent", sess.AgentName, "error", err)
				continue
			}
			if err := s.manager.HandleReport(ctx, report); err != nil {
				// Application error: skip this sample, keep the channel
				s.logger.Error("handling report", "agent", sess.AgentName, "error", err)
			}

		case protocol.TypeClientOnline:
			s.logger.Warn("duplicate CLIENT_ONLINE on open channel", "agent", sess.AgentName)

		default:
			s.logger.Warn("unknown command type on telemetry channel",
				"agent", sess.AgentName, "type", cmd.Type)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
