// ABOUTME: Register service: websocket registration endpoint plus directory HTTP API.
// ABOUTME: Hands newly registering agents the address of a currently known monitor node.

package register

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/overwatch-io/overwatch/internal/protocol"
)

// maxFrameSize bounds a single registration frame.
const maxFrameSize = 1 << 20

// Service is the discovery directory service. It terminates short-lived
// registration channels and serves read-only directory queries over HTTP.
type Service struct {
	directory *Directory
	logger    *slog.Logger

	httpServer *http.Server
}

// NewService creates a Service listening on the given address.
func NewService(addr string, logger *slog.Logger) *Service {
	s := &Service{
		directory: NewDirectory(),
		logger:    logger.With("component", "register"),
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Directory exposes the underlying directory, mainly for tests.
func (s *Service) Directory() *Directory {
	return s.directory
}

// Handler returns the HTTP handler serving /ws and the directory endpoints.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /clients", s.handleClients)
	mux.HandleFunc("GET /servers", s.handleServers)
	mux.HandleFunc("GET /client/{name}", s.handleClient)
	return mux
}

// Run starts the service and blocks until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("register service listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("register server: %w", err)
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

// handleWS terminates one registration channel. Each channel is independent
// and short-lived from the caller's perspective; the service keeps reading
// until the peer closes.
func (s *Service) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameSize)

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Closure by either side ends the channel; registration channels
			// are expected to disconnect after discovery.
			s.logger.Debug("registration channel closed", "remote", r.RemoteAddr)
			return
		}

		var cmd protocol.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.replyError(ctx, conn, fmt.Errorf("decoding command: %w", err))
			continue
		}

		if err := s.handleCommand(ctx, conn, &cmd); err != nil {
			s.replyError(ctx, conn, err)
		}
	}
}

// handleCommand dispatches one envelope. Unknown tags are logged and
// ignored; malformed contents surface as an error reply on the channel.
func (s *Service) handleCommand(ctx context.Context, conn *websocket.Conn, cmd *protocol.Command) error {
	switch cmd.Type {
	case protocol.TypeClientRegist:
		agent, err := cmd.Client()
		if err != nil {
			return err
		}
		s.directory.UpsertAgent(*agent)
		s.logger.Info("client registered", "name", agent.Name, "address", agent.Address)

		// Hand back one known monitor. With none known the agent gets no
		// reply and retries the whole discovery step on its own.
		node, ok := s.directory.PickMonitor()
		if !ok {
			s.logger.Warn("no monitor node known, agent gets no reply", "name", agent.Name)
			return nil
		}
		if err := wsjson.Write(ctx, conn, node); err != nil {
			return fmt.Errorf("replying with monitor node: %w", err)
		}

	case protocol.TypeClientOnline:
		agent, err := cmd.Client()
		if err != nil {
			return err
		}
		s.directory.UpsertAgent(*agent)
		s.logger.Info("client online", "name", agent.Name)

	case protocol.TypeServerOnline:
		addr, err := cmd.MonitorAddress()
		if err != nil {
			return err
		}
		s.directory.UpsertMonitor(protocol.MonitorNode{Address: addr})
		s.logger.Info("monitor online", "address", addr)

	default:
		s.logger.Warn("unknown command type", "type", cmd.Type)
	}
	return nil
}

// replyError sends a per-message error payload without closing the channel.
func (s *Service) replyError(ctx context.Context, conn *websocket.Conn, cmdErr error) {
	s.logger.Error("error processing command", "error", cmdErr)
	if err := wsjson.Write(ctx, conn, protocol.ErrorReply{Error: cmdErr.Error()}); err != nil {
		s.logger.Warn("failed to send error reply", "error", err)
	}
}

func (s *Service) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "overwatch register service is running"})
}

func (s *Service) handleClients(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"clients": s.directory.Agents()})
}

func (s *Service) handleServers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"servers": s.directory.Monitors()})
}

func (s *Service) handleClient(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	agent, ok := s.directory.GetAgent(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, protocol.ErrorReply{Error: "client not found"})
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
