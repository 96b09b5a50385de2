// ABOUTME: HTTP query API over the directory and report store.
// ABOUTME: Read/write surface consumed by the dashboard layer; not part of the telemetry protocol.

package monitor

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/overwatch-io/overwatch/internal/protocol"
	"github.com/overwatch-io/overwatch/internal/store"
)

// AgentResponse is the JSON shape for agent listings.
type AgentResponse struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Online   bool   `json:"online"`
	LastSeen string `json:"last_seen"`
}

// ReportResponse is the JSON shape for telemetry samples.
type ReportResponse struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	OS            string   `json:"os"`
	Load          float64  `json:"avgload"`
	CPUs          int      `json:"cpunum"`
	MemoryTotal   *float64 `json:"memory_total,omitempty"`
	MemoryUsed    *float64 `json:"memory_used,omitempty"`
	MemoryPercent *float64 `json:"memory_percent,omitempty"`
	DiskTotal     *float64 `json:"disk_total,omitempty"`
	DiskUsed      *float64 `json:"disk_used,omitempty"`
	DiskPercent   *float64 `json:"disk_percent,omitempty"`
	Timestamp     int64    `json:"timestamp"`
}

func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("GET /api/agents/online", s.handleListOnline)
	mux.HandleFunc("GET /api/agents/offline", s.handleListOffline)
	mux.HandleFunc("GET /api/agents/{name}/reports", s.handleAgentReports)
	mux.HandleFunc("GET /api/reports/latest", s.handleLatestReports)
	mux.HandleFunc("DELETE /api/agents/{name}", s.handleDeleteAgent)
}

// handleListAgents returns every known agent with its online status. The
// online flag comes straight from the store, which the connection manager
// keeps in lockstep with the live session set.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		s.apiError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, agentResponses(agents))
}

func (s *Server) handleListOnline(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListOnlineAgents(r.Context())
	if err != nil {
		s.apiError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, agentResponses(agents))
}

// handleListOffline returns the known-but-offline agents: the ones that
// registered at some point but whose telemetry channel is currently down.
func (s *Server) handleListOffline(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListOfflineAgents(r.Context())
	if err != nil {
		s.apiError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, agentResponses(agents))
}

// handleAgentReports returns one agent's samples within a time window.
// Bounds arrive as epoch milliseconds; start defaults to 0 and end to now.
func (s *Server) handleAgentReports(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	start := time.Unix(0, 0)
	if v := r.URL.Query().Get("start"); v != "" {
		millis, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.apiError(w, http.StatusBadRequest, errors.New("start must be epoch milliseconds"))
			return
		}
		start = time.UnixMilli(millis)
	}

	end := time.Now()
	if v := r.URL.Query().Get("end"); v != "" {
		millis, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.apiError(w, http.StatusBadRequest, errors.New("end must be epoch milliseconds"))
			return
		}
		end = time.UnixMilli(millis)
	}

	records, err := s.store.ReportsByAgent(r.Context(), name, start, end)
	if err != nil {
		s.apiError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, reportResponses(records))
}

func (s *Server) handleLatestReports(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.LatestReports(r.Context())
	if err != nil {
		s.apiError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, reportResponses(records))
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	err := s.manager.DeleteAgent(r.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		s.apiError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.apiError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (s *Server) apiError(w http.ResponseWriter, status int, err error) {
	s.logger.Error("api error", "status", status, "error", err)
	writeJSON(w, status, protocol.ErrorReply{Error: err.Error()})
}

func agentResponses(agents []*store.AgentRecord) []AgentResponse {
	out := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, AgentResponse{
			Name:     a.Name,
			Address:  a.Address,
			Online:   a.Online,
			LastSeen: a.LastSeen.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func reportResponses(records []*store.ReportRecord) []ReportResponse {
	out := make([]ReportResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, ReportResponse{
			ID:            rec.ID,
			Name:          rec.Report.Name,
			OS:            rec.Report.OS,
			Load:          rec.Report.Load,
			CPUs:          rec.Report.CPUs,
			MemoryTotal:   rec.Report.MemoryTotal,
			MemoryUsed:    rec.Report.MemoryUsed,
			MemoryPercent: rec.Report.MemoryPercent,
			DiskTotal:     rec.Report.DiskTotal,
			DiskUsed:      rec.Report.DiskUsed,
			DiskPercent:   rec.Report.DiskPercent,
			Timestamp:     rec.Report.Timestamp.EpochMillis(),
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
