package httpserver

import (
	"log/slog"
	"net/http"
)

// HealthResponse is the JSON response for the health check endpoint
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version,omitempty"`
	DomainSessions int    `json:"domain_sessions"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.deps.Version,
	}
	if s.deps.Domain != nil {
		resp.DomainSessions = s.deps.Domain.OpenCount()
	}

	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		// Best-effort: headers/status may already be written.
		slog.Error("failed to encode health response", "error", err)
	}
}
