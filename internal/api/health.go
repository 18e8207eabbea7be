package api

import (
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

// handleHealthz reports 503 once the engine has shut down.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	state := s.runtime.State()
	if s.runtime.IsShutdown() {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "shutdown", State: state.String()})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", State: state.String()})
}
