package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/enginehost/internal/model"
	"github.com/seantiz/enginehost/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// listTransitionsResponse wraps the paginated transition journal.
type listTransitionsResponse struct {
	Transitions []model.Transition `json:"transitions"`
	Total       int                `json:"total"`
	Limit       int                `json:"limit"`
	Offset      int                `json:"offset"`
}

// listSessionsResponse wraps the paginated shutdown session list.
type listSessionsResponse struct {
	Sessions []*model.ShutdownSession `json:"sessions"`
	Total    int                      `json:"total"`
	Limit    int                      `json:"limit"`
	Offset   int                      `json:"offset"`
}

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	State string `json:"state"`
	*store.JournalStats
}

func pagination(r *http.Request) (limit, offset int) {
	limit = parseIntQuery(r, "limit", defaultListLimit)
	offset = parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Server) handleListTransitions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	transitions, total, err := s.store.ListTransitions(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list transitions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list transitions")
		return
	}

	s.writeJSON(w, http.StatusOK, listTransitionsResponse{
		Transitions: transitions,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
	})
}

func (s *Server) handleListShutdownSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	sessions, total, err := s.store.ListShutdownSessions(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list shutdown sessions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list shutdown sessions")
		return
	}

	s.writeJSON(w, http.StatusOK, listSessionsResponse{
		Sessions: sessions,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

func (s *Server) handleGetShutdownSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := model.ParseID(id); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid shutdown session id")
		return
	}

	sess, err := s.store.GetShutdownSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "shutdown session not found")
		return
	}
	if err != nil {
		s.logger.Error("get shutdown session", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get shutdown session")
		return
	}

	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetJournalStats(r.Context())
	if err != nil {
		s.logger.Error("get journal stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		State:        s.runtime.State().String(),
		JournalStats: stats,
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
