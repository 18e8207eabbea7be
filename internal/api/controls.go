package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/enginehost/internal/engine"
	"github.com/seantiz/enginehost/internal/model"
	"github.com/seantiz/enginehost/internal/native"
)

// probeTimeout bounds how long a thread probe waits for its task to run.
const probeTimeout = 5 * time.Second

func (s *Server) decodeCrossOrigin(w http.ResponseWriter, r *http.Request) (native.CrossOriginEntry, bool) {
	var entry native.CrossOriginEntry
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return entry, false
	}
	if entry.SourceOrigin == "" || entry.TargetProtocol == "" {
		s.writeError(w, http.StatusBadRequest, "source_origin and target_protocol are required")
		return entry, false
	}
	return entry, true
}

func (s *Server) handleAddCrossOrigin(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.decodeCrossOrigin(w, r)
	if !ok {
		return
	}
	if !s.runtime.AddCrossOriginEntry(entry) {
		s.writeError(w, http.StatusUnprocessableEntity, "engine refused the cross-origin entry")
		return
	}
	s.writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleRemoveCrossOrigin(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.decodeCrossOrigin(w, r)
	if !ok {
		return
	}
	if !s.runtime.RemoveCrossOriginEntry(entry) {
		s.writeError(w, http.StatusUnprocessableEntity, "engine refused to remove the cross-origin entry")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearCrossOrigin(w http.ResponseWriter, _ *http.Request) {
	if !s.runtime.ClearCrossOriginEntries() {
		s.writeError(w, http.StatusUnprocessableEntity, "engine refused to clear the cross-origin list")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type crashKeyRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleSetCrashKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req crashKeyRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !s.runtime.CrashReportingEnabled() {
		s.writeError(w, http.StatusConflict, "crash reporting is not enabled")
		return
	}
	if !s.runtime.SetCrashKeyValue(key, req.Value) {
		s.writeError(w, http.StatusNotFound, "crash key is not declared")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// probeResponse is the JSON response for POST /v1/threads/{thread}/probe.
type probeResponse struct {
	Thread    string  `json:"thread"`
	LatencyMS float64 `json:"latency_ms"`
}

// handleProbeThread round-trips a no-op task through an engine thread.
func (s *Server) handleProbeThread(w http.ResponseWriter, r *http.Request) {
	thread, err := model.ParseThreadID(chi.URLParam(r, "thread"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	start := time.Now()
	err = s.runtime.Dispatcher().Invoke(ctx, thread, func() error { return nil })
	switch {
	case errors.Is(err, engine.ErrDispatchRejected):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, "thread did not run the probe in time")
		return
	case err != nil:
		s.logger.Error("probe thread", "thread", thread.String(), "error", err)
		s.writeError(w, http.StatusInternalServerError, "probe failed")
		return
	}

	elapsed := time.Since(start)
	threadProbeDuration.WithLabelValues(thread.String()).Observe(elapsed.Seconds())
	s.writeJSON(w, http.StatusOK, probeResponse{
		Thread:    thread.String(),
		LatencyMS: float64(elapsed.Microseconds()) / 1000,
	})
}
