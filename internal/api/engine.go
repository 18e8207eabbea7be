package api

import (
	"net/http"

	"github.com/seantiz/enginehost/internal/engine"
	"github.com/seantiz/enginehost/internal/model"
	"github.com/seantiz/enginehost/internal/native"
)

// engineResponse is the JSON response for GET /v1/engine.
type engineResponse struct {
	State          model.EngineState      `json:"state"`
	Initialized    *bool                  `json:"initialized"`
	ExitCode       model.ResultCode       `json:"exit_code"`
	MinLogLevel    model.LogSeverity      `json:"min_log_level"`
	Version        native.VersionInfo     `json:"version"`
	Capabilities   native.Capabilities    `json:"capabilities"`
	Disposables    int                    `json:"disposables"`
	DrainTimeoutMS int64                  `json:"drain_timeout_ms"`
	CrashReporting bool                   `json:"crash_reporting"`
	LastShutdown   *model.ShutdownSession `json:"last_shutdown,omitempty"`
}

func (s *Server) handleGetEngine(w http.ResponseWriter, _ *http.Request) {
	rt := s.runtime
	resp := engineResponse{
		State:          rt.State(),
		ExitCode:       rt.ExitCode(),
		MinLogLevel:    rt.MinLogLevel(),
		Version:        rt.Version(),
		Capabilities:   rt.Capabilities(),
		Disposables:    rt.Disposables().Len(),
		DrainTimeoutMS: rt.DrainTimeout().Milliseconds(),
		CrashReporting: rt.CrashReportingEnabled(),
	}
	if initialized, known := rt.IsInitialized(); known {
		resp.Initialized = &initialized
	}
	if sess, ok := rt.LastShutdownSession(); ok {
		resp.LastShutdown = &sess
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQuit(w http.ResponseWriter, _ *http.Request) {
	if s.runtime.IsShutdown() {
		s.writeError(w, http.StatusConflict, "engine already shut down")
		return
	}
	if s.quit == nil {
		s.writeError(w, http.StatusNotImplemented, "quit is not supported by this host")
		return
	}
	s.logger.Info("quit requested over HTTP")
	s.quit()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "quitting"})
}

func (s *Server) handleListEngines(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

// disposablesResponse is the JSON response for GET /v1/disposables.
type disposablesResponse struct {
	Handles []engine.HandleInfo `json:"handles"`
	Total   int                 `json:"total"`
}

func (s *Server) handleListDisposables(w http.ResponseWriter, _ *http.Request) {
	handles := s.runtime.Disposables().Snapshot()
	s.writeJSON(w, http.StatusOK, disposablesResponse{
		Handles: handles,
		Total:   len(handles),
	})
}
