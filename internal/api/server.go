// Package api serves the operator HTTP surface over the engine runtime:
// health, metrics, lifecycle state and events, the shutdown journal, and the
// runtime controls exposed by the engine.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/enginehost/internal/engine"
	"github.com/seantiz/enginehost/internal/native"
	"github.com/seantiz/enginehost/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Server wraps the chi router and application dependencies.
type Server struct {
	router   *chi.Mux
	store    store.Store
	registry *native.Registry
	runtime  *engine.Runtime
	logger   *slog.Logger
	addr     string
	quit     func()
}

// NewServer creates and configures a new HTTP server. quit is called by
// POST /v1/engine/quit and should start the host's shutdown; it may be nil.
func NewServer(addr string, s store.Store, reg *native.Registry, rt *engine.Runtime, logger *slog.Logger, quit func()) *Server {
	srv := &Server{
		router:   chi.NewRouter(),
		store:    s,
		registry: reg,
		runtime:  rt,
		logger:   logger,
		addr:     addr,
		quit:     quit,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Get("/v1/engines", s.handleListEngines)
	s.router.Get("/v1/stats", s.handleGetStats)

	s.router.Route("/v1/engine", func(r chi.Router) {
		r.Get("/", s.handleGetEngine)
		r.Post("/quit", s.handleQuit)
	})
	s.router.Get("/v1/disposables", s.handleListDisposables)
	s.router.Get("/v1/events", s.handleStreamEvents)
	s.router.Get("/v1/transitions", s.handleListTransitions)

	s.router.Route("/v1/shutdown-sessions", func(r chi.Router) {
		r.Get("/", s.handleListShutdownSessions)
		r.Get("/{id}", s.handleGetShutdownSession)
	})

	s.router.Route("/v1/cross-origin", func(r chi.Router) {
		r.Post("/", s.handleAddCrossOrigin)
		r.Delete("/", s.handleRemoveCrossOrigin)
		r.Delete("/all", s.handleClearCrossOrigin)
	})

	s.router.Put("/v1/crash-keys/{key}", s.handleSetCrashKey)
	s.router.Post("/v1/threads/{thread}/probe", s.handleProbeThread)
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Serve starts the HTTP server and blocks until ctx is cancelled, then shuts
// the server down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down server", "cause", context.Cause(ctx))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
